package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"github.com/route-beacon/mrt-replay/internal/bgp"
	"github.com/route-beacon/mrt-replay/internal/bmp"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"github.com/route-beacon/mrt-replay/internal/mrt"
	"go.uber.org/zap"
)

// RIBProcessor replays one RIB snapshot: it announces every peer of the
// PEER_INDEX_TABLE and then forwards the full table as Route-Monitoring
// messages. It runs exactly once per session.
type RIBProcessor struct {
	reg          *Registry
	sink         Sink
	writer       *Writer
	router       string
	processedDir string
	delay        time.Duration
	logger       *zap.Logger
}

func NewRIBProcessor(reg *Registry, sink Sink, writer *Writer, router, processedDir string, delaySeconds int, logger *zap.Logger) *RIBProcessor {
	return &RIBProcessor{
		reg:          reg,
		sink:         sink,
		writer:       writer,
		router:       router,
		processedDir: processedDir,
		delay:        time.Duration(delaySeconds) * time.Second,
		logger:       logger,
	}
}

// Process decodes the snapshot and emits Peer-Up for each indexed peer,
// waits the configured settle delay, then one Route-Monitoring per RIB
// entry carrying the entry's originated time. The file is retired to the
// processed directory when done; a malformed record retires it with a
// .bad suffix without aborting the pipeline.
func (p *RIBProcessor) Process(ctx context.Context, f archive.File) error {
	fd, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("opening rib %s: %w", f.Path, err)
	}
	defer fd.Close()

	r := mrt.NewReader(fd)

	index, err := p.readPeerIndex(r)
	if err != nil {
		var merr *mrt.MalformedError
		if errors.As(err, &merr) {
			p.logger.Error("malformed rib, retiring as bad", zap.String("file", f.Name), zap.Error(merr))
			metrics.ParseErrorsTotal.WithLabelValues("rib", "malformed").Inc()
			return retire(f, p.processedDir, p.router, true)
		}
		return err
	}

	peers := make([]bmp.PeerHeader, len(index.Peers))
	for i, e := range index.Peers {
		peers[i] = peerFromIndexEntry(e)
		if p.reg.MarkUp(peers[i], index.Timestamp) {
			if err := p.sink.Emit(ctx, p.writer.PeerUpMessage(peers[i], index.Timestamp)); err != nil {
				return err
			}
		}
	}
	p.logger.Info("announced rib peers",
		zap.String("file", f.Name),
		zap.Int("peers", len(peers)),
		zap.String("view", index.ViewName),
	)

	// Let the collector register the peers before the table flood.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.delay):
	}

	entries := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var merr *mrt.MalformedError
			if errors.As(err, &merr) {
				p.logger.Error("malformed record, retiring rib as bad",
					zap.String("file", f.Name),
					zap.Int("entries_forwarded", entries),
					zap.Error(merr),
				)
				metrics.ParseErrorsTotal.WithLabelValues("rib", "malformed").Inc()
				return retire(f, p.processedDir, p.router, true)
			}
			return err
		}

		dump, ok := rec.(*mrt.RIBDump)
		if !ok {
			continue
		}
		metrics.RecordsDecodedTotal.WithLabelValues("rib").Inc()

		for _, e := range dump.Entries {
			if int(e.PeerIndex) >= len(peers) {
				metrics.ParseErrorsTotal.WithLabelValues("rib", "peer_index").Inc()
				continue
			}
			msg, err := ribEntryUpdate(dump, e)
			if err != nil {
				metrics.ParseErrorsTotal.WithLabelValues("rib", "attributes").Inc()
				continue
			}
			hdr := peers[e.PeerIndex]
			if err := p.sink.Emit(ctx, bmp.RouteMonitoring(hdr, e.OriginatedTime, msg)); err != nil {
				return err
			}
			p.reg.Touch(hdr, e.OriginatedTime)
			entries++
		}
		metrics.LastRecordTimestamp.WithLabelValues(p.router).Set(float64(dump.Timestamp.Unix()))
	}

	p.logger.Info("rib replay complete",
		zap.String("file", f.Name),
		zap.Int("entries", entries),
	)
	return retire(f, p.processedDir, p.router, false)
}

func (p *RIBProcessor) readPeerIndex(r *mrt.Reader) (*mrt.PeerIndexTable, error) {
	rec, err := r.Next()
	if err != nil {
		return nil, err
	}
	index, ok := rec.(*mrt.PeerIndexTable)
	if !ok {
		return nil, &mrt.MalformedError{Reason: "rib does not begin with a peer index table"}
	}
	return index, nil
}

// ribEntryUpdate synthesizes the BGP UPDATE for one RIB entry: the
// archived attributes become the path attributes, the record's prefix
// becomes NLRI (IPv4) or MP_REACH_NLRI (IPv6).
func ribEntryUpdate(dump *mrt.RIBDump, e mrt.RIBEntry) ([]byte, error) {
	if dump.AFI == bgp.AFIIPv6 {
		return bgp.BuildUpdateV6(e.Attributes, dump.PrefixLen, dump.Prefix)
	}
	return bgp.BuildUpdateV4(e.Attributes, dump.PrefixLen, dump.Prefix), nil
}
