package replay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"github.com/route-beacon/mrt-replay/internal/bmp"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"github.com/route-beacon/mrt-replay/internal/mrt"
	"go.uber.org/zap"
)

const idleScanInterval = time.Second

// UpdateProcessor replays staged UPDATES archives in chronological order,
// forwarding each archived BGP message verbatim inside a Route-Monitoring
// message. Peers seen for the first time get a lazy Peer-Up; state-change
// records translate to Peer-Down and re-armed Peer-Up.
type UpdateProcessor struct {
	reg          *Registry
	sink         Sink
	writer       *Writer
	router       string
	masterDir    string
	processedDir string
	emitPeerDown bool
	logger       *zap.Logger
}

func NewUpdateProcessor(reg *Registry, sink Sink, writer *Writer, router, masterDir, processedDir string, emitPeerDown bool, logger *zap.Logger) *UpdateProcessor {
	return &UpdateProcessor{
		reg:          reg,
		sink:         sink,
		writer:       writer,
		router:       router,
		masterDir:    masterDir,
		processedDir: processedDir,
		emitPeerDown: emitPeerDown,
		logger:       logger,
	}
}

// Run consumes staged UPDATES files until the context is cancelled. The
// first file may share the handed-off timestamp (a RIB and an UPDATES
// archive are published on the same cadence boundary); every later file
// must be strictly newer than the last one processed.
func (p *UpdateProcessor) Run(ctx context.Context, after time.Time) error {
	last := after
	inclusive := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, ok, err := p.nextFile(last, inclusive)
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleScanInterval):
			}
			continue
		}

		if err := p.processFile(ctx, f); err != nil {
			return err
		}
		last = f.Timestamp
		inclusive = false
	}
}

func (p *UpdateProcessor) nextFile(after time.Time, inclusive bool) (archive.File, bool, error) {
	files, err := archive.ScanDir(p.masterDir)
	if err != nil {
		return archive.File{}, false, err
	}
	for _, f := range files {
		if f.Kind != archive.KindUpdates {
			continue
		}
		if f.Timestamp.After(after) || (inclusive && f.Timestamp.Equal(after)) {
			return f, true, nil
		}
	}
	return archive.File{}, false, nil
}

func (p *UpdateProcessor) processFile(ctx context.Context, f archive.File) error {
	fd, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("opening updates %s: %w", f.Path, err)
	}
	defer fd.Close()

	r := mrt.NewReader(fd)
	records := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var merr *mrt.MalformedError
			if errors.As(err, &merr) {
				p.logger.Error("malformed record, retiring updates as bad",
					zap.String("file", f.Name),
					zap.Int("records_forwarded", records),
					zap.Error(merr),
				)
				metrics.ParseErrorsTotal.WithLabelValues("updates", "malformed").Inc()
				return retire(f, p.processedDir, p.router, true)
			}
			return err
		}

		if err := p.handleRecord(ctx, rec); err != nil {
			return err
		}
		records++
	}

	p.logger.Info("updates replay complete",
		zap.String("file", f.Name),
		zap.Int("records", records),
	)
	return retire(f, p.processedDir, p.router, false)
}

func (p *UpdateProcessor) handleRecord(ctx context.Context, rec mrt.Record) error {
	switch m := rec.(type) {
	case *mrt.BGP4MPMessage:
		metrics.RecordsDecodedTotal.WithLabelValues("bgp4mp_message").Inc()
		hdr := peerFromBGP4MP(m.PeerAddress, m.PeerAS)
		if p.reg.MarkUp(hdr, m.Timestamp) {
			if err := p.sink.Emit(ctx, p.writer.PeerUpMessage(hdr, m.Timestamp)); err != nil {
				return err
			}
		}
		// The archived BGP message is forwarded byte-for-byte.
		if err := p.sink.Emit(ctx, bmp.RouteMonitoring(hdr, m.Timestamp, m.Data)); err != nil {
			return err
		}
		p.reg.Touch(hdr, m.Timestamp)
		metrics.LastRecordTimestamp.WithLabelValues(p.router).Set(float64(m.Timestamp.Unix()))

	case *mrt.BGP4MPStateChange:
		metrics.RecordsDecodedTotal.WithLabelValues("bgp4mp_state_change").Inc()
		hdr := peerFromBGP4MP(m.PeerAddress, m.PeerAS)
		if m.NewState == mrt.StateEstablished {
			if p.reg.MarkUp(hdr, m.Timestamp) {
				if err := p.sink.Emit(ctx, p.writer.PeerUpMessage(hdr, m.Timestamp)); err != nil {
					return err
				}
			}
			return nil
		}
		if p.reg.MarkDown(hdr, m.Timestamp) && p.emitPeerDown {
			var fsm [2]byte
			binary.BigEndian.PutUint16(fsm[:], m.NewState)
			msg := bmp.PeerDown(hdr, m.Timestamp, bmp.PeerDownLocalNoNotification, fsm[:])
			if err := p.sink.Emit(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}
