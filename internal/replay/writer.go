package replay

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/route-beacon/mrt-replay/internal/bgp"
	"github.com/route-beacon/mrt-replay/internal/bmp"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"go.uber.org/zap"
)

const (
	// synthetic session parameters for Peer-Up messages
	bgpPort      = 179
	openHoldTime = 180

	maxConnectBackoff = 60 * time.Second
	writeTimeout      = 60 * time.Second
)

// Sink accepts encoded BMP messages from the processors.
type Sink interface {
	Emit(ctx context.Context, msg []byte) error
}

// Writer owns the TCP session to the collector. It drains the bounded
// forwarding queue and guarantees that every (re)connected socket starts
// with an Initiation followed by Peer-Ups for all announced peers before
// any queued message.
type Writer struct {
	addr        string
	sysDescr    string
	sysName     string
	routerBGPID net.IP

	queue chan []byte
	reg   *Registry

	logger    *zap.Logger
	connected atomic.Bool
}

func NewWriter(addr string, queueSize int, reg *Registry, sysDescr, sysName string, routerBGPID net.IP, logger *zap.Logger) *Writer {
	return &Writer{
		addr:        addr,
		sysDescr:    sysDescr,
		sysName:     sysName,
		routerBGPID: routerBGPID,
		queue:       make(chan []byte, queueSize),
		reg:         reg,
		logger:      logger,
	}
}

// Connected reports whether a collector session is currently established.
func (w *Writer) Connected() bool { return w.connected.Load() }

// Emit enqueues one encoded message, blocking when the queue is full so
// producers see backpressure. Returns the context error on cancellation.
func (w *Writer) Emit(ctx context.Context, msg []byte) error {
	select {
	case w.queue <- msg:
		metrics.QueueDepth.Set(float64(len(w.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PeerUpMessage builds the Peer-Up for a peer using synthetic OPENs. The
// sent OPEN speaks for the replayed router (its BGP-ID, the peer's AS —
// the archive does not record the local AS); the received OPEN speaks for
// the peer.
func (w *Writer) PeerUpMessage(hdr bmp.PeerHeader, ts time.Time) []byte {
	sent := bgp.BuildOpen(hdr.AS, w.routerBGPID, openHoldTime)
	recv := bgp.BuildOpen(hdr.AS, hdr.BGPID, openHoldTime)
	return bmp.PeerUp(hdr, ts, net.IPv4zero, bgpPort, bgpPort, sent, recv)
}

// Run connects, announces, and drains until the context is cancelled.
// On a write error the in-flight message is discarded, the socket closed,
// and the session rebuilt from Initiation + Peer-Ups.
func (w *Writer) Run(ctx context.Context, grace time.Duration) {
	defer metrics.CollectorConnected.Set(0)

	first := true
	for {
		conn := w.connect(ctx)
		if conn == nil {
			return
		}
		if !first {
			metrics.CollectorReconnectsTotal.Inc()
		}
		first = false

		w.connected.Store(true)
		metrics.CollectorConnected.Set(1)

		err := w.session(ctx, conn)
		w.connected.Store(false)
		metrics.CollectorConnected.Set(0)

		if ctx.Err() != nil {
			w.shutdown(conn, grace)
			conn.Close()
			return
		}

		w.logger.Warn("collector session lost, reconnecting", zap.Error(err))
		conn.Close()
	}
}

func (w *Writer) connect(ctx context.Context) net.Conn {
	backoff := time.Second
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", w.addr)
		if err == nil {
			w.logger.Info("connected to collector", zap.String("addr", w.addr))
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("collector connect failed",
			zap.String("addr", w.addr),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxConnectBackoff {
			backoff = maxConnectBackoff
		}
	}
}

// session announces the stream state and then forwards queued messages
// until a write fails or the context ends.
func (w *Writer) session(ctx context.Context, conn net.Conn) error {
	if err := w.announce(conn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-w.queue:
			metrics.QueueDepth.Set(float64(len(w.queue)))
			if err := w.write(conn, msg); err != nil {
				return err
			}
		}
	}
}

// announce sends Initiation followed by a Peer-Up for every announced
// peer, rebuilding the collector's view of the session.
func (w *Writer) announce(conn net.Conn) error {
	if err := w.write(conn, bmp.Initiation(w.sysDescr, w.sysName)); err != nil {
		return fmt.Errorf("sending initiation: %w", err)
	}
	for _, p := range w.reg.Snapshot() {
		if err := w.write(conn, w.PeerUpMessage(p.Header, p.LastSeen)); err != nil {
			return fmt.Errorf("re-announcing peer %s: %w", p.Header.Address, err)
		}
	}
	return nil
}

// shutdown drains what it can within the grace period, then sends
// Termination.
func (w *Writer) shutdown(conn net.Conn, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		select {
		case msg := <-w.queue:
			if err := w.write(conn, msg); err != nil {
				return
			}
		default:
			if err := w.write(conn, bmp.Termination(bmp.TermReasonAdminClose)); err == nil {
				w.logger.Info("termination sent")
			}
			return
		}
	}
	w.write(conn, bmp.Termination(bmp.TermReasonAdminClose))
}

func (w *Writer) write(conn net.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(msg); err != nil {
		return err
	}
	if len(msg) > 5 {
		metrics.MessagesEmittedTotal.WithLabelValues(msgTypeName(msg[5])).Inc()
	}
	return nil
}

func msgTypeName(t uint8) string {
	switch t {
	case bmp.MsgTypeRouteMonitoring:
		return "route_monitoring"
	case bmp.MsgTypePeerDown:
		return "peer_down"
	case bmp.MsgTypePeerUp:
		return "peer_up"
	case bmp.MsgTypeInitiation:
		return "initiation"
	case bmp.MsgTypeTermination:
		return "termination"
	default:
		return "other"
	}
}
