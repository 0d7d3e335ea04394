package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/route-beacon/mrt-replay/internal/bmp"
	"go.uber.org/zap"
)

// readBMPMessage reads one framed BMP message from the collector side.
func readBMPMessage(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	hdr := make([]byte, bmp.CommonHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		t.Fatalf("reading common header: %v", err)
	}
	length := binary.BigEndian.Uint32(hdr[1:5])
	msg := make([]byte, length)
	copy(msg, hdr)
	if _, err := io.ReadFull(r, msg[bmp.CommonHeaderSize:]); err != nil {
		t.Fatalf("reading message body: %v", err)
	}
	return msg
}

func startCollector(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().String()
}

func acceptConn(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	ln.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWriter_InitiationFirstOnConnect(t *testing.T) {
	ln, addr := startCollector(t)

	reg := NewRegistry()
	w := NewWriter(addr, 16, reg, "test replay", "openbmp-mrt2bmp/test", RouterBGPID("test"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx, 100*time.Millisecond) }()

	conn := acceptConn(t, ln)
	r := bufio.NewReader(conn)

	first := readBMPMessage(t, r)
	if first[5] != bmp.MsgTypeInitiation {
		t.Fatalf("first message on the socket must be Initiation, got type %d", first[5])
	}

	rm := bmp.RouteMonitoring(bmp.PeerHeader{Address: net.IPv4(10, 0, 0, 1), AS: 65000}, time.Unix(100, 0), []byte{0xEE})
	if err := w.Emit(ctx, rm); err != nil {
		t.Fatal(err)
	}
	got := readBMPMessage(t, r)
	if !bytes.Equal(got, rm) {
		t.Error("queued message not forwarded unchanged")
	}

	cancel()
	<-done
}

func TestWriter_ReconnectReannounces(t *testing.T) {
	ln, addr := startCollector(t)

	reg := NewRegistry()
	peer := bmp.PeerHeader{Address: net.IPv4(10, 0, 0, 1), AS: 65000, BGPID: net.IPv4(192, 0, 2, 1)}
	reg.MarkUp(peer, time.Unix(100, 0))

	w := NewWriter(addr, 16, reg, "test replay", "openbmp-mrt2bmp/test", RouterBGPID("test"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx, 100*time.Millisecond) }()

	conn1 := acceptConn(t, ln)
	r1 := bufio.NewReader(conn1)
	if msg := readBMPMessage(t, r1); msg[5] != bmp.MsgTypeInitiation {
		t.Fatalf("expected Initiation, got type %d", msg[5])
	}
	if msg := readBMPMessage(t, r1); msg[5] != bmp.MsgTypePeerUp {
		t.Fatalf("expected Peer-Up for the announced peer, got type %d", msg[5])
	}

	// Drop the session. The writer only notices on a write, so keep
	// feeding messages until it reconnects; messages in flight may be
	// discarded.
	conn1.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		ln.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
		if c, err := ln.Accept(); err == nil {
			connCh <- c
		}
	}()

	var conn2 net.Conn
	deadline2 := time.Now().Add(5 * time.Second)
	for conn2 == nil {
		if time.Now().After(deadline2) {
			t.Fatal("writer never reconnected")
		}
		select {
		case c := <-connCh:
			conn2 = c
		case <-time.After(50 * time.Millisecond):
			rm := bmp.RouteMonitoring(peer, time.Unix(200, 0), []byte{0xDD})
			if err := w.Emit(ctx, rm); err != nil {
				t.Fatal(err)
			}
		}
	}
	defer conn2.Close()
	r2 := bufio.NewReader(conn2)
	if msg := readBMPMessage(t, r2); msg[5] != bmp.MsgTypeInitiation {
		t.Fatalf("reconnect must start with Initiation, got type %d", msg[5])
	}
	if msg := readBMPMessage(t, r2); msg[5] != bmp.MsgTypePeerUp {
		t.Fatalf("reconnect must re-announce peers, got type %d", msg[5])
	}

	// Replay resumes: a post-reconnect message arrives after the
	// re-announcement.
	marker := bmp.RouteMonitoring(peer, time.Unix(300, 0), []byte{0xCC})
	if err := w.Emit(ctx, marker); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("marker message never arrived after reconnect")
		}
		msg := readBMPMessage(t, r2)
		if bytes.Equal(msg, marker) {
			break
		}
		if msg[5] != bmp.MsgTypeRouteMonitoring {
			t.Fatalf("unexpected message type %d while draining", msg[5])
		}
	}

	cancel()
	<-done
}

func TestWriter_TerminationOnShutdown(t *testing.T) {
	ln, addr := startCollector(t)

	reg := NewRegistry()
	w := NewWriter(addr, 16, reg, "test replay", "openbmp-mrt2bmp/test", RouterBGPID("test"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx, time.Second) }()

	conn := acceptConn(t, ln)
	r := bufio.NewReader(conn)
	readBMPMessage(t, r) // Initiation

	rm := bmp.RouteMonitoring(bmp.PeerHeader{Address: net.IPv4(10, 0, 0, 1), AS: 65000}, time.Unix(100, 0), []byte{0xAB})
	if err := w.Emit(ctx, rm); err != nil {
		t.Fatal(err)
	}

	cancel()
	<-done

	// Everything queued before shutdown drains, then Termination closes
	// the stream.
	var last []byte
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		hdr := make([]byte, bmp.CommonHeaderSize)
		if _, err := io.ReadFull(r, hdr); err != nil {
			break
		}
		length := binary.BigEndian.Uint32(hdr[1:5])
		msg := make([]byte, length)
		copy(msg, hdr)
		if _, err := io.ReadFull(r, msg[bmp.CommonHeaderSize:]); err != nil {
			break
		}
		last = msg
	}
	if last == nil || last[5] != bmp.MsgTypeTermination {
		t.Fatal("expected Termination as the final message")
	}
}

func TestWriter_EmitBackpressureObservesCancellation(t *testing.T) {
	reg := NewRegistry()
	w := NewWriter("127.0.0.1:1", 1, reg, "d", "n", RouterBGPID("test"), zap.NewNop())

	ctx := context.Background()
	if err := w.Emit(ctx, []byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}

	// Queue full and nothing draining: Emit must unblock on cancellation.
	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := w.Emit(tctx, []byte{1, 2, 3, 4, 5, 6})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Emit did not observe cancellation promptly")
	}
}
