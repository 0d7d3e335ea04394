package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"go.uber.org/zap"
)

// MirrorSink receives a copy of every emitted message; the Kafka mirror
// implements it. Publication is fire-and-forget and never slows the
// collector path.
type MirrorSink interface {
	Publish(msg []byte)
}

// Tee forwards to the primary sink and mirrors a copy.
type Tee struct {
	Primary Sink
	Mirror  MirrorSink
}

func (t *Tee) Emit(ctx context.Context, msg []byte) error {
	if err := t.Primary.Emit(ctx, msg); err != nil {
		return err
	}
	t.Mirror.Publish(msg)
	return nil
}

// Supervisor wires the workers together: it starts the session writer and
// the synchronizer, waits for a RIB snapshot to appear, replays it, and
// then hands control to the UPDATE processor until shutdown.
type Supervisor struct {
	Writer   *Writer
	Sync     *archive.Synchronizer // nil when replaying locally staged files
	Pruner   *archive.Pruner       // nil when retention is disabled
	RIB      *RIBProcessor
	Updates  *UpdateProcessor
	Router   string
	Master   string
	Grace    time.Duration
	Logger   *zap.Logger
}

// Run blocks until the context is cancelled or a worker fails
// unrecoverably. Shutdown order: the writer drains the queue for the
// grace period and emits Termination before its socket closes.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Writer.Run(ctx, s.Grace)
	}()

	if s.Sync != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sync.Run(ctx)
		}()
	}
	if s.Pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Pruner.Run(ctx)
		}()
	}

	err := s.replay(ctx)
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Supervisor) replay(ctx context.Context) error {
	rib, err := s.waitForRIB(ctx)
	if err != nil {
		return err
	}

	s.Logger.Info("starting rib replay",
		zap.String("router", s.Router),
		zap.String("file", rib.Name),
	)
	if err := s.RIB.Process(ctx, rib); err != nil {
		return err
	}

	return s.Updates.Run(ctx, rib.Timestamp)
}

// waitForRIB blocks until the oldest staged RIB snapshot is visible in
// the master directory.
func (s *Supervisor) waitForRIB(ctx context.Context) (archive.File, error) {
	logged := false
	for {
		files, err := archive.ScanDir(s.Master)
		if err != nil {
			return archive.File{}, err
		}
		for _, f := range files {
			if f.Kind == archive.KindRIB {
				return f, nil
			}
		}
		if !logged {
			s.Logger.Info("waiting for a rib snapshot", zap.String("dir", s.Master))
			logged = true
		}
		select {
		case <-ctx.Done():
			return archive.File{}, ctx.Err()
		case <-time.After(idleScanInterval):
		}
	}
}
