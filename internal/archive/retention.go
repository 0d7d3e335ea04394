package archive

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Pruner removes processed archives older than the retention window. With
// retention disabled (0 days) processed files are kept forever.
type Pruner struct {
	processedDir  string
	retentionDays int
	logger        *zap.Logger

	now func() time.Time
}

func NewPruner(processedDir string, retentionDays int, logger *zap.Logger) *Pruner {
	return &Pruner{
		processedDir:  processedDir,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Run prunes once a day until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	if p.retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if err := p.PruneOnce(); err != nil {
			p.logger.Warn("retention pruning failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneOnce deletes processed files whose embedded timestamp predates the
// retention cutoff. Files whose names cannot be parsed (including .bad
// rejects, which keep their timestamp in the name) are matched on the
// trimmed name; anything unrecognizable is left alone.
func (p *Pruner) PruneOnce() error {
	if p.retentionDays <= 0 {
		return nil
	}
	cutoff := p.now().UTC().AddDate(0, 0, -p.retentionDays)

	entries, err := os.ReadDir(p.processedDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 4 && name[len(name)-4:] == ".bad" {
			name = name[:len(name)-4]
		}
		f, ok := ParseFileName(name)
		if !ok {
			p.logger.Warn("skipping processed file with unexpected name", zap.String("file", e.Name()))
			continue
		}
		if f.Timestamp.Before(cutoff) {
			path := filepath.Join(p.processedDir, e.Name())
			if err := os.Remove(path); err != nil {
				return err
			}
			p.logger.Info("pruned processed archive",
				zap.String("file", e.Name()),
				zap.Time("cutoff", cutoff),
			)
		}
	}
	return nil
}
