package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPruneOnce(t *testing.T) {
	processed := t.TempDir()
	touch(t, processed, "rib.20240101.0000")
	touch(t, processed, "updates.20240101.0015.bad")
	touch(t, processed, "updates.20240114.0900")
	touch(t, processed, "notes.txt")

	p := NewPruner(processed, 7, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	if err := p.PruneOnce(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(processed)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 survivors, got %v", names)
	}
	for _, n := range names {
		if n != "updates.20240114.0900" && n != "notes.txt" {
			t.Errorf("unexpected survivor %s", n)
		}
	}
}

func TestPruneOnce_DisabledRetention(t *testing.T) {
	processed := t.TempDir()
	touch(t, processed, "rib.20200101.0000")

	p := NewPruner(processed, 0, zap.NewNop())
	if err := p.PruneOnce(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(processed, "rib.20200101.0000")); err != nil {
		t.Error("file removed despite disabled retention")
	}
}
