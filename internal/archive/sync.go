package archive

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"go.uber.org/zap"
)

// ContinuityError reports a timestamp gap between consecutive UPDATES
// archives larger than the configured limit. The newer file is withheld
// until the abnormality flag is set or an intermediate file appears.
type ContinuityError struct {
	Prev time.Time
	Next time.Time
	Gap  time.Duration
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("archive: %s gap between updates %s and %s exceeds continuity limit",
		e.Gap, e.Prev.Format("20060102.1504"), e.Next.Format("20060102.1504"))
}

// Synchronizer keeps one router's master directory populated from a
// mirror: it lists the monthly indexes, downloads new archives,
// decompresses them, and stages them atomically. Staged files become
// visible to the processors only after the final rename, so a file
// visible in the master directory is always fully written.
type Synchronizer struct {
	mirror       Mirror
	router       string
	client       *http.Client
	masterDir    string
	processedDir string

	intervalLimit     time.Duration
	ignoreAbnormality bool
	pollInterval      time.Duration

	logger *zap.Logger

	// now is swappable for tests; it bounds which monthly indexes are
	// listed.
	now func() time.Time
}

func NewSynchronizer(mirror Mirror, router string, client *http.Client, masterDir, processedDir string,
	intervalLimitMinutes int, ignoreAbnormality bool, pollIntervalSeconds int, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		mirror:            mirror,
		router:            router,
		client:            client,
		masterDir:         masterDir,
		processedDir:      processedDir,
		intervalLimit:     time.Duration(intervalLimitMinutes) * time.Minute,
		ignoreAbnormality: ignoreAbnormality,
		pollInterval:      time.Duration(pollIntervalSeconds) * time.Second,
		logger:            logger,
		now:               time.Now,
	}
}

// Run polls the mirror at the configured cadence until the context is
// cancelled. Transport errors are logged and retried on the next poll;
// only context cancellation ends the loop.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("poll failed, will retry", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce lists the remote indexes once and stages every new archive in
// timestamp order. A continuity violation stops staging before the
// offending file; staging resumes automatically once an intermediate file
// appears upstream or the abnormality flag is set.
func (s *Synchronizer) PollOnce(ctx context.Context) error {
	remote, err := s.listRemote(ctx)
	if err != nil {
		return err
	}

	newest, err := NewestTimestamp(s.masterDir, s.processedDir)
	if err != nil {
		return err
	}
	lastUpdates, err := NewestUpdatesTimestamp(s.masterDir, s.processedDir)
	if err != nil {
		return err
	}

	if newest.IsZero() {
		// Fresh start: replay begins at the most recent RIB snapshot.
		remote = trimToNewestRIB(remote)
	}

	// A RIB and an UPDATES archive can share a timestamp, the RIB sorting
	// first; when the newest local file is such a RIB, the UPDATES file at
	// the same timestamp is still new.
	newestIsUpdates := !lastUpdates.IsZero() && lastUpdates.Equal(newest)

	for _, f := range remote {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if f.Timestamp.Before(newest) ||
			(f.Timestamp.Equal(newest) && (f.Kind == KindRIB || newestIsUpdates)) {
			continue
		}

		if f.Kind == KindUpdates && !lastUpdates.IsZero() {
			if gap := f.Timestamp.Sub(lastUpdates); gap > s.intervalLimit {
				cerr := &ContinuityError{Prev: lastUpdates, Next: f.Timestamp, Gap: gap}
				metrics.ContinuityAnomaliesTotal.WithLabelValues(s.router).Inc()
				if !s.ignoreAbnormality {
					s.logger.Warn("withholding updates file past continuity limit",
						zap.String("file", f.Name),
						zap.Duration("gap", gap),
						zap.Duration("limit", s.intervalLimit),
					)
					return cerr
				}
				s.logger.Warn("staging updates file despite continuity anomaly",
					zap.String("file", f.Name),
					zap.Duration("gap", gap),
				)
			}
		}

		if err := s.stage(ctx, f); err != nil {
			return err
		}
		newest = f.Timestamp
		newestIsUpdates = f.Kind == KindUpdates
		if f.Kind == KindUpdates {
			lastUpdates = f.Timestamp
		}
	}
	return nil
}

func (s *Synchronizer) listRemote(ctx context.Context) ([]File, error) {
	now := s.now().UTC()
	months := []time.Time{now.AddDate(0, -1, 0), now}

	var files []File
	seen := map[string]bool{}
	for _, month := range months {
		for _, dir := range s.mirror.MonthDirs(s.router, month) {
			names, err := ListIndex(ctx, s.client, dir)
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				f, ok := ParseFileName(name)
				if !ok || seen[f.Name] {
					continue
				}
				seen[f.Name] = true
				f.Path = dir + name
				files = append(files, f)
			}
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Timestamp.Equal(files[j].Timestamp) {
			return files[i].Kind == KindRIB && files[j].Kind == KindUpdates
		}
		return files[i].Timestamp.Before(files[j].Timestamp)
	})
	return files, nil
}

// trimToNewestRIB drops everything before the most recent RIB so a fresh
// replay starts from a snapshot rather than mid-stream updates.
func trimToNewestRIB(files []File) []File {
	for i := len(files) - 1; i >= 0; i-- {
		if files[i].Kind == KindRIB {
			return files[i:]
		}
	}
	return nil
}

// stage downloads one archive, decompresses it, and makes it visible with
// an atomic rename from the .partial name.
func (s *Synchronizer) stage(ctx context.Context, f File) error {
	if err := os.MkdirAll(s.masterDir, 0o755); err != nil {
		return fmt.Errorf("creating master directory: %w", err)
	}

	partial := filepath.Join(s.masterDir, f.Name+".partial")
	final := filepath.Join(s.masterDir, f.Name)

	n, err := s.download(ctx, f, partial)
	if err != nil {
		// One retry on transport error before giving the poll up.
		s.logger.Warn("download failed, retrying once", zap.String("url", f.Path), zap.Error(err))
		n, err = s.download(ctx, f, partial)
		if err != nil {
			os.Remove(partial)
			return fmt.Errorf("downloading %s: %w", f.Path, err)
		}
	}

	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return fmt.Errorf("staging %s: %w", f.Name, err)
	}

	metrics.FilesStagedTotal.WithLabelValues(s.router, f.Kind.String()).Inc()
	metrics.BytesDownloadedTotal.WithLabelValues(s.router).Add(float64(n))
	s.logger.Info("staged archive",
		zap.String("file", f.Name),
		zap.String("kind", f.Kind.String()),
		zap.Int64("compressed_bytes", n),
	)
	return nil
}

func (s *Synchronizer) download(ctx context.Context, f File, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %s", resp.Status)
	}

	body := &countingReader{r: resp.Body}
	var src io.Reader
	switch f.Compress {
	case "gz":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return body.n, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		src = gz
	case "bz2":
		src = bzip2.NewReader(body)
	default:
		src = body
	}

	out, err := os.Create(dst)
	if err != nil {
		return body.n, err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return body.n, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return body.n, err
	}
	return body.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
