package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Kind distinguishes RIB snapshots from UPDATE archives.
type Kind int

const (
	KindRIB Kind = iota
	KindUpdates
)

func (k Kind) String() string {
	if k == KindRIB {
		return "rib"
	}
	return "updates"
}

// File is one staged or remote MRT archive. Timestamp is embedded in the
// filename; archives are published on fixed cadences.
type File struct {
	Name      string // filename without any compression extension
	Path      string // absolute path for staged files, URL for remote ones
	Kind      Kind
	Timestamp time.Time
	Compress  string // "gz", "bz2", or "" for staged files
}

// rib.YYYYMMDD.HHMM.bz2 (RouteViews), bview.YYYYMMDD.HHMM.gz (RIPE RIS),
// updates.YYYYMMDD.HHMM.{gz,bz2}; staged files carry no compression suffix.
var fileNameRe = regexp.MustCompile(`^(rib|bview|updates)\.(\d{8})\.(\d{4})(?:\.(gz|bz2))?$`)

// ParseFileName classifies an archive filename and extracts its embedded
// timestamp. Returns false for names that are not MRT archives.
func ParseFileName(name string) (File, bool) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return File{}, false
	}
	ts, err := time.Parse("20060102.1504", m[2]+"."+m[3])
	if err != nil {
		return File{}, false
	}
	kind := KindUpdates
	if m[1] == "rib" || m[1] == "bview" {
		kind = KindRIB
	}
	f := File{
		Name:      strings.TrimSuffix(name, "."+m[4]),
		Kind:      kind,
		Timestamp: ts.UTC(),
		Compress:  m[4],
	}
	if m[4] == "" {
		f.Name = name
	}
	return f, true
}

// ScanDir lists the staged MRT files in a directory, sorted by timestamp
// ascending. Files with unrecognized names (including .partial downloads
// and .bad rejects) are ignored.
func ScanDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		f.Path = filepath.Join(dir, e.Name())
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Timestamp.Equal(files[j].Timestamp) {
			// A RIB and an UPDATES file can share a timestamp; replay the
			// snapshot first.
			return files[i].Kind == KindRIB && files[j].Kind == KindUpdates
		}
		return files[i].Timestamp.Before(files[j].Timestamp)
	})
	return files, nil
}

// NewestTimestamp returns the latest timestamp among the staged files in
// the given directories, or the zero time when none exist.
func NewestTimestamp(dirs ...string) (time.Time, error) {
	var newest time.Time
	for _, dir := range dirs {
		files, err := ScanDir(dir)
		if err != nil {
			return time.Time{}, err
		}
		for _, f := range files {
			if f.Timestamp.After(newest) {
				newest = f.Timestamp
			}
		}
	}
	return newest, nil
}

// NewestUpdatesTimestamp is NewestTimestamp restricted to UPDATES files;
// the continuity check only applies between consecutive UPDATES archives.
func NewestUpdatesTimestamp(dirs ...string) (time.Time, error) {
	var newest time.Time
	for _, dir := range dirs {
		files, err := ScanDir(dir)
		if err != nil {
			return time.Time{}, err
		}
		for _, f := range files {
			if f.Kind == KindUpdates && f.Timestamp.After(newest) {
				newest = f.Timestamp
			}
		}
	}
	return newest, nil
}
