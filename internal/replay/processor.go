package replay

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"github.com/route-beacon/mrt-replay/internal/bmp"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"github.com/route-beacon/mrt-replay/internal/mrt"
)

// retire moves a fully consumed file into the processed directory; files
// rejected for a malformed record keep a .bad suffix. A retired file is
// never decoded again.
func retire(f archive.File, processedDir, router string, bad bool) error {
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return fmt.Errorf("creating processed directory: %w", err)
	}
	name := f.Name
	if bad {
		name += ".bad"
	}
	if err := os.Rename(f.Path, filepath.Join(processedDir, name)); err != nil {
		return fmt.Errorf("retiring %s: %w", f.Name, err)
	}
	if bad {
		metrics.FilesBadTotal.WithLabelValues(router).Inc()
	} else {
		metrics.FilesProcessedTotal.WithLabelValues(router, f.Kind.String()).Inc()
	}
	return nil
}

// peerFromIndexEntry maps a PEER_INDEX_TABLE row to a BMP per-peer header.
func peerFromIndexEntry(e mrt.PeerEntry) bmp.PeerHeader {
	return bmp.PeerHeader{
		Type:    bmp.PeerTypeGlobal,
		Address: e.Address,
		AS:      e.AS,
		BGPID:   e.BGPID,
	}
}

// peerFromBGP4MP maps a BGP4MP record's peer fields to a BMP per-peer
// header. BGP4MP records carry no peer BGP identifier.
func peerFromBGP4MP(addr net.IP, as uint32) bmp.PeerHeader {
	return bmp.PeerHeader{
		Type:    bmp.PeerTypeGlobal,
		Address: addr,
		AS:      as,
	}
}
