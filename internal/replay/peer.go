package replay

import (
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"github.com/route-beacon/mrt-replay/internal/bmp"
)

// RouterBGPID derives the synthetic BGP identifier announced for a
// replayed router: the FNV-1a hash of its name folded into four bytes.
// Deterministic across restarts and never zero, so the collector sees one
// stable router identity per name.
func RouterBGPID(router string) net.IP {
	h := fnv.New32a()
	h.Write([]byte(router))
	sum := h.Sum32()
	if sum == 0 {
		sum = 1
	}
	id := make(net.IP, net.IPv4len)
	id[0] = byte(sum >> 24)
	id[1] = byte(sum >> 16)
	id[2] = byte(sum >> 8)
	id[3] = byte(sum)
	return id
}

type peerState struct {
	header bmp.PeerHeader
	up     bool
	downed bool
	// lastSeen is the MRT timestamp of the last message forwarded for the
	// peer; reused for the per-peer header when the writer re-announces
	// after a reconnect.
	lastSeen time.Time
}

// Registry tracks the peers observed in this session and whether each has
// been announced. Processors write it sequentially; the writer snapshots
// it on reconnect, so access is guarded.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*peerState
	order []string
}

func NewRegistry() *Registry {
	return &Registry{peers: map[string]*peerState{}}
}

// BGP4MP records carry no peer BGP identifier, so the key omits it: a peer
// seen first in a PEER_INDEX_TABLE and later in an UPDATES archive is the
// same peer.
func peerKey(h bmp.PeerHeader) string {
	return fmt.Sprintf("%d|%d|%s|%d", h.Type, h.Distinguisher, h.Address.String(), h.AS)
}

// MarkUp records that hdr's peer is announced as of ts. It returns true
// when a Peer-Up must be emitted: the peer is new to the session, or it
// had been downed and this re-arms it.
func (r *Registry) MarkUp(hdr bmp.PeerHeader, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := peerKey(hdr)
	p, ok := r.peers[key]
	if !ok {
		p = &peerState{header: hdr}
		r.peers[key] = p
		r.order = append(r.order, key)
	}
	if !ts.IsZero() {
		p.lastSeen = ts
	}
	if p.up {
		return false
	}
	p.up = true
	return true
}

// MarkDown records a transition out of Established. Returns true when the
// peer was announced and a Peer-Down should be emitted.
func (r *Registry) MarkDown(hdr bmp.PeerHeader, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerKey(hdr)]
	if !ok || !p.up {
		return false
	}
	p.up = false
	p.downed = true
	if !ts.IsZero() {
		p.lastSeen = ts
	}
	return true
}

// Touch updates the last-forwarded timestamp for an announced peer.
func (r *Registry) Touch(hdr bmp.PeerHeader, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerKey(hdr)]; ok && ts.After(p.lastSeen) {
		p.lastSeen = ts
	}
}

// AnnouncedPeer is a snapshot row for the writer's reconnect re-announce.
type AnnouncedPeer struct {
	Header   bmp.PeerHeader
	LastSeen time.Time
}

// Snapshot returns the currently announced peers in announcement order.
func (r *Registry) Snapshot() []AnnouncedPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AnnouncedPeer, 0, len(r.order))
	for _, key := range r.order {
		p := r.peers[key]
		if p.up {
			out = append(out, AnnouncedPeer{Header: p.header, LastSeen: p.lastSeen})
		}
	}
	return out
}
