package mrt

import (
	"net"
	"time"
)

// MRT record types (RFC 6396).
const (
	TypeTableDumpV2 uint16 = 13
	TypeBGP4MP      uint16 = 16
	TypeBGP4MPET    uint16 = 17
)

// TABLE_DUMP_V2 subtypes.
const (
	SubtypePeerIndexTable uint16 = 1
	SubtypeRIBIPv4Unicast uint16 = 2
	SubtypeRIBIPv6Unicast uint16 = 4
)

// BGP4MP subtypes.
const (
	SubtypeBGP4MPStateChange    uint16 = 0
	SubtypeBGP4MPMessage        uint16 = 1
	SubtypeBGP4MPMessageAS4     uint16 = 4
	SubtypeBGP4MPStateChangeAS4 uint16 = 5
)

// PeerEntry flag bits (RFC 6396 Section 4.3.1).
const (
	PeerFlagIPv6 uint8 = 0x01
	PeerFlagAS4  uint8 = 0x02
)

// BGP FSM states as carried in BGP4MP_STATE_CHANGE records.
const (
	StateIdle        uint16 = 1
	StateConnect     uint16 = 2
	StateActive      uint16 = 3
	StateOpenSent    uint16 = 4
	StateOpenConfirm uint16 = 5
	StateEstablished uint16 = 6
)

// CommonHeaderSize is the fixed MRT record header:
// timestamp(4) + type(2) + subtype(2) + length(4).
const CommonHeaderSize = 12

// Record is any decoded MRT record.
type Record interface {
	RecordTime() time.Time
}

// PeerEntry is one row of a PEER_INDEX_TABLE.
type PeerEntry struct {
	Type    uint8
	BGPID   net.IP
	Address net.IP
	AS      uint32
}

// IPv6 reports whether the peer address is an IPv6 address.
func (e PeerEntry) IPv6() bool { return e.Type&PeerFlagIPv6 != 0 }

// PeerIndexTable assigns small integers to peer identities; RIB entries
// reference peers by position in Peers.
type PeerIndexTable struct {
	Timestamp      time.Time
	CollectorBGPID net.IP
	ViewName       string
	Peers          []PeerEntry
}

func (r *PeerIndexTable) RecordTime() time.Time { return r.Timestamp }

// RIBEntry is one per-peer route within a RIB record. Attributes holds the
// raw BGP path attribute bytes exactly as archived.
type RIBEntry struct {
	PeerIndex      uint16
	OriginatedTime time.Time
	Attributes     []byte
}

// RIBDump is a RIB_IPV4_UNICAST or RIB_IPV6_UNICAST record: one prefix and
// the entries of every peer that carried it.
type RIBDump struct {
	Timestamp      time.Time
	AFI            uint16 // 1 = IPv4, 2 = IPv6
	SequenceNumber uint32
	PrefixLen      uint8
	Prefix         []byte // (PrefixLen+7)/8 bytes, as archived
	Entries        []RIBEntry
}

func (r *RIBDump) RecordTime() time.Time { return r.Timestamp }

// BGP4MPMessage wraps a raw BGP message exchanged with a peer. Data is the
// complete BGP message starting at the 16-byte marker, verbatim.
type BGP4MPMessage struct {
	Timestamp      time.Time
	PeerAS         uint32
	LocalAS        uint32
	InterfaceIndex uint16
	AFI            uint16
	PeerAddress    net.IP
	LocalAddress   net.IP
	Data           []byte
}

func (r *BGP4MPMessage) RecordTime() time.Time { return r.Timestamp }

// BGP4MPStateChange records a peer FSM transition.
type BGP4MPStateChange struct {
	Timestamp      time.Time
	PeerAS         uint32
	LocalAS        uint32
	InterfaceIndex uint16
	AFI            uint16
	PeerAddress    net.IP
	LocalAddress   net.IP
	OldState       uint16
	NewState       uint16
}

func (r *BGP4MPStateChange) RecordTime() time.Time { return r.Timestamp }
