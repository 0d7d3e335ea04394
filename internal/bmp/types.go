package bmp

// BMP message type codes (RFC 7854).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6
)

// BMP peer types.
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
)

// BMP header sizes.
const (
	CommonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	PerPeerHeaderSize = 42 // peer_type(1) + flags(1) + distinguisher(8) + addr(16) + AS(4) + BGPID(4) + ts_sec(4) + ts_usec(4)
)

// PeerFlagIPv6 is the V-bit in peer_flags (RFC 7854 Section 4.2): set when
// the peer address is IPv6.
const PeerFlagIPv6 uint8 = 0x80

// Initiation and Termination TLV type codes (RFC 7854 Sections 4.3, 4.5).
const (
	TLVTypeString   uint16 = 0
	TLVTypeSysDescr uint16 = 1
	TLVTypeSysName  uint16 = 2

	TermTLVTypeString uint16 = 0
	TermTLVTypeReason uint16 = 1
)

// Termination reason codes.
const (
	TermReasonAdminClose uint16 = 0
)

// Peer Down reason codes (RFC 7854 Section 4.9).
const (
	PeerDownLocalNotification   uint8 = 1
	PeerDownLocalNoNotification uint8 = 2
	PeerDownRemoteNotification  uint8 = 3
)

// BMPVersion is the emitted BMP protocol version.
const BMPVersion uint8 = 3
