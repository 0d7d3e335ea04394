package bmp

import (
	"encoding/binary"
	"net"
	"time"
)

// PeerHeader holds the identity fields of the BMP per-peer header. The
// timestamp is supplied per message: it carries the MRT record time, not
// wall-clock time, so downstream analytics see the archive's chronology.
type PeerHeader struct {
	Type          uint8
	Distinguisher uint64
	Address       net.IP
	AS            uint32
	BGPID         net.IP
}

// IPv6 reports whether the peer address is an IPv6 address.
func (p PeerHeader) IPv6() bool {
	return p.Address.To4() == nil && p.Address.To16() != nil
}

func (p PeerHeader) encode(buf []byte, ts time.Time) {
	buf[0] = p.Type
	if p.IPv6() {
		buf[1] = PeerFlagIPv6
	}
	binary.BigEndian.PutUint64(buf[2:10], p.Distinguisher)
	// Peer address: 16 bytes, IPv4 right-aligned (RFC 7854 Section 4.2).
	if v4 := p.Address.To4(); v4 != nil {
		copy(buf[22:26], v4)
	} else if v6 := p.Address.To16(); v6 != nil {
		copy(buf[10:26], v6)
	}
	binary.BigEndian.PutUint32(buf[26:30], p.AS)
	if id := p.BGPID.To4(); id != nil {
		copy(buf[30:34], id)
	}
	if !ts.IsZero() {
		binary.BigEndian.PutUint32(buf[34:38], uint32(ts.Unix()))
		binary.BigEndian.PutUint32(buf[38:42], uint32(ts.Nanosecond()/1000))
	}
}

func newMessage(msgType uint8, bodyLen int) []byte {
	msg := make([]byte, CommonHeaderSize+bodyLen)
	msg[0] = BMPVersion
	binary.BigEndian.PutUint32(msg[1:5], uint32(len(msg)))
	msg[5] = msgType
	return msg
}

func appendTLV(buf []byte, tlvType uint16, value []byte) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], tlvType)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	buf = append(buf, hdr[:]...)
	return append(buf, value...)
}

// Initiation builds a BMP Initiation message carrying sysDescr and sysName
// TLVs (RFC 7854 Section 4.3).
func Initiation(sysDescr, sysName string) []byte {
	var tlvs []byte
	tlvs = appendTLV(tlvs, TLVTypeSysDescr, []byte(sysDescr))
	tlvs = appendTLV(tlvs, TLVTypeSysName, []byte(sysName))

	msg := newMessage(MsgTypeInitiation, len(tlvs))
	copy(msg[CommonHeaderSize:], tlvs)
	return msg
}

// PeerUp builds a BMP Peer Up (RFC 7854 Section 4.10): per-peer header,
// local address (16 bytes, IPv4 right-aligned), local and remote port,
// then the sent and received OPEN messages.
func PeerUp(peer PeerHeader, ts time.Time, localAddr net.IP, localPort, remotePort uint16, sentOpen, recvOpen []byte) []byte {
	bodyLen := PerPeerHeaderSize + 16 + 2 + 2 + len(sentOpen) + len(recvOpen)
	msg := newMessage(MsgTypePeerUp, bodyLen)

	off := CommonHeaderSize
	peer.encode(msg[off:off+PerPeerHeaderSize], ts)
	off += PerPeerHeaderSize

	if v4 := localAddr.To4(); v4 != nil {
		copy(msg[off+12:off+16], v4)
	} else if v6 := localAddr.To16(); v6 != nil {
		copy(msg[off:off+16], v6)
	}
	off += 16
	binary.BigEndian.PutUint16(msg[off:off+2], localPort)
	off += 2
	binary.BigEndian.PutUint16(msg[off:off+2], remotePort)
	off += 2
	copy(msg[off:], sentOpen)
	off += len(sentOpen)
	copy(msg[off:], recvOpen)
	return msg
}

// RouteMonitoring builds a BMP Route Monitoring message wrapping a
// complete BGP message.
func RouteMonitoring(peer PeerHeader, ts time.Time, bgpMsg []byte) []byte {
	msg := newMessage(MsgTypeRouteMonitoring, PerPeerHeaderSize+len(bgpMsg))
	peer.encode(msg[CommonHeaderSize:CommonHeaderSize+PerPeerHeaderSize], ts)
	copy(msg[CommonHeaderSize+PerPeerHeaderSize:], bgpMsg)
	return msg
}

// PeerDown builds a BMP Peer Down (RFC 7854 Section 4.9) with the given
// reason code and reason-specific data.
func PeerDown(peer PeerHeader, ts time.Time, reason uint8, data []byte) []byte {
	msg := newMessage(MsgTypePeerDown, PerPeerHeaderSize+1+len(data))
	peer.encode(msg[CommonHeaderSize:CommonHeaderSize+PerPeerHeaderSize], ts)
	msg[CommonHeaderSize+PerPeerHeaderSize] = reason
	copy(msg[CommonHeaderSize+PerPeerHeaderSize+1:], data)
	return msg
}

// Termination builds a BMP Termination message with a reason TLV
// (RFC 7854 Section 4.5).
func Termination(reason uint16) []byte {
	var val [2]byte
	binary.BigEndian.PutUint16(val[:], reason)
	tlvs := appendTLV(nil, TermTLVTypeReason, val[:])

	msg := newMessage(MsgTypeTermination, len(tlvs))
	copy(msg[CommonHeaderSize:], tlvs)
	return msg
}
