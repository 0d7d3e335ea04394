package bgp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MessageLength validates the header of a BGP message and returns its
// declared length.
// BGP header: marker(16) + length(2) + type(1) = 19 bytes minimum.
func MessageLength(data []byte) (int, error) {
	if len(data) < BGPHeaderSize {
		return 0, fmt.Errorf("bgp: message too short (%d bytes)", len(data))
	}
	for i := 0; i < 16; i++ {
		if data[i] != 0xFF {
			return 0, fmt.Errorf("bgp: invalid marker at byte %d", i)
		}
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < BGPHeaderSize {
		return 0, fmt.Errorf("bgp: invalid message length %d", length)
	}
	if length > MaxMessageSize {
		return 0, fmt.Errorf("bgp: message length %d exceeds maximum %d", length, MaxMessageSize)
	}
	return length, nil
}

func putHeader(msg []byte, msgType uint8) {
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(len(msg)))
	msg[18] = msgType
}

// BuildOpen constructs a synthetic BGP OPEN for the given speaker.
// It always advertises multiprotocol IPv4/unicast and IPv6/unicast plus
// the 4-octet-AS capability, so a collector accepts any address family the
// replay later produces for this peer.
//
// BGP OPEN layout (RFC 4271 Section 4.2):
//
//	Offset  0: Marker (16 bytes, all 0xFF)
//	Offset 16: Length (2 bytes)
//	Offset 18: Type (1 byte, 1 for OPEN)
//	Offset 19: Version (1 byte)
//	Offset 20: My Autonomous System (2 bytes)
//	Offset 22: Hold Time (2 bytes)
//	Offset 24: BGP Identifier (4 bytes)
//	Offset 28: Opt Parm Len (1 byte)
//	Offset 29: Optional Parameters
func BuildOpen(as uint32, bgpID net.IP, holdTime uint16) []byte {
	caps := buildCapabilities(as)
	// One optional parameter of type 2 (Capabilities) wrapping all caps.
	optLen := 2 + len(caps)
	msg := make([]byte, BGPHeaderSize+10+optLen)
	putHeader(msg, BGPMsgTypeOpen)

	msg[19] = 4 // BGP version
	as2 := ASTrans
	if as <= 0xFFFF {
		as2 = uint16(as)
	}
	binary.BigEndian.PutUint16(msg[20:22], as2)
	binary.BigEndian.PutUint16(msg[22:24], holdTime)
	if v4 := bgpID.To4(); v4 != nil {
		copy(msg[24:28], v4)
	}
	msg[28] = uint8(optLen)
	msg[29] = 2 // parameter type: Capabilities
	msg[30] = uint8(len(caps))
	copy(msg[31:], caps)
	return msg
}

func buildCapabilities(as uint32) []byte {
	var caps []byte

	mp := func(afi uint16) []byte {
		// Code(1) + Length(1) + AFI(2) + Reserved(1) + SAFI(1)
		c := make([]byte, 6)
		c[0] = CapMultiprotocol
		c[1] = 4
		binary.BigEndian.PutUint16(c[2:4], afi)
		c[5] = SAFIUnicast
		return c
	}
	caps = append(caps, mp(AFIIPv4)...)
	caps = append(caps, mp(AFIIPv6)...)

	as4 := make([]byte, 6)
	as4[0] = CapFourOctetAS
	as4[1] = 4
	binary.BigEndian.PutUint32(as4[2:6], as)
	caps = append(caps, as4...)

	return caps
}

// BuildUpdateV4 synthesizes a BGP UPDATE announcing a single IPv4 prefix.
// attrs are the archived path attribute bytes, carried through verbatim;
// the prefix goes into the NLRI field. Withdrawn-routes length is zero.
func BuildUpdateV4(attrs []byte, prefixLen uint8, prefix []byte) []byte {
	nlri := make([]byte, 1+len(prefix))
	nlri[0] = prefixLen
	copy(nlri[1:], prefix)

	msg := make([]byte, BGPHeaderSize+2+2+len(attrs)+len(nlri))
	off := BGPHeaderSize
	// withdrawn routes length = 0
	off += 2
	binary.BigEndian.PutUint16(msg[off:off+2], uint16(len(attrs)))
	off += 2
	copy(msg[off:], attrs)
	off += len(attrs)
	copy(msg[off:], nlri)
	putHeader(msg, BGPMsgTypeUpdate)
	return msg
}

// BuildUpdateV6 synthesizes a BGP UPDATE announcing a single IPv6 prefix
// via MP_REACH_NLRI. TABLE_DUMP_V2 archives the MP_REACH_NLRI attribute in
// an abbreviated form, next-hop length and next hop only (RFC 6396 Section
// 4.3.4); it is rewritten here into the full on-wire form carrying AFI,
// SAFI, next hop, and the prefix. All other archived attributes pass
// through verbatim.
func BuildUpdateV6(attrs []byte, prefixLen uint8, prefix []byte) ([]byte, error) {
	nexthop, rest, err := extractMPReachNexthop(attrs)
	if err != nil {
		return nil, err
	}
	if nexthop == nil {
		nexthop = make([]byte, net.IPv6len)
	}

	// AFI(2) + SAFI(1) + nh_len(1) + nh + reserved(1) + prefix_len(1) + prefix
	val := make([]byte, 0, 6+len(nexthop)+len(prefix))
	var afisafi [4]byte
	binary.BigEndian.PutUint16(afisafi[0:2], AFIIPv6)
	afisafi[2] = SAFIUnicast
	afisafi[3] = uint8(len(nexthop))
	val = append(val, afisafi[:]...)
	val = append(val, nexthop...)
	val = append(val, 0) // reserved
	val = append(val, prefixLen)
	val = append(val, prefix...)

	mpreach := encodeAttr(AttrFlagOptional, AttrTypeMPReachNLRI, val)
	allAttrs := append(mpreach, rest...)

	msg := make([]byte, BGPHeaderSize+2+2+len(allAttrs))
	off := BGPHeaderSize
	// withdrawn routes length = 0
	off += 2
	binary.BigEndian.PutUint16(msg[off:off+2], uint16(len(allAttrs)))
	off += 2
	copy(msg[off:], allAttrs)
	putHeader(msg, BGPMsgTypeUpdate)
	return msg, nil
}

func encodeAttr(flags, typeCode uint8, val []byte) []byte {
	if len(val) > 255 {
		attr := make([]byte, 4+len(val))
		attr[0] = flags | AttrFlagExtLength
		attr[1] = typeCode
		binary.BigEndian.PutUint16(attr[2:4], uint16(len(val)))
		copy(attr[4:], val)
		return attr
	}
	attr := make([]byte, 3+len(val))
	attr[0] = flags
	attr[1] = typeCode
	attr[2] = uint8(len(val))
	copy(attr[3:], val)
	return attr
}

// extractMPReachNexthop walks archived path attributes, removes the
// abbreviated MP_REACH_NLRI if present, and returns its next hop together
// with the remaining attribute bytes.
func extractMPReachNexthop(attrs []byte) (nexthop []byte, rest []byte, err error) {
	offset := 0
	for offset < len(attrs) {
		if offset+2 > len(attrs) {
			return nil, nil, fmt.Errorf("bgp: truncated attribute header at offset %d", offset)
		}
		flags := attrs[offset]
		typeCode := attrs[offset+1]
		hdrLen := 3
		var attrLen int
		if flags&AttrFlagExtLength != 0 {
			if offset+4 > len(attrs) {
				return nil, nil, fmt.Errorf("bgp: truncated extended attribute length at offset %d", offset)
			}
			attrLen = int(binary.BigEndian.Uint16(attrs[offset+2 : offset+4]))
			hdrLen = 4
		} else {
			if offset+3 > len(attrs) {
				return nil, nil, fmt.Errorf("bgp: truncated attribute length at offset %d", offset)
			}
			attrLen = int(attrs[offset+2])
		}
		if offset+hdrLen+attrLen > len(attrs) {
			return nil, nil, fmt.Errorf("bgp: attribute length %d exceeds data", attrLen)
		}

		if typeCode == AttrTypeMPReachNLRI {
			val := attrs[offset+hdrLen : offset+hdrLen+attrLen]
			if len(val) < 1 || 1+int(val[0]) > len(val) {
				return nil, nil, fmt.Errorf("bgp: malformed abbreviated MP_REACH_NLRI")
			}
			nexthop = make([]byte, val[0])
			copy(nexthop, val[1:1+val[0]])

			rest = make([]byte, 0, len(attrs)-hdrLen-attrLen)
			rest = append(rest, attrs[:offset]...)
			rest = append(rest, attrs[offset+hdrLen+attrLen:]...)
			return nexthop, rest, nil
		}

		offset += hdrLen + attrLen
	}
	return nil, attrs, nil
}
