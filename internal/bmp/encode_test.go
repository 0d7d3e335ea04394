package bmp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func checkCommonHeader(t *testing.T, msg []byte, msgType uint8) {
	t.Helper()
	if msg[0] != BMPVersion {
		t.Errorf("expected version %d, got %d", BMPVersion, msg[0])
	}
	if got := binary.BigEndian.Uint32(msg[1:5]); int(got) != len(msg) {
		t.Errorf("declared length %d, actual %d", got, len(msg))
	}
	if msg[5] != msgType {
		t.Errorf("expected msg type %d, got %d", msgType, msg[5])
	}
}

func readTLVs(data []byte) map[uint16]string {
	tlvs := map[uint16]string{}
	for off := 0; off+4 <= len(data); {
		typ := binary.BigEndian.Uint16(data[off : off+2])
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+length > len(data) {
			break
		}
		tlvs[typ] = string(data[off : off+length])
		off += length
	}
	return tlvs
}

func TestInitiation(t *testing.T) {
	msg := Initiation("replay daemon", "openbmp-mrt2bmp/route-views2")
	checkCommonHeader(t, msg, MsgTypeInitiation)

	tlvs := readTLVs(msg[CommonHeaderSize:])
	if tlvs[TLVTypeSysDescr] != "replay daemon" {
		t.Errorf("unexpected sysDescr %q", tlvs[TLVTypeSysDescr])
	}
	if tlvs[TLVTypeSysName] != "openbmp-mrt2bmp/route-views2" {
		t.Errorf("unexpected sysName %q", tlvs[TLVTypeSysName])
	}
}

func TestPeerHeader_IPv4RightAligned(t *testing.T) {
	peer := PeerHeader{
		Type:    PeerTypeGlobal,
		Address: net.IPv4(10, 0, 0, 1),
		AS:      65000,
		BGPID:   net.IPv4(192, 0, 2, 1),
	}
	ts := time.Unix(1700000000, 250000000)
	msg := RouteMonitoring(peer, ts, []byte{0xAA})
	checkCommonHeader(t, msg, MsgTypeRouteMonitoring)

	hdr := msg[CommonHeaderSize : CommonHeaderSize+PerPeerHeaderSize]
	if hdr[0] != PeerTypeGlobal {
		t.Errorf("unexpected peer type %d", hdr[0])
	}
	if hdr[1]&PeerFlagIPv6 != 0 {
		t.Error("IPv6 flag set for IPv4 peer")
	}
	// 12 zero bytes then the IPv4 address.
	if !bytes.Equal(hdr[10:22], make([]byte, 12)) {
		t.Errorf("expected leading zeros in peer address, got %v", hdr[10:22])
	}
	if !bytes.Equal(hdr[22:26], []byte{10, 0, 0, 1}) {
		t.Errorf("unexpected peer address bytes %v", hdr[22:26])
	}
	if got := binary.BigEndian.Uint32(hdr[26:30]); got != 65000 {
		t.Errorf("unexpected peer AS %d", got)
	}
	if !bytes.Equal(hdr[30:34], []byte{192, 0, 2, 1}) {
		t.Errorf("unexpected BGP ID %v", hdr[30:34])
	}
	if got := binary.BigEndian.Uint32(hdr[34:38]); got != 1700000000 {
		t.Errorf("unexpected timestamp seconds %d", got)
	}
	if got := binary.BigEndian.Uint32(hdr[38:42]); got != 250000 {
		t.Errorf("unexpected timestamp microseconds %d", got)
	}
	if !bytes.Equal(msg[CommonHeaderSize+PerPeerHeaderSize:], []byte{0xAA}) {
		t.Error("BGP payload not carried")
	}
}

func TestPeerHeader_IPv6Flag(t *testing.T) {
	addr := net.ParseIP("2001:db8::1")
	peer := PeerHeader{Type: PeerTypeGlobal, Address: addr, AS: 65000}
	msg := RouteMonitoring(peer, time.Unix(1, 0), nil)

	hdr := msg[CommonHeaderSize:]
	if hdr[1]&PeerFlagIPv6 == 0 {
		t.Error("IPv6 flag not set for IPv6 peer")
	}
	if !bytes.Equal(hdr[10:26], addr.To16()) {
		t.Errorf("unexpected peer address %v", hdr[10:26])
	}
}

func TestPeerUp_Layout(t *testing.T) {
	peer := PeerHeader{
		Type:    PeerTypeGlobal,
		Address: net.IPv4(10, 0, 0, 1),
		AS:      65000,
		BGPID:   net.IPv4(192, 0, 2, 1),
	}
	sent := []byte{1, 2, 3}
	recv := []byte{4, 5, 6, 7}
	msg := PeerUp(peer, time.Unix(100, 0), net.IPv4(198, 51, 100, 1), 179, 42000, sent, recv)
	checkCommonHeader(t, msg, MsgTypePeerUp)

	body := msg[CommonHeaderSize:]
	local := body[PerPeerHeaderSize : PerPeerHeaderSize+16]
	if !bytes.Equal(local[12:16], []byte{198, 51, 100, 1}) {
		t.Errorf("unexpected local address %v", local)
	}
	off := PerPeerHeaderSize + 16
	if got := binary.BigEndian.Uint16(body[off : off+2]); got != 179 {
		t.Errorf("unexpected local port %d", got)
	}
	if got := binary.BigEndian.Uint16(body[off+2 : off+4]); got != 42000 {
		t.Errorf("unexpected remote port %d", got)
	}
	opens := body[off+4:]
	if !bytes.Equal(opens[:len(sent)], sent) || !bytes.Equal(opens[len(sent):], recv) {
		t.Error("OPEN messages not carried in order")
	}
}

func TestPeerDown(t *testing.T) {
	peer := PeerHeader{Type: PeerTypeGlobal, Address: net.IPv4(10, 0, 0, 1), AS: 65000}
	msg := PeerDown(peer, time.Unix(100, 0), PeerDownLocalNoNotification, []byte{0, 1})
	checkCommonHeader(t, msg, MsgTypePeerDown)

	body := msg[CommonHeaderSize:]
	if body[PerPeerHeaderSize] != PeerDownLocalNoNotification {
		t.Errorf("unexpected reason %d", body[PerPeerHeaderSize])
	}
	if !bytes.Equal(body[PerPeerHeaderSize+1:], []byte{0, 1}) {
		t.Errorf("unexpected reason data %v", body[PerPeerHeaderSize+1:])
	}
}

func TestTermination(t *testing.T) {
	msg := Termination(TermReasonAdminClose)
	checkCommonHeader(t, msg, MsgTypeTermination)

	body := msg[CommonHeaderSize:]
	if got := binary.BigEndian.Uint16(body[0:2]); got != TermTLVTypeReason {
		t.Errorf("expected reason TLV, got type %d", got)
	}
	if got := binary.BigEndian.Uint16(body[4:6]); got != TermReasonAdminClose {
		t.Errorf("unexpected reason %d", got)
	}
}
