package replay

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"github.com/route-beacon/mrt-replay/internal/mrt"
	"go.uber.org/zap"
)

// captureSink records emitted messages for assertions.
type captureSink struct {
	msgs [][]byte
}

func (s *captureSink) Emit(_ context.Context, msg []byte) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSink) types() []uint8 {
	out := make([]uint8, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m[5]
	}
	return out
}

func testWriter(reg *Registry) *Writer {
	return NewWriter("127.0.0.1:0", 16, reg, "test replay", "openbmp-mrt2bmp/test", RouterBGPID("test"), zap.NewNop())
}

func mrtRecord(ts uint32, recType, subtype uint16, body []byte) []byte {
	rec := make([]byte, mrt.CommonHeaderSize+len(body))
	binary.BigEndian.PutUint32(rec[0:4], ts)
	binary.BigEndian.PutUint16(rec[4:6], recType)
	binary.BigEndian.PutUint16(rec[6:8], subtype)
	binary.BigEndian.PutUint32(rec[8:12], uint32(len(body)))
	copy(rec[mrt.CommonHeaderSize:], body)
	return rec
}

// peerIndexTableRecord builds a PEER_INDEX_TABLE over the given IPv4
// peers, all with 32-bit AS numbers.
type indexPeer struct {
	bgpID net.IP
	addr  net.IP
	as    uint32
}

func peerIndexTableRecord(ts uint32, peers []indexPeer) []byte {
	var body []byte
	body = append(body, 10, 0, 0, 1) // collector BGP-ID
	body = append(body, 0, 0)        // empty view name
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(peers)))
	body = append(body, n[:]...)
	for _, p := range peers {
		body = append(body, mrt.PeerFlagAS4)
		body = append(body, p.bgpID.To4()...)
		body = append(body, p.addr.To4()...)
		var as [4]byte
		binary.BigEndian.PutUint32(as[:], p.as)
		body = append(body, as[:]...)
	}
	return mrtRecord(ts, mrt.TypeTableDumpV2, mrt.SubtypePeerIndexTable, body)
}

func ribRecord(ts uint32, subtype uint16, prefixLen uint8, prefix []byte, peerIndex uint16, originated uint32, attrs []byte) []byte {
	var body []byte
	body = append(body, 0, 0, 0, 1) // sequence number
	body = append(body, prefixLen)
	body = append(body, prefix...)
	body = append(body, 0, 1) // one entry
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], peerIndex)
	body = append(body, idx[:]...)
	var orig [4]byte
	binary.BigEndian.PutUint32(orig[:], originated)
	body = append(body, orig[:]...)
	var alen [2]byte
	binary.BigEndian.PutUint16(alen[:], uint16(len(attrs)))
	body = append(body, alen[:]...)
	body = append(body, attrs...)
	return mrtRecord(ts, mrt.TypeTableDumpV2, subtype, body)
}

func bgp4mpMessageRecord(ts uint32, peerAddr net.IP, peerAS uint32, bgpMsg []byte) []byte {
	var body []byte
	var as [4]byte
	binary.BigEndian.PutUint32(as[:], peerAS)
	body = append(body, as[:]...)         // peer AS
	body = append(body, 0, 0, 0xFD, 0xE9) // local AS
	body = append(body, 0, 0)             // interface index
	body = append(body, 0, 1)             // AFI IPv4
	body = append(body, peerAddr.To4()...)
	body = append(body, 10, 0, 0, 254) // local address
	body = append(body, bgpMsg...)
	return mrtRecord(ts, mrt.TypeBGP4MP, mrt.SubtypeBGP4MPMessageAS4, body)
}

func bgp4mpStateChangeRecord(ts uint32, peerAddr net.IP, peerAS uint32, oldState, newState uint16) []byte {
	var body []byte
	var as [4]byte
	binary.BigEndian.PutUint32(as[:], peerAS)
	body = append(body, as[:]...)
	body = append(body, 0, 0, 0xFD, 0xE9)
	body = append(body, 0, 0)
	body = append(body, 0, 1)
	body = append(body, peerAddr.To4()...)
	body = append(body, 10, 0, 0, 254)
	var st [4]byte
	binary.BigEndian.PutUint16(st[0:2], oldState)
	binary.BigEndian.PutUint16(st[2:4], newState)
	body = append(body, st[:]...)
	return mrtRecord(ts, mrt.TypeBGP4MP, mrt.SubtypeBGP4MPStateChangeAS4, body)
}

func minimalBGPUpdate(marker byte) []byte {
	msg := make([]byte, 23)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], 23)
	msg[18] = 2 // UPDATE
	// Trailing withdrawn/attr lengths stay zero; overwrite the last byte
	// with a marker to tell messages apart in assertions.
	msg[22] = marker
	return msg
}

// writeStaged writes an MRT stream under the master directory with a
// staged archive name.
func writeStaged(t *testing.T, dir, name string, records ...[]byte) archive.File {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var data []byte
	for _, r := range records {
		data = append(data, r...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, ok := archive.ParseFileName(name)
	if !ok {
		t.Fatalf("bad staged name %s", name)
	}
	f.Path = path
	return f
}
