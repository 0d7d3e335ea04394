package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/route-beacon/mrt-replay/internal/mrt"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: mrt-dump <file>")
		os.Exit(1)
	}

	fd, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer fd.Close()

	r := mrt.NewReader(fd)
	recNum := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "record %d: %v\n", recNum, err)
			os.Exit(1)
		}
		recNum++
		fmt.Printf("=== record %d (%s) ===\n", recNum, rec.RecordTime().Format("2006-01-02 15:04:05"))
		dumpRecord(rec)
	}
	fmt.Printf("Total records: %d\n", recNum)
}

func dumpRecord(rec mrt.Record) {
	switch m := rec.(type) {
	case *mrt.PeerIndexTable:
		fmt.Printf("  PeerIndexTable collector=%s view=%q peers=%d\n",
			m.CollectorBGPID, m.ViewName, len(m.Peers))
		for i, p := range m.Peers {
			fmt.Printf("    [%d] addr=%s as=%d bgp_id=%s ipv6=%v\n",
				i, p.Address, p.AS, p.BGPID, p.IPv6())
		}
	case *mrt.RIBDump:
		fmt.Printf("  RIBDump afi=%d seq=%d prefix_len=%d prefix=%s entries=%d\n",
			m.AFI, m.SequenceNumber, m.PrefixLen, hex.EncodeToString(m.Prefix), len(m.Entries))
		for i, e := range m.Entries {
			if i >= 5 {
				fmt.Printf("    ... (%d more)\n", len(m.Entries)-5)
				break
			}
			fmt.Printf("    [%d] peer_index=%d originated=%s attrs=%d bytes\n",
				i, e.PeerIndex, e.OriginatedTime.Format("2006-01-02 15:04:05"), len(e.Attributes))
		}
	case *mrt.BGP4MPMessage:
		fmt.Printf("  BGP4MPMessage peer=%s as=%d afi=%d bgp=%d bytes\n",
			m.PeerAddress, m.PeerAS, m.AFI, len(m.Data))
		if len(m.Data) >= 19 {
			fmt.Printf("    bgp type=%d header=%s\n", m.Data[18], hex.EncodeToString(m.Data[:19]))
		}
	case *mrt.BGP4MPStateChange:
		fmt.Printf("  BGP4MPStateChange peer=%s as=%d %d -> %d\n",
			m.PeerAddress, m.PeerAS, m.OldState, m.NewState)
	default:
		fmt.Printf("  %T\n", rec)
	}
}
