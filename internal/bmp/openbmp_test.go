package bmp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeOpenBMPFrame(t *testing.T) {
	payload := Initiation("d", "n")
	hash := CollectorHash("openbmp-mrt2bmp/rrc00")
	frame := EncodeOpenBMPFrame(hash, payload)

	if got := binary.BigEndian.Uint16(frame[0:2]); got != 2 {
		t.Errorf("expected frame version 2, got %d", got)
	}
	if got := binary.BigEndian.Uint32(frame[2:6]); got != hash {
		t.Errorf("expected collector hash %d, got %d", hash, got)
	}
	if got := binary.BigEndian.Uint32(frame[6:10]); int(got) != len(payload) {
		t.Errorf("expected msg_len %d, got %d", len(payload), got)
	}
	if !bytes.Equal(frame[OpenBMPHeaderSize:], payload) {
		t.Error("BMP payload not carried")
	}
}

func TestCollectorHash_Stable(t *testing.T) {
	if CollectorHash("a") != CollectorHash("a") {
		t.Error("hash not deterministic")
	}
	if CollectorHash("a") == CollectorHash("b") {
		t.Error("distinct names should hash differently")
	}
}
