package bmp

import (
	"encoding/binary"
	"hash/fnv"
)

const (
	OpenBMPHeaderSize = 10 // version(2) + collector_hash(4) + msg_len(4)
	openBMPVersion    = 2
)

// CollectorHash derives the 4-byte collector hash embedded in OpenBMP RAW
// v2 frames from a collector name. Consumers use it to distinguish feeds;
// it is stable for a given name.
func CollectorHash(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// EncodeOpenBMPFrame wraps a BMP message in an OpenBMP RAW v2 frame so it
// can be published to Kafka alongside the TCP stream.
func EncodeOpenBMPFrame(collectorHash uint32, bmpMsg []byte) []byte {
	frame := make([]byte, OpenBMPHeaderSize+len(bmpMsg))
	binary.BigEndian.PutUint16(frame[0:2], openBMPVersion)
	binary.BigEndian.PutUint32(frame[2:6], collectorHash)
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(bmpMsg)))
	copy(frame[OpenBMPHeaderSize:], bmpMsg)
	return frame
}
