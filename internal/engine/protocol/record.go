package protocol

import (
	"encoding/binary"
	"time"
)

// recordLength is the size of one flow entry in both v1 and v5 exports.
const recordLength = 48

// FlowEntry is one fixed-size flow entry of a NetFlow export. SrcAS, DstAS,
// SrcMask and DstMask are only carried by v5.
type FlowEntry struct {
	SrcAddr  uint32
	DstAddr  uint32
	NextHop  uint32
	Input    uint16
	Output   uint16
	Packets  uint32
	Octets   uint32
	First    uint32 // sysuptime ms at the first packet
	Last     uint32 // sysuptime ms at the last packet
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
	Protocol uint8
	ToS      uint8
	SrcAS    uint16
	DstAS    uint16
	SrcMask  uint8
	DstMask  uint8
}

func (f *FlowEntry) decodeCommon(b []byte) {
	f.SrcAddr = binary.BigEndian.Uint32(b[0:4])
	f.DstAddr = binary.BigEndian.Uint32(b[4:8])
	f.NextHop = binary.BigEndian.Uint32(b[8:12])
	f.Input = binary.BigEndian.Uint16(b[12:14])
	f.Output = binary.BigEndian.Uint16(b[14:16])
	f.Packets = binary.BigEndian.Uint32(b[16:20])
	f.Octets = binary.BigEndian.Uint32(b[20:24])
	f.First = binary.BigEndian.Uint32(b[24:28])
	f.Last = binary.BigEndian.Uint32(b[28:32])
	f.SrcPort = binary.BigEndian.Uint16(b[32:34])
	f.DstPort = binary.BigEndian.Uint16(b[34:36])
}

func (f *FlowEntry) encodeCommon(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], f.SrcAddr)
	binary.BigEndian.PutUint32(b[4:8], f.DstAddr)
	binary.BigEndian.PutUint32(b[8:12], f.NextHop)
	binary.BigEndian.PutUint16(b[12:14], f.Input)
	binary.BigEndian.PutUint16(b[14:16], f.Output)
	binary.BigEndian.PutUint32(b[16:20], f.Packets)
	binary.BigEndian.PutUint32(b[20:24], f.Octets)
	binary.BigEndian.PutUint32(b[24:28], f.First)
	binary.BigEndian.PutUint32(b[28:32], f.Last)
	binary.BigEndian.PutUint16(b[32:34], f.SrcPort)
	binary.BigEndian.PutUint16(b[34:36], f.DstPort)
}

// lastSwitched maps the entry's Last uptime onto the exporter's wall clock.
// The signed difference keeps the result correct across a sysuptime wrap.
func lastSwitched(exportTime time.Time, sysUptime, last uint32) time.Time {
	delta := int32(sysUptime - last)
	return exportTime.Add(-time.Duration(delta) * time.Millisecond)
}

func exportClock(secs, nsecs uint32, receivedAt time.Time) time.Time {
	if secs == 0 {
		return receivedAt
	}
	return time.Unix(int64(secs), int64(nsecs))
}
