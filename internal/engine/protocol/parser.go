package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/gopacket"

	"github.com/tymiles003/FlowTrack/internal/model"
)

// Decode reads the version field of an export datagram, decodes it with the
// matching layer and converts every entry into a FlowRecord. receivedAt stands
// in for the exporter clock when the datagram carries none. On error no
// records are returned.
func Decode(payload []byte, receivedAt time.Time) ([]model.FlowRecord, error) {
	if len(payload) < 2 {
		return nil, truncated(0, "no version field")
	}

	version := binary.BigEndian.Uint16(payload[0:2])
	switch version {
	case 5:
		var n NetFlowV5
		if err := n.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, err
		}
		export := exportClock(n.UnixSecs, n.UnixNsecs, receivedAt)
		return toRecords(n.Records, export, n.SysUptime), nil
	case 1:
		var n NetFlowV1
		if err := n.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, err
		}
		export := exportClock(n.UnixSecs, n.UnixNsecs, receivedAt)
		return toRecords(n.Records, export, n.SysUptime), nil
	default:
		return nil, &DecodeError{Version: version, Kind: ErrUnsupportedVersion}
	}
}

func toRecords(entries []FlowEntry, export time.Time, sysUptime uint32) []model.FlowRecord {
	records := make([]model.FlowRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, model.FlowRecord{
			SrcIP:      e.SrcAddr,
			DstIP:      e.DstAddr,
			SrcPort:    e.SrcPort,
			DstPort:    e.DstPort,
			Protocol:   e.Protocol,
			Bytes:      uint64(e.Octets),
			Packets:    uint64(e.Packets),
			ObservedAt: lastSwitched(export, sysUptime, e.Last),
		})
	}
	return records
}

// Serialize builds a v5 datagram from records, for replay and tests.
// At most 30 records fit; the rest are ignored. v5 counters are 32 bits wide,
// so a record with more bytes or packets than that is an error.
func Serialize(records []model.FlowRecord, exportTime time.Time, sysUptime uint32) ([]byte, error) {
	if len(records) > v5MaxRecords {
		records = records[:v5MaxRecords]
	}
	n := &NetFlowV5{
		SysUptime: sysUptime,
		UnixSecs:  uint32(exportTime.Unix()),
		UnixNsecs: uint32(exportTime.Nanosecond()),
	}
	for i, r := range records {
		if r.Bytes > math.MaxUint32 || r.Packets > math.MaxUint32 {
			return nil, fmt.Errorf("record %d: %d bytes / %d packets exceed the 32-bit v5 counters", i, r.Bytes, r.Packets)
		}
		lag := exportTime.Sub(r.ObservedAt).Milliseconds()
		n.Records = append(n.Records, FlowEntry{
			SrcAddr:  r.SrcIP,
			DstAddr:  r.DstIP,
			SrcPort:  r.SrcPort,
			DstPort:  r.DstPort,
			Protocol: r.Protocol,
			Octets:   uint32(r.Bytes),
			Packets:  uint32(r.Packets),
			First:    sysUptime - uint32(lag),
			Last:     sysUptime - uint32(lag),
		})
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
