package probe

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tymiles003/FlowTrack/internal/model"
)

// Field numbers of the relayed FlowBatch message:
//
//	message FlowRecord {
//	  string  id          = 1;
//	  fixed32 src_ip      = 2;
//	  fixed32 dst_ip      = 3;
//	  uint32  src_port    = 4;
//	  uint32  dst_port    = 5;
//	  uint32  protocol    = 6;
//	  uint64  bytes       = 7;
//	  uint64  packets     = 8;
//	  int64   observed_at = 9; // unix nanoseconds
//	}
//	message FlowBatch { repeated FlowRecord records = 1; }
const (
	fieldBatchRecords = 1

	fieldID         = 1
	fieldSrcIP      = 2
	fieldDstIP      = 3
	fieldSrcPort    = 4
	fieldDstPort    = 5
	fieldProtocol   = 6
	fieldBytes      = 7
	fieldPackets    = 8
	fieldObservedAt = 9
)

// MarshalBatch encodes records as a FlowBatch.
func MarshalBatch(records []model.FlowRecord) []byte {
	var b []byte
	for i := range records {
		b = protowire.AppendTag(b, fieldBatchRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRecord(&records[i]))
	}
	return b
}

func marshalRecord(r *model.FlowRecord) []byte {
	var b []byte
	if r.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, r.ID)
	}
	b = protowire.AppendTag(b, fieldSrcIP, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, r.SrcIP)
	b = protowire.AppendTag(b, fieldDstIP, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, r.DstIP)
	b = protowire.AppendTag(b, fieldSrcPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SrcPort))
	b = protowire.AppendTag(b, fieldDstPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.DstPort))
	b = protowire.AppendTag(b, fieldProtocol, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Protocol))
	b = protowire.AppendTag(b, fieldBytes, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Bytes)
	b = protowire.AppendTag(b, fieldPackets, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Packets)
	b = protowire.AppendTag(b, fieldObservedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ObservedAt.UnixNano()))
	return b
}

// UnmarshalBatch decodes a FlowBatch. Unknown fields are skipped.
func UnmarshalBatch(b []byte) ([]model.FlowRecord, error) {
	var out []model.FlowRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad batch tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldBatchRecords || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("bad batch field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("bad record: %w", protowire.ParseError(n))
		}
		b = b[n:]
		r, err := unmarshalRecord(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func unmarshalRecord(b []byte) (model.FlowRecord, error) {
	var r model.FlowRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("bad record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return r, fmt.Errorf("bad id: %w", protowire.ParseError(m))
			}
			r.ID, n = v, m
		case (num == fieldSrcIP || num == fieldDstIP) && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return r, fmt.Errorf("bad address: %w", protowire.ParseError(m))
			}
			if num == fieldSrcIP {
				r.SrcIP = v
			} else {
				r.DstIP = v
			}
			n = m
		case num >= fieldSrcPort && num <= fieldObservedAt && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return r, fmt.Errorf("bad field %d: %w", num, protowire.ParseError(m))
			}
			switch num {
			case fieldSrcPort:
				r.SrcPort = uint16(v)
			case fieldDstPort:
				r.DstPort = uint16(v)
			case fieldProtocol:
				r.Protocol = uint8(v)
			case fieldBytes:
				r.Bytes = v
			case fieldPackets:
				r.Packets = v
			case fieldObservedAt:
				r.ObservedAt = time.Unix(0, int64(v))
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("bad field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return r, nil
}
