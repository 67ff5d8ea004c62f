package probe

import (
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tymiles003/FlowTrack/internal/model"
)

func TestBatchCodec(t *testing.T) {
	in := []model.FlowRecord{
		{ID: "a", SrcIP: 3232235786, DstIP: 134744072, SrcPort: 40000, DstPort: 53, Protocol: 17, Bytes: 600, Packets: 5, ObservedAt: time.Unix(1700000000, 42)},
		{SrcIP: 4294967295, DstIP: 0, Bytes: 1 << 40, ObservedAt: time.Unix(0, 0)},
	}
	out, err := UnmarshalBatch(MarshalBatch(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].SrcIP != in[i].SrcIP || out[i].DstIP != in[i].DstIP ||
			out[i].SrcPort != in[i].SrcPort || out[i].DstPort != in[i].DstPort || out[i].Protocol != in[i].Protocol ||
			out[i].Bytes != in[i].Bytes || out[i].Packets != in[i].Packets || !out[i].ObservedAt.Equal(in[i].ObservedAt) {
			t.Errorf("record %d: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestUnmarshalBatch_SkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = append(b, MarshalBatch([]model.FlowRecord{{SrcIP: 9, ObservedAt: time.Unix(1, 0)}})...)

	out, err := UnmarshalBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].SrcIP != 9 {
		t.Errorf("unexpected records %+v", out)
	}
}

func TestUnmarshalBatch_Truncated(t *testing.T) {
	b := MarshalBatch([]model.FlowRecord{{SrcIP: 1, DstIP: 2, ObservedAt: time.Unix(1, 0)}})
	if _, err := UnmarshalBatch(b[:len(b)-3]); err == nil {
		t.Error("expected error for truncated batch")
	}
}
