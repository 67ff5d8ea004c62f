package talker

import (
	"testing"

	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func ip(t *testing.T, s string) uint32 {
	t.Helper()
	v, err := ipaddr.ToInteger(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestClassify(t *testing.T) {
	net := ipaddr.MustParseNetwork("192.168.1.0/24")
	tests := []struct {
		src, dst string
		want     Direction
	}{
		{"192.168.1.10", "8.8.8.8", Outbound},
		{"8.8.8.8", "192.168.1.10", Inbound},
		{"192.168.1.10", "192.168.1.20", Internal},
		{"8.8.8.8", "1.1.1.1", External},
	}
	for _, tt := range tests {
		f := &model.FlowRecord{SrcIP: ip(t, tt.src), DstIP: ip(t, tt.dst)}
		if got := Classify(f, net); got != tt.want {
			t.Errorf("Classify(%s -> %s) = %s, want %s", tt.src, tt.dst, got, tt.want)
		}
	}
}

func TestKeyFor(t *testing.T) {
	a, b := uint32(100), uint32(200)

	if k, _ := KeyFor(Outbound, a, b); k.Internal != a || k.External != b || k.Symmetric {
		t.Errorf("outbound: unexpected key %+v", k)
	}
	// The inbound key pairs the internal destination with the external source.
	if k, _ := KeyFor(Inbound, b, a); k.Internal != a || k.External != b {
		t.Errorf("inbound: unexpected key %+v", k)
	}
	k1, _ := KeyFor(Internal, b, a)
	k2, _ := KeyFor(Internal, a, b)
	if k1 != k2 || k1.Internal != a || !k1.Symmetric {
		t.Errorf("internal pairs should order lower first: %+v %+v", k1, k2)
	}
	if _, ok := KeyFor(External, a, b); ok {
		t.Error("external flows have no key")
	}
}

func TestAggregate(t *testing.T) {
	net := ipaddr.MustParseNetwork("192.168.1.0/24")
	host, dns, other := ip(t, "192.168.1.10"), ip(t, "8.8.8.8"), ip(t, "1.1.1.1")

	flows := []model.FlowRecord{
		{ID: "a", SrcIP: host, DstIP: dns, Bytes: 100, Packets: 1},
		{ID: "b", SrcIP: dns, DstIP: host, Bytes: 250, Packets: 2},
		{ID: "c", SrcIP: host, DstIP: dns, Bytes: 50, Packets: 1},
		{ID: "d", SrcIP: dns, DstIP: other, Bytes: 9999, Packets: 9},
		{ID: "e", SrcIP: host, DstIP: other, Bytes: 10, Packets: 1},
	}

	res := Aggregate(flows, net)
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped flow, got %d", res.Skipped)
	}
	if len(res.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(res.Pairs))
	}

	s := res.Pairs[Key{Internal: host, External: dns}]
	if s == nil {
		t.Fatal("missing host/dns pair")
	}
	if s.TotalBytes != 400 || s.TotalPackets != 4 {
		t.Errorf("unexpected totals: %d bytes, %d packets", s.TotalBytes, s.TotalPackets)
	}
	if len(s.Flows) != 3 || s.Flows[0].ID != "a" || s.Flows[1].ID != "b" || s.Flows[2].ID != "c" {
		t.Errorf("member flows should keep input order: %+v", s.Flows)
	}
	if avg := s.TotalBytes / uint64(len(s.Flows)); avg != 133 {
		t.Errorf("expected average 133, got %d", avg)
	}
	if s.InternalIP() != host || s.ExternalIP() != dns {
		t.Error("unexpected pair endpoints")
	}
	if s.Key.ID() != model.TalkerID(host, dns) {
		t.Errorf("unexpected id %s", s.Key.ID())
	}
}

func TestAggregate_Empty(t *testing.T) {
	res := Aggregate(nil, ipaddr.MustParseNetwork("10.0.0.0/8"))
	if len(res.Pairs) != 0 || res.Skipped != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}
