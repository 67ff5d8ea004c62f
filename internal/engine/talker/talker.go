// Package talker groups the flows of one reporting window into talker pairs.
package talker

import (
	"math"

	"github.com/tymiles003/FlowTrack/internal/model"
)

// Direction is the classification of a flow's endpoints against the internal network.
type Direction uint8

const (
	// External flows have neither endpoint inside the network and are not attributable.
	External Direction = iota
	// Outbound flows go from an internal source to an external destination.
	Outbound
	// Inbound flows go from an external source to an internal destination.
	Inbound
	// Internal flows have both endpoints inside the network.
	Internal
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	case Internal:
		return "internal"
	default:
		return "external"
	}
}

// Classifier decides whether an address belongs to the internal network.
type Classifier interface {
	IsInternal(ip uint32) bool
}

// Key identifies a talker pair. For cross-boundary pairs Internal is the
// internal endpoint; for internal-to-internal pairs Symmetric is set and
// Internal holds the lower address.
type Key struct {
	Internal  uint32
	External  uint32
	Symmetric bool
}

// ID is the stored row identifier of the pair.
func (k Key) ID() string {
	return model.TalkerID(k.Internal, k.External)
}

// Classify maps a flow onto one of the four directions.
func Classify(flow *model.FlowRecord, c Classifier) Direction {
	src, dst := c.IsInternal(flow.SrcIP), c.IsInternal(flow.DstIP)
	switch {
	case src && dst:
		return Internal
	case src:
		return Outbound
	case dst:
		return Inbound
	default:
		return External
	}
}

// KeyFor returns the canonical pair for a classified flow. The second result
// is false for External flows, which have no key.
func KeyFor(d Direction, src, dst uint32) (Key, bool) {
	switch d {
	case Outbound:
		return Key{Internal: src, External: dst}, true
	case Inbound:
		return Key{Internal: dst, External: src}, true
	case Internal:
		if dst < src {
			src, dst = dst, src
		}
		return Key{Internal: src, External: dst, Symmetric: true}, true
	default:
		return Key{}, false
	}
}

// Summary accumulates the traffic of one pair within a window.
type Summary struct {
	Key          Key
	TotalBytes   uint64
	TotalPackets uint64
	Flows        []model.FlowRecord
}

// InternalIP is the internal (or lower, for symmetric pairs) endpoint.
func (s *Summary) InternalIP() uint32 { return s.Key.Internal }

// ExternalIP is the other endpoint.
func (s *Summary) ExternalIP() uint32 { return s.Key.External }

// Result is the output of Aggregate.
type Result struct {
	Pairs map[Key]*Summary
	// Skipped counts flows with no internal endpoint.
	Skipped int
}

// Aggregate groups flows by talker pair. Member flows keep their input order.
func Aggregate(flows []model.FlowRecord, c Classifier) Result {
	res := Result{Pairs: make(map[Key]*Summary)}
	for i := range flows {
		f := &flows[i]
		key, ok := KeyFor(Classify(f, c), f.SrcIP, f.DstIP)
		if !ok {
			res.Skipped++
			continue
		}

		s, found := res.Pairs[key]
		if !found {
			s = &Summary{Key: key}
			res.Pairs[key] = s
		}
		s.TotalBytes = addSat(s.TotalBytes, f.Bytes)
		s.TotalPackets = addSat(s.TotalPackets, f.Packets)
		s.Flows = append(s.Flows, *f)
	}
	return res
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
