package model

import (
	"strconv"
	"time"
)

// FlowRecord is one observed, unidirectional network flow as reported by an exporter.
type FlowRecord struct {
	ID         string
	SrcIP      uint32
	DstIP      uint32
	SrcPort    uint16
	DstPort    uint16
	Protocol   uint8
	Bytes      uint64
	Packets    uint64
	ObservedAt time.Time
	// IngestedAt is stamped by the FlowStore when the record is written.
	IngestedAt time.Time
}

// RecentTalker is a persisted, scored talker pair.
// For internal-to-internal pairs InternalIP holds the numerically lower address.
type RecentTalker struct {
	ID         string
	InternalIP uint32
	ExternalIP uint32
	Score      int64
	LastUpdate time.Time
}

// TalkerID derives the stable row identifier of a talker pair.
func TalkerID(internalIP, externalIP uint32) string {
	return strconv.FormatUint(uint64(internalIP), 10) + "-" + strconv.FormatUint(uint64(externalIP), 10)
}

// NewRecentTalker builds a row with its derived ID.
func NewRecentTalker(internalIP, externalIP uint32, score int64, lastUpdate time.Time) RecentTalker {
	return RecentTalker{
		ID:         TalkerID(internalIP, externalIP),
		InternalIP: internalIP,
		ExternalIP: externalIP,
		Score:      score,
		LastUpdate: lastUpdate,
	}
}

// RankOrderSQL is the SQL rendering of RankLess. Every ranked query uses it.
const RankOrderSQL = "score DESC, last_update DESC, id ASC"

// RankLess reports whether a ranks ahead of b: higher score first, then the
// more recently updated row, then the lower ID so the order is total.
func RankLess(a, b RecentTalker) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.LastUpdate.Equal(b.LastUpdate) {
		return a.LastUpdate.After(b.LastUpdate)
	}
	return a.ID < b.ID
}
