package model

import "time"

// SnapshotWriter persists the ranked talker table after a reporting cycle.
type SnapshotWriter interface {
	Write(talkers []RecentTalker, at time.Time) error
}
