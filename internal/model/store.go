package model

import (
	"context"
	"time"
)

// FlowStore is the durable, append-only store of flow records.
type FlowStore interface {
	// Append persists a single record, assigning its ID when empty and
	// stamping IngestedAt.
	Append(ctx context.Context, record *FlowRecord) error

	// AppendBatch persists records in one write. Either all or none are stored.
	AppendBatch(ctx context.Context, records []*FlowRecord) error

	// QueryWindow returns every record with ObservedAt in [start, end].
	QueryWindow(ctx context.Context, start, end time.Time) ([]FlowRecord, error)

	// QueryIngested returns every record written in (after, upTo], by IngestedAt.
	QueryIngested(ctx context.Context, after, upTo time.Time) ([]FlowRecord, error)

	// PurgeOlderThan deletes records observed before now-retention and returns how many were removed.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	Close() error
}

// TalkerStore is the durable ranked table of scored talker pairs.
type TalkerStore interface {
	// Upsert inserts or replaces a row by its ID.
	Upsert(ctx context.Context, talker RecentTalker) error

	// UpsertAll inserts or replaces rows in one transaction.
	UpsertAll(ctx context.Context, talkers []RecentTalker) error

	// ListRanked returns all rows in rank order (see RankLess).
	ListRanked(ctx context.Context) ([]RecentTalker, error)

	// TopN returns at most limit rows in rank order.
	TopN(ctx context.Context, limit int) ([]RecentTalker, error)

	// PurgeToRetention deletes every row outside the first keep in rank order.
	PurgeToRetention(ctx context.Context, keep int) (int64, error)

	Close() error
}
