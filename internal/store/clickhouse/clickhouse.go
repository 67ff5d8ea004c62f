// Package clickhouse stores flow records in a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/store"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flows (
    id          String,
    src_ip      UInt32,
    dst_ip      UInt32,
    src_port    UInt16,
    dst_port    UInt16,
    protocol    UInt8,
    bytes       UInt64,
    packets     UInt64,
    observed_at DateTime64(9),
    ingested_at DateTime64(9)
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(observed_at)
ORDER BY (observed_at, id);
`

const addIngestedAtStatement = `ALTER TABLE flows ADD COLUMN IF NOT EXISTS ingested_at DateTime64(9)`

const selectFlows = `SELECT id, src_ip, dst_ip, src_port, dst_port, protocol, bytes, packets, observed_at, ingested_at FROM flows `

// FlowStore implements model.FlowStore on ClickHouse.
type FlowStore struct {
	conn driver.Conn
	now  func() time.Time
}

// New connects to ClickHouse and ensures the flows table exists.
func New(ctx context.Context, cfg config.ClickHouseConfig) (*FlowStore, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, store.Wrap("clickhouse", "connect", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, store.Wrap("clickhouse", "create table", err)
	}
	if err := conn.Exec(ctx, addIngestedAtStatement); err != nil {
		conn.Close()
		return nil, store.Wrap("clickhouse", "add ingested_at", err)
	}
	return &FlowStore{conn: conn, now: time.Now}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (s *FlowStore) Append(ctx context.Context, record *model.FlowRecord) error {
	return s.AppendBatch(ctx, []*model.FlowRecord{record})
}

// AppendBatch sends records as one native batch.
func (s *FlowStore) AppendBatch(ctx context.Context, records []*model.FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO flows")
	if err != nil {
		return store.Wrap("clickhouse", "prepare batch", err)
	}
	at := s.now()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.IngestedAt = at
		if err := batch.Append(r.ID, r.SrcIP, r.DstIP, r.SrcPort, r.DstPort, r.Protocol, r.Bytes, r.Packets, r.ObservedAt, r.IngestedAt); err != nil {
			batch.Abort()
			return store.Wrap("clickhouse", "append batch", err)
		}
	}
	if err := batch.Send(); err != nil {
		return store.Wrap("clickhouse", "send batch", err)
	}
	return nil
}

func (s *FlowStore) QueryWindow(ctx context.Context, start, end time.Time) ([]model.FlowRecord, error) {
	return s.query(ctx, "query window", selectFlows+`WHERE observed_at >= ? AND observed_at <= ?`, start, end)
}

// QueryIngested returns the flows written within (after, upTo].
func (s *FlowStore) QueryIngested(ctx context.Context, after, upTo time.Time) ([]model.FlowRecord, error) {
	return s.query(ctx, "query ingested", selectFlows+`WHERE ingested_at > ? AND ingested_at <= ?`, after, upTo)
}

func (s *FlowStore) query(ctx context.Context, op, q string, args ...any) ([]model.FlowRecord, error) {
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, store.Wrap("clickhouse", op, err)
	}
	defer rows.Close()

	var out []model.FlowRecord
	for rows.Next() {
		var r model.FlowRecord
		if err := rows.Scan(&r.ID, &r.SrcIP, &r.DstIP, &r.SrcPort, &r.DstPort, &r.Protocol, &r.Bytes, &r.Packets, &r.ObservedAt, &r.IngestedAt); err != nil {
			return nil, store.Wrap("clickhouse", "scan flow", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("clickhouse", op, err)
	}
	return out, nil
}

// PurgeOlderThan counts the expired rows and removes them with a synchronous mutation.
func (s *FlowStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	var n uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM flows WHERE observed_at < ?`, cutoff).Scan(&n); err != nil {
		return 0, store.Wrap("clickhouse", "count expired", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.conn.Exec(ctx, `ALTER TABLE flows DELETE WHERE observed_at < ? SETTINGS mutations_sync = 1`, cutoff); err != nil {
		return 0, store.Wrap("clickhouse", "purge flows", err)
	}
	return int64(n), nil
}

func (s *FlowStore) Close() error {
	return s.conn.Close()
}
