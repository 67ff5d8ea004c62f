// Package sqlstore implements the flow and talker stores on database/sql,
// with SQLite and PostgreSQL dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/store"
)

// Dialect names the SQL flavour of a Store.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store implements both model.FlowStore and model.TalkerStore. Timestamps are
// stored as Unix nanoseconds.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closers []func()
	now     func() time.Time
}

// OpenSQLite opens (or creates) the database file at path in WAL mode with a
// busy timeout, so window reads never block the appender.
func OpenSQLite(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, store.Wrap("sqlite", "open", err)
	}
	return New(context.Background(), db, SQLite)
}

// OpenPostgres connects through a pgx pool.
func OpenPostgres(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, store.Wrap("postgres", "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Wrap("postgres", "ping", err)
	}

	s, err := New(ctx, stdlib.OpenDBFromPool(pool), Postgres)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)
	return s, nil
}

// New wraps an open database and creates the schema if it is missing.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
  id TEXT PRIMARY KEY,
  src_ip BIGINT NOT NULL,
  dst_ip BIGINT NOT NULL,
  src_port INTEGER NOT NULL,
  dst_port INTEGER NOT NULL,
  protocol INTEGER NOT NULL,
  bytes BIGINT NOT NULL,
  packets BIGINT NOT NULL,
  observed_at BIGINT NOT NULL,
  ingested_at BIGINT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_observed_at ON flows(observed_at)`,
		`CREATE TABLE IF NOT EXISTS recent_talkers (
  id TEXT PRIMARY KEY,
  internal_ip BIGINT NOT NULL,
  external_ip BIGINT NOT NULL,
  score BIGINT NOT NULL,
  last_update BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_recent_talkers_score ON recent_talkers(score)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return s.wrap("migrate", err)
		}
	}
	if err := s.addIngestedAt(ctx); err != nil {
		return s.wrap("migrate", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_flows_ingested_at ON flows(ingested_at)`); err != nil {
		return s.wrap("migrate", err)
	}
	return nil
}

// addIngestedAt upgrades flows tables created before the ingestion cursor.
func (s *Store) addIngestedAt(ctx context.Context) error {
	if s.dialect == Postgres {
		_, err := s.db.ExecContext(ctx, `ALTER TABLE flows ADD COLUMN IF NOT EXISTS ingested_at BIGINT NOT NULL DEFAULT 0`)
		return err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info('flows') WHERE name = 'ingested_at'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE flows ADD COLUMN ingested_at BIGINT NOT NULL DEFAULT 0`)
	return err
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) wrap(op string, err error) error {
	return store.Wrap(string(s.dialect), op, err)
}

func (s *Store) Close() error {
	err := s.db.Close()
	for _, c := range s.closers {
		c()
	}
	return err
}

// Append persists one flow record.
func (s *Store) Append(ctx context.Context, record *model.FlowRecord) error {
	return s.AppendBatch(ctx, []*model.FlowRecord{record})
}

// AppendBatch inserts records in one transaction.
func (s *Store) AppendBatch(ctx context.Context, records []*model.FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO flows (id, src_ip, dst_ip, src_port, dst_port, protocol, bytes, packets, observed_at, ingested_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return s.wrap("prepare insert", err)
	}
	defer stmt.Close()

	at := s.now()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.IngestedAt = at
		if _, err := stmt.ExecContext(ctx, r.ID, int64(r.SrcIP), int64(r.DstIP), int(r.SrcPort), int(r.DstPort),
			int(r.Protocol), int64(r.Bytes), int64(r.Packets), r.ObservedAt.UnixNano(), at.UnixNano()); err != nil {
			return s.wrap("insert flow", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

const selectFlows = `SELECT id, src_ip, dst_ip, src_port, dst_port, protocol, bytes, packets, observed_at, ingested_at FROM flows `

// QueryWindow returns the flows observed within [start, end].
func (s *Store) QueryWindow(ctx context.Context, start, end time.Time) ([]model.FlowRecord, error) {
	return s.queryFlows(ctx, "query window", selectFlows+`WHERE observed_at >= ? AND observed_at <= ?`,
		start.UnixNano(), end.UnixNano())
}

// QueryIngested returns the flows written within (after, upTo].
func (s *Store) QueryIngested(ctx context.Context, after, upTo time.Time) ([]model.FlowRecord, error) {
	return s.queryFlows(ctx, "query ingested", selectFlows+`WHERE ingested_at > ? AND ingested_at <= ?`,
		after.UnixNano(), upTo.UnixNano())
}

func (s *Store) queryFlows(ctx context.Context, op, q string, args ...any) ([]model.FlowRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []model.FlowRecord
	for rows.Next() {
		var (
			r                          model.FlowRecord
			src, dst                   int64
			srcPort, dstPort, protocol int64
			bytes, packets             int64
			observed, ingested         int64
		)
		if err := rows.Scan(&r.ID, &src, &dst, &srcPort, &dstPort, &protocol, &bytes, &packets, &observed, &ingested); err != nil {
			return nil, s.wrap("scan flow", err)
		}
		if r.SrcIP, err = ipaddr.FromInt64(src); err != nil {
			return nil, s.wrap("scan flow", err)
		}
		if r.DstIP, err = ipaddr.FromInt64(dst); err != nil {
			return nil, s.wrap("scan flow", err)
		}
		r.SrcPort, r.DstPort, r.Protocol = uint16(srcPort), uint16(dstPort), uint8(protocol)
		r.Bytes, r.Packets = uint64(bytes), uint64(packets)
		r.ObservedAt = time.Unix(0, observed)
		r.IngestedAt = time.Unix(0, ingested)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

// PurgeOlderThan deletes flows observed before now-retention.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM flows WHERE observed_at < ?`), cutoff)
	if err != nil {
		return 0, s.wrap("purge flows", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrap("purge flows", err)
	}
	return n, nil
}

const upsertTalker = `INSERT INTO recent_talkers (id, internal_ip, external_ip, score, last_update) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET internal_ip = excluded.internal_ip, external_ip = excluded.external_ip,
score = excluded.score, last_update = excluded.last_update`

// Upsert inserts or replaces one talker row.
func (s *Store) Upsert(ctx context.Context, talker model.RecentTalker) error {
	return s.UpsertAll(ctx, []model.RecentTalker{talker})
}

// UpsertAll writes rows in one transaction.
func (s *Store) UpsertAll(ctx context.Context, talkers []model.RecentTalker) error {
	if len(talkers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertTalker))
	if err != nil {
		return s.wrap("prepare upsert", err)
	}
	defer stmt.Close()

	for _, t := range talkers {
		if t.ID == "" {
			t.ID = model.TalkerID(t.InternalIP, t.ExternalIP)
		}
		if _, err := stmt.ExecContext(ctx, t.ID, int64(t.InternalIP), int64(t.ExternalIP), t.Score, t.LastUpdate.UnixNano()); err != nil {
			return s.wrap("upsert talker", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

// ListRanked returns every talker row in rank order.
func (s *Store) ListRanked(ctx context.Context) ([]model.RecentTalker, error) {
	return s.ranked(ctx, `SELECT id, internal_ip, external_ip, score, last_update FROM recent_talkers ORDER BY `+model.RankOrderSQL)
}

// TopN returns the first limit rows in rank order.
func (s *Store) TopN(ctx context.Context, limit int) ([]model.RecentTalker, error) {
	if limit < 0 {
		return s.ListRanked(ctx)
	}
	return s.ranked(ctx, `SELECT id, internal_ip, external_ip, score, last_update FROM recent_talkers ORDER BY `+model.RankOrderSQL+` LIMIT ?`, limit)
}

// PurgeToRetention keeps the first keep rows in rank order and deletes the rest.
func (s *Store) PurgeToRetention(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM recent_talkers WHERE id NOT IN (SELECT id FROM recent_talkers ORDER BY `+model.RankOrderSQL+` LIMIT ?)`), keep)
	if err != nil {
		return 0, s.wrap("purge talkers", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrap("purge talkers", err)
	}
	return n, nil
}

func (s *Store) ranked(ctx context.Context, q string, args ...any) ([]model.RecentTalker, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, s.wrap("list talkers", err)
	}
	defer rows.Close()

	var out []model.RecentTalker
	for rows.Next() {
		var (
			t                  model.RecentTalker
			internal, external int64
			last               int64
		)
		if err := rows.Scan(&t.ID, &internal, &external, &t.Score, &last); err != nil {
			return nil, s.wrap("scan talker", err)
		}
		if t.InternalIP, err = ipaddr.FromInt64(internal); err != nil {
			return nil, s.wrap("scan talker", err)
		}
		if t.ExternalIP, err = ipaddr.FromInt64(external); err != nil {
			return nil, s.wrap("scan talker", err)
		}
		t.LastUpdate = time.Unix(0, last)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list talkers", err)
	}
	return out, nil
}
