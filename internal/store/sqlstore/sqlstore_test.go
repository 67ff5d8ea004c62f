package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/store"
)

var now = time.Unix(1700000000, 123456789)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "flowtrack.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	s.now = func() time.Time { return now }
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFlows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	records := []*model.FlowRecord{
		{SrcIP: 3232235786, DstIP: 134744072, SrcPort: 40000, DstPort: 53, Protocol: 17, Bytes: 600, Packets: 5, ObservedAt: now.Add(-time.Minute)},
		{SrcIP: 3232235786, DstIP: 4294967295, SrcPort: 1, DstPort: 443, Protocol: 6, Bytes: 1 << 40, Packets: 9, ObservedAt: now.Add(-2 * time.Hour)},
	}
	if err := s.AppendBatch(ctx, records); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if records[0].ID == "" {
		t.Error("expected an assigned id")
	}

	got, err := s.QueryWindow(ctx, now.Add(-time.Minute), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 flow in window, got %d", len(got))
	}
	r := got[0]
	if r.ID != records[0].ID || r.SrcIP != 3232235786 || r.DstIP != 134744072 || r.DstPort != 53 || r.Protocol != 17 || r.Bytes != 600 || r.Packets != 5 {
		t.Errorf("unexpected record %+v", r)
	}
	if !r.ObservedAt.Equal(records[0].ObservedAt) {
		t.Errorf("observed_at lost precision: %v vs %v", r.ObservedAt, records[0].ObservedAt)
	}

	all, _ := s.QueryWindow(ctx, now.Add(-3*time.Hour), now)
	if len(all) != 2 || (all[0].DstIP != 4294967295 && all[1].DstIP != 4294967295) {
		t.Errorf("broadcast address should round-trip: %+v", all)
	}

	n, err := s.PurgeOlderThan(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("expected 1 purged, got %d (%v)", n, err)
	}
	if n, _ := s.PurgeOlderThan(ctx, time.Hour); n != 0 {
		t.Errorf("purge should be idempotent, removed %d", n)
	}
}

func TestFlows_DuplicateIDFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	batch := []*model.FlowRecord{
		{ID: "dup", SrcIP: 1, DstIP: 2, ObservedAt: now},
		{ID: "dup", SrcIP: 3, DstIP: 4, ObservedAt: now},
	}
	err := s.AppendBatch(ctx, batch)
	var se *store.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	got, _ := s.QueryWindow(ctx, now.Add(-time.Hour), now)
	if len(got) != 0 {
		t.Errorf("no partial batch should be stored, found %d", len(got))
	}
}

func TestFlows_QueryIngested(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	clock := now
	s.now = func() time.Time { return clock }

	// Observed long before it reaches the store.
	late := &model.FlowRecord{SrcIP: 3232235786, DstIP: 134744072, Bytes: 600, ObservedAt: now.Add(-time.Hour)}
	if err := s.Append(ctx, late); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !late.IngestedAt.Equal(now) {
		t.Errorf("IngestedAt = %v, want %v", late.IngestedAt, now)
	}
	clock = now.Add(time.Second)
	if err := s.Append(ctx, &model.FlowRecord{SrcIP: 1, DstIP: 2, ObservedAt: clock}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := s.QueryIngested(ctx, now.Add(-time.Nanosecond), now)
	if err != nil {
		t.Fatalf("QueryIngested failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != late.ID {
		t.Fatalf("expected only the late flow, got %+v", got)
	}
	if !got[0].IngestedAt.Equal(now) || !got[0].ObservedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("timestamps did not round-trip: %+v", got[0])
	}

	got, _ = s.QueryIngested(ctx, now, clock)
	if len(got) != 1 || got[0].SrcIP != 1 {
		t.Errorf("lower bound should be exclusive, got %+v", got)
	}
}

func TestMigrate_AddsIngestedAtToExistingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	ctx := context.Background()
	stmts := []string{
		`DROP TABLE flows`,
		`CREATE TABLE flows (id TEXT PRIMARY KEY, src_ip BIGINT NOT NULL, dst_ip BIGINT NOT NULL, src_port INTEGER NOT NULL, dst_port INTEGER NOT NULL, protocol INTEGER NOT NULL, bytes BIGINT NOT NULL, packets BIGINT NOT NULL, observed_at BIGINT NOT NULL)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			t.Fatalf("failed to build legacy table: %v", err)
		}
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen should migrate the legacy table: %v", err)
	}
	defer s.Close()
	if err := s.Append(ctx, &model.FlowRecord{SrcIP: 1, DstIP: 2, ObservedAt: now}); err != nil {
		t.Errorf("Append after migration failed: %v", err)
	}
}

func TestTalkers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rows := []model.RecentTalker{
		model.NewRecentTalker(1, 10, 50, now.Add(-time.Minute)),
		model.NewRecentTalker(2, 10, 90, now.Add(-time.Hour)),
		model.NewRecentTalker(3, 10, 50, now),
		model.NewRecentTalker(4, 10, -5, now),
	}
	if err := s.UpsertAll(ctx, rows); err != nil {
		t.Fatal(err)
	}
	// Upsert replaces by id.
	if err := s.Upsert(ctx, model.NewRecentTalker(4, 10, 70, now)); err != nil {
		t.Fatal(err)
	}

	ranked, err := s.ListRanked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{2, 4, 3, 1}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(ranked))
	}
	for i, w := range want {
		if ranked[i].InternalIP != w {
			t.Errorf("position %d: expected %d, got %d", i, w, ranked[i].InternalIP)
		}
	}
	if !ranked[2].LastUpdate.Equal(now) {
		t.Errorf("last_update lost precision: %v", ranked[2].LastUpdate)
	}

	top, _ := s.TopN(ctx, 2)
	if len(top) != 2 || top[0].InternalIP != 2 || top[1].InternalIP != 4 {
		t.Errorf("top 2 should follow the ranked order: %+v", top)
	}

	purged, err := s.PurgeToRetention(ctx, 3)
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged, got %d (%v)", purged, err)
	}
	left, _ := s.ListRanked(ctx)
	for _, r := range left {
		if r.InternalIP == 1 {
			t.Error("the lowest ranked row should have been purged")
		}
	}
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- s.Append(ctx, &model.FlowRecord{SrcIP: uint32(i), DstIP: 1, Bytes: 1, ObservedAt: now})
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.QueryWindow(ctx, now.Add(-time.Minute), now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent access failed: %v", err)
		}
	}

	got, _ := s.QueryWindow(ctx, now, now)
	if len(got) != 20 {
		t.Errorf("expected 20 flows, got %d", len(got))
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("unexpected rebind %q", got)
	}
	s.dialect = SQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite queries are unchanged, got %q", got)
	}
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("FLOWTRACK_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FLOWTRACK_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.db.ExecContext(ctx, "DELETE FROM recent_talkers")

	if err := s.UpsertAll(ctx, []model.RecentTalker{
		model.NewRecentTalker(1, 2, 10, now),
		model.NewRecentTalker(3, 4, 20, now),
	}); err != nil {
		t.Fatal(err)
	}
	if n, err := s.PurgeToRetention(ctx, 1); err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d (%v)", n, err)
	}
	top, err := s.TopN(ctx, 5)
	if err != nil || len(top) != 1 || top[0].Score != 20 {
		t.Errorf("unexpected rows %+v (%v)", top, err)
	}
}
