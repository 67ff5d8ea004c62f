package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tymiles003/FlowTrack/internal/engine/talker"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/store/memstore"
)

var now = time.Unix(1700000000, 0)

func summary(internal, external uint32, bytes ...uint64) *talker.Summary {
	s := &talker.Summary{Key: talker.Key{Internal: internal, External: external}}
	for _, b := range bytes {
		s.TotalBytes += b
		s.TotalPackets++
		s.Flows = append(s.Flows, model.FlowRecord{SrcIP: internal, DstIP: external, Bytes: b, Packets: 1})
	}
	return s
}

func pairs(ss ...*talker.Summary) map[talker.Key]*talker.Summary {
	m := make(map[talker.Key]*talker.Summary, len(ss))
	for _, s := range ss {
		m[s.Key] = s
	}
	return m
}

func score(t *testing.T, store model.TalkerStore, internal, external uint32) (int64, bool) {
	t.Helper()
	rows, err := store.ListRanked(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	id := model.TalkerID(internal, external)
	for _, r := range rows {
		if r.ID == id {
			return r.Score, true
		}
	}
	return 0, false
}

func TestRunCycle_Threshold(t *testing.T) {
	store := memstore.NewTalkerStore()
	e := New(DefaultConfig(), store)

	res, err := e.RunCycle(context.Background(), now, pairs(
		summary(1, 100, 499),
		summary(2, 100, 500),
	))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := score(t, store, 1, 100); ok {
		t.Error("a new pair at 499 bytes must not be written")
	}
	if s, ok := score(t, store, 2, 100); !ok || s != 500 {
		t.Errorf("a pair at 500 bytes should score 500, got %d (%v)", s, ok)
	}
	if res.Created != 1 || res.Incremented != 1 || res.Written != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunCycle_AverageIncrement(t *testing.T) {
	store := memstore.NewTalkerStore()
	e := New(Config{Decrement: 0.5, MinBytesThreshold: 400, Retention: 21}, store)

	if _, err := e.RunCycle(context.Background(), now, pairs(summary(1, 2, 100, 250, 50))); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 2); s != 133 {
		t.Errorf("expected floor(400/3) = 133, got %d", s)
	}
}

func TestRunCycle_Decay(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewTalkerStore()
	store.Upsert(ctx, model.NewRecentTalker(1, 2, 100, now.Add(-200*time.Second)))
	store.Upsert(ctx, model.NewRecentTalker(3, 4, 10, now.Add(-200*time.Second)))

	e := New(DefaultConfig(), store)
	if _, err := e.RunCycle(ctx, now, nil); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 2); s != 0 {
		t.Errorf("expected 100 - floor(0.5*200) = 0, got %d", s)
	}
	if s, _ := score(t, store, 3, 4); s != -90 {
		t.Errorf("scores are not floored at zero, expected -90, got %d", s)
	}

	rows, _ := store.ListRanked(ctx)
	for _, r := range rows {
		if !r.LastUpdate.Equal(now) {
			t.Errorf("decayed rows should be stamped with now, got %v", r.LastUpdate)
		}
	}
}

func TestRunCycle_DecayThenIncrement(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewTalkerStore()
	store.Upsert(ctx, model.NewRecentTalker(1, 2, 100, now.Add(-200*time.Second)))

	e := New(DefaultConfig(), store)
	if _, err := e.RunCycle(ctx, now, pairs(summary(1, 2, 300), summary(5, 6, 10))); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 2); s != 300 {
		t.Errorf("expected 0 + 300, got %d", s)
	}

	// An existing pair below the threshold still decays.
	store.Upsert(ctx, model.NewRecentTalker(7, 8, 50, now.Add(-20*time.Second)))
	if _, err := e.RunCycle(ctx, now, pairs(summary(7, 8, 10))); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 7, 8); s != 40 {
		t.Errorf("expected 50 - 10, got %d", s)
	}
}

func TestRunCycle_NegativeElapsed(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewTalkerStore()
	store.Upsert(ctx, model.NewRecentTalker(1, 2, 100, now.Add(time.Minute)))

	if _, err := New(DefaultConfig(), store).RunCycle(ctx, now, nil); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 2); s != 100 {
		t.Errorf("a clock step backwards must not change the score, got %d", s)
	}
}

func TestRunCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewTalkerStore()
	store.Upsert(ctx, model.NewRecentTalker(1, 2, 100, now.Add(-30*time.Second)))
	e := New(DefaultConfig(), store)

	if _, err := e.RunCycle(ctx, now, nil); err != nil {
		t.Fatal(err)
	}
	first, _ := score(t, store, 1, 2)
	if _, err := e.RunCycle(ctx, now, nil); err != nil {
		t.Fatal(err)
	}
	second, _ := score(t, store, 1, 2)
	if first != 85 || second != first {
		t.Errorf("expected 85 both times, got %d then %d", first, second)
	}
}

func TestRunCycle_Empty(t *testing.T) {
	store := memstore.NewTalkerStore()
	res, err := New(DefaultConfig(), store).RunCycle(context.Background(), now, nil)
	if err != nil {
		t.Fatalf("an empty cycle should not fail: %v", err)
	}
	if res != (CycleResult{}) {
		t.Errorf("expected a no-op, got %+v", res)
	}
}

func TestRunCycle_Retention(t *testing.T) {
	store := memstore.NewTalkerStore()
	e := New(DefaultConfig(), store)

	var ss []*talker.Summary
	for i := uint32(0); i < 40; i++ {
		ss = append(ss, summary(i, 1000, uint64(500+i*10)))
	}
	res, err := e.RunCycle(context.Background(), now, pairs(ss...))
	if err != nil {
		t.Fatal(err)
	}
	if res.Purged != 19 {
		t.Errorf("expected 19 purged, got %d", res.Purged)
	}

	rows, _ := store.ListRanked(context.Background())
	if len(rows) != 21 {
		t.Fatalf("expected 21 rows, got %d", len(rows))
	}
	// Pairs 19..39 survive; every purged score is below every retained one.
	if lowest := rows[len(rows)-1].Score; lowest != 690 {
		t.Errorf("lowest retained score should be 690, got %d", lowest)
	}
}

func TestRunCycle_WeightFunc(t *testing.T) {
	store := memstore.NewTalkerStore()
	double := func(_ Config, _ *talker.Summary, avg int64) int64 { return 2 * avg }
	e := New(DefaultConfig(), store, WithWeightFunc(double))

	if _, err := e.RunCycle(context.Background(), now, pairs(summary(1, 2, 600))); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 2); s != 1200 {
		t.Errorf("expected weighted 1200, got %d", s)
	}
}

type failingStore struct {
	*memstore.TalkerStore
}

var errDisk = errors.New("disk full")

func (failingStore) UpsertAll(context.Context, []model.RecentTalker) error { return errDisk }

func TestRunCycle_StoreError(t *testing.T) {
	store := failingStore{memstore.NewTalkerStore()}
	_, err := New(DefaultConfig(), store).RunCycle(context.Background(), now, pairs(summary(1, 2, 600)))
	if !errors.Is(err, errDisk) {
		t.Errorf("expected the store error, got %v", err)
	}
}

func TestRunCycle_ScoreSaturates(t *testing.T) {
	store := memstore.NewTalkerStore()
	e := New(DefaultConfig(), store)
	ctx := context.Background()

	huge := summary(1, 100, math.MaxUint64)
	if _, err := e.RunCycle(ctx, now, pairs(huge)); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 100); s != math.MaxInt64 {
		t.Fatalf("average above MaxInt64 should clamp, got %d", s)
	}

	// Incrementing a saturated row must not wrap negative.
	if _, err := e.RunCycle(ctx, now, pairs(huge)); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 100); s != math.MaxInt64 {
		t.Errorf("score wrapped to %d", s)
	}
}

func TestRunCycle_DecaySaturates(t *testing.T) {
	store := memstore.NewTalkerStore()
	store.Upsert(context.Background(), model.NewRecentTalker(1, 100, -10, now))
	cfg := DefaultConfig()
	cfg.Decrement = math.MaxFloat64
	e := New(cfg, store)

	if _, err := e.RunCycle(context.Background(), now.Add(time.Hour), nil); err != nil {
		t.Fatal(err)
	}
	if s, _ := score(t, store, 1, 100); s != math.MinInt64 {
		t.Errorf("decay should clamp at MinInt64, got %d", s)
	}
}
