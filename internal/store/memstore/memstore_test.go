package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/tymiles003/FlowTrack/internal/model"
)

func TestFlowStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewFlowStore()
	s.now = func() time.Time { return now }

	old := &model.FlowRecord{SrcIP: 1, DstIP: 2, Bytes: 10, ObservedAt: now.Add(-2 * time.Hour)}
	fresh := &model.FlowRecord{SrcIP: 1, DstIP: 2, Bytes: 20, ObservedAt: now.Add(-time.Minute)}
	if err := s.AppendBatch(ctx, []*model.FlowRecord{old, fresh}); err != nil {
		t.Fatal(err)
	}
	if old.ID == "" || fresh.ID == "" || old.ID == fresh.ID {
		t.Errorf("expected distinct ids, got %q and %q", old.ID, fresh.ID)
	}

	got, _ := s.QueryWindow(ctx, now.Add(-time.Minute), now)
	if len(got) != 1 || got[0].Bytes != 20 {
		t.Errorf("window should include its start boundary: %+v", got)
	}

	n, _ := s.PurgeOlderThan(ctx, time.Hour)
	if n != 1 || s.Len() != 1 {
		t.Errorf("expected 1 purged and 1 left, got %d and %d", n, s.Len())
	}
	if n, _ := s.PurgeOlderThan(ctx, time.Hour); n != 0 {
		t.Errorf("second purge should be a no-op, purged %d", n)
	}
}

func TestTalkerStore_Retention(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewTalkerStore()

	var rows []model.RecentTalker
	for i := 0; i < 30; i++ {
		rows = append(rows, model.NewRecentTalker(uint32(i), 1000, int64(i*10-50), now))
	}
	if err := s.UpsertAll(ctx, rows); err != nil {
		t.Fatal(err)
	}

	top, _ := s.TopN(ctx, 3)
	if len(top) != 3 || top[0].Score != 240 || top[2].Score != 220 {
		t.Errorf("unexpected top 3: %+v", top)
	}

	purged, _ := s.PurgeToRetention(ctx, 21)
	if purged != 9 {
		t.Errorf("expected 9 purged, got %d", purged)
	}
	left, _ := s.ListRanked(ctx)
	if len(left) != 21 {
		t.Fatalf("expected 21 rows, got %d", len(left))
	}
	if lowest := left[len(left)-1].Score; lowest != 40 {
		t.Errorf("lowest retained score should be 40, got %d", lowest)
	}
}

func TestFlowStore_QueryIngested(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1700000000, 0)
	s := NewFlowStoreWithClock(func() time.Time { return clock })

	// Observed long before it is written.
	late := &model.FlowRecord{SrcIP: 1, DstIP: 2, Bytes: 10, ObservedAt: clock.Add(-time.Hour)}
	if err := s.Append(ctx, late); err != nil {
		t.Fatal(err)
	}
	if !late.IngestedAt.Equal(clock) {
		t.Errorf("expected IngestedAt %v, got %v", clock, late.IngestedAt)
	}

	clock = clock.Add(time.Second)
	s.Append(ctx, &model.FlowRecord{SrcIP: 3, DstIP: 4, ObservedAt: clock})

	got, _ := s.QueryIngested(ctx, clock.Add(-2*time.Second), clock.Add(-time.Second))
	if len(got) != 1 || got[0].SrcIP != 1 {
		t.Errorf("cursor should include its upper bound: %+v", got)
	}
	got, _ = s.QueryIngested(ctx, clock.Add(-time.Second), clock)
	if len(got) != 1 || got[0].SrcIP != 3 {
		t.Errorf("cursor should exclude its lower bound: %+v", got)
	}
}
