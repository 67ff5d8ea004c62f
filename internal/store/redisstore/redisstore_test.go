package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func TestDecodeRow(t *testing.T) {
	row, err := decodeRow("1-2", map[string]string{
		"internal_ip": "1", "external_ip": "2", "score": "-40", "last_update": "1700000000000000001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if row.Score != -40 || row.LastUpdate.UnixNano() != 1700000000000000001 {
		t.Errorf("unexpected row %+v", row)
	}
	if _, err := decodeRow("x", map[string]string{"internal_ip": "-1"}); err == nil {
		t.Error("expected error for negative address")
	}
}

func TestTalkerStore(t *testing.T) {
	addr := os.Getenv("FLOWTRACK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLOWTRACK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := New(ctx, config.RedisConfig{Addr: addr, KeyPrefix: "flowtrack-test-" + uuid.NewString()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	now := time.Unix(1700000000, 5)
	rows := []model.RecentTalker{
		model.NewRecentTalker(1, 10, 50, now.Add(-time.Minute)),
		model.NewRecentTalker(2, 10, 90, now),
		model.NewRecentTalker(3, 10, 50, now),
	}
	if err := s.UpsertAll(ctx, rows); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopN(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].InternalIP != 2 || top[1].InternalIP != 3 {
		t.Errorf("ties should be broken by recency: %+v", top)
	}

	if n, err := s.PurgeToRetention(ctx, 2); err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d (%v)", n, err)
	}
	left, _ := s.ListRanked(ctx)
	if len(left) != 2 {
		t.Errorf("expected 2 rows left, got %d", len(left))
	}
	s.PurgeToRetention(ctx, 0)
}
