// Package memstore keeps flows and talkers in process memory. It backs tests
// and single-shot runs where nothing needs to survive a restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tymiles003/FlowTrack/internal/model"
)

// FlowStore is an in-memory model.FlowStore.
type FlowStore struct {
	mu    sync.RWMutex
	flows []model.FlowRecord
	now   func() time.Time
}

// NewFlowStore creates an empty store.
func NewFlowStore() *FlowStore {
	return &FlowStore{now: time.Now}
}

// NewFlowStoreWithClock creates an empty store that stamps and purges by now.
func NewFlowStoreWithClock(now func() time.Time) *FlowStore {
	return &FlowStore{now: now}
}

func (s *FlowStore) Append(ctx context.Context, record *model.FlowRecord) error {
	return s.AppendBatch(ctx, []*model.FlowRecord{record})
}

func (s *FlowStore) AppendBatch(ctx context.Context, records []*model.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.IngestedAt = at
		s.flows = append(s.flows, *r)
	}
	return nil
}

func (s *FlowStore) QueryWindow(ctx context.Context, start, end time.Time) ([]model.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FlowRecord
	for _, f := range s.flows {
		if !f.ObservedAt.Before(start) && !f.ObservedAt.After(end) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *FlowStore) QueryIngested(ctx context.Context, after, upTo time.Time) ([]model.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FlowRecord
	for _, f := range s.flows {
		if f.IngestedAt.After(after) && !f.IngestedAt.After(upTo) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *FlowStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.flows[:0]
	var purged int64
	for _, f := range s.flows {
		if f.ObservedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, f)
	}
	s.flows = kept
	return purged, nil
}

// Len reports how many flows are held.
func (s *FlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

func (s *FlowStore) Close() error { return nil }

// TalkerStore is an in-memory model.TalkerStore.
type TalkerStore struct {
	mu   sync.RWMutex
	rows map[string]model.RecentTalker
}

// NewTalkerStore creates an empty store.
func NewTalkerStore() *TalkerStore {
	return &TalkerStore{rows: make(map[string]model.RecentTalker)}
}

func (s *TalkerStore) Upsert(ctx context.Context, talker model.RecentTalker) error {
	return s.UpsertAll(ctx, []model.RecentTalker{talker})
}

func (s *TalkerStore) UpsertAll(ctx context.Context, talkers []model.RecentTalker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range talkers {
		if t.ID == "" {
			t.ID = model.TalkerID(t.InternalIP, t.ExternalIP)
		}
		s.rows[t.ID] = t
	}
	return nil
}

func (s *TalkerStore) ListRanked(ctx context.Context) ([]model.RecentTalker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranked(), nil
}

func (s *TalkerStore) TopN(ctx context.Context, limit int) ([]model.RecentTalker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.ranked()
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *TalkerStore) PurgeToRetention(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.ranked()
	if keep < 0 {
		keep = 0
	}
	var purged int64
	for i := keep; i < len(rows); i++ {
		delete(s.rows, rows[i].ID)
		purged++
	}
	return purged, nil
}

func (s *TalkerStore) Close() error { return nil }

func (s *TalkerStore) ranked() []model.RecentTalker {
	rows := make([]model.RecentTalker, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return model.RankLess(rows[i], rows[j]) })
	return rows
}
