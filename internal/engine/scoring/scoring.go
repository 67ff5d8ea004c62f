// Package scoring maintains the decaying talker scores across reporting cycles.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tymiles003/FlowTrack/internal/engine/talker"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// Config holds the scoring tunables. It is copied into the Engine at
// construction and never changes afterwards.
type Config struct {
	// Decrement is the score lost per elapsed second since a row's last update.
	Decrement float64
	// MinBytesThreshold is the window total a pair needs before it earns an increment.
	MinBytesThreshold uint64
	// BytesWeight is reserved for a flow-count bonus. The default WeightFunc ignores it.
	BytesWeight float64
	// Retention is how many rows survive the purge at the end of a cycle.
	Retention int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{Decrement: 0.5, MinBytesThreshold: 500, Retention: 21}
}

// WeightFunc turns the per-flow average of a pair into its score increment.
type WeightFunc func(cfg Config, s *talker.Summary, average int64) int64

// Identity is the default WeightFunc: the increment is the per-flow average.
func Identity(_ Config, _ *talker.Summary, average int64) int64 {
	return average
}

// CycleResult summarizes one RunCycle.
type CycleResult struct {
	Decayed     int
	Created     int
	Incremented int
	Written     int
	Purged      int64
}

// Engine applies decay and increments to a TalkerStore. One cycle runs at a time.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	store  model.TalkerStore
	weight WeightFunc
	log    *logging.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithWeightFunc replaces the increment hook.
func WithWeightFunc(fn WeightFunc) Option {
	return func(e *Engine) { e.weight = fn }
}

// WithLogger sets the engine's logger.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine over store.
func New(cfg Config, store model.TalkerStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		weight: Identity,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's tunables.
func (e *Engine) Config() Config { return e.cfg }

// RunCycle decays every stored row to now, adds this window's increments,
// writes the touched rows back and purges the table to the retention bound.
func (e *Engine) RunCycle(ctx context.Context, now time.Time, pairs map[talker.Key]*talker.Summary) (CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res CycleResult

	existing, err := e.store.ListRanked(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load talkers: %w", err)
	}

	rows := make(map[string]*model.RecentTalker, len(existing)+len(pairs))
	order := make([]string, 0, len(existing)+len(pairs))
	for i := range existing {
		r := &existing[i]
		r.Score = subSat(r.Score, e.decay(now, r.LastUpdate))
		r.LastUpdate = now
		rows[r.ID] = r
		order = append(order, r.ID)
		res.Decayed++
	}

	for key, s := range pairs {
		id := key.ID()
		r, ok := rows[id]
		if !ok {
			if !e.earns(s) {
				// A new pair below the threshold is never written.
				continue
			}
			nr := model.NewRecentTalker(key.Internal, key.External, 0, now)
			r = &nr
			rows[id] = r
			order = append(order, id)
			res.Created++
		}
		if e.earns(s) {
			avg := s.TotalBytes / uint64(len(s.Flows))
			if avg > math.MaxInt64 {
				avg = math.MaxInt64
			}
			r.Score = addSat(r.Score, e.weight(e.cfg, s, int64(avg)))
			res.Incremented++
		}
	}

	touched := make([]model.RecentTalker, 0, len(order))
	for _, id := range order {
		touched = append(touched, *rows[id])
	}
	if len(touched) > 0 {
		if err := e.store.UpsertAll(ctx, touched); err != nil {
			return res, fmt.Errorf("failed to write talkers: %w", err)
		}
	}
	res.Written = len(touched)

	purged, err := e.store.PurgeToRetention(ctx, e.cfg.Retention)
	if err != nil {
		return res, fmt.Errorf("failed to purge talkers: %w", err)
	}
	res.Purged = purged

	e.log.Debugw("Scoring cycle complete",
		"decayed", res.Decayed, "created", res.Created, "incremented", res.Incremented,
		"written", res.Written, "purged", res.Purged)
	return res, nil
}

// decay is floor(Decrement * elapsed seconds); time running backwards counts as zero.
func (e *Engine) decay(now, last time.Time) int64 {
	elapsed := now.Sub(last).Seconds()
	if elapsed <= 0 {
		return 0
	}
	d := math.Floor(e.cfg.Decrement * elapsed)
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(d)
}

// addSat and subSat clamp to the int64 range instead of wrapping.
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func subSat(a, b int64) int64 {
	if b == math.MinInt64 {
		return addSat(addSat(a, math.MaxInt64), 1)
	}
	return addSat(a, -b)
}

func (e *Engine) earns(s *talker.Summary) bool {
	return len(s.Flows) > 0 && s.TotalBytes >= e.cfg.MinBytesThreshold
}
