package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/engine/scoring"
	"github.com/tymiles003/FlowTrack/internal/engine/talker"
	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/metrics"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// Publisher relays persisted flow batches, e.g. to NATS.
type Publisher interface {
	Publish(records []model.FlowRecord) error
}

// Manager runs ingestion, the reporting cycle and the flow purge on
// independent goroutines.
type Manager struct {
	flows   model.FlowStore
	talkers model.TalkerStore
	engine  *scoring.Engine
	network *ipaddr.Network
	log     *logging.Logger
	tracer  trace.Tracer

	snapshots model.SnapshotWriter
	publisher Publisher
	now       func() time.Time

	// Worker pool for batched persistence
	recordChannel chan model.FlowRecord
	numWorkers    int
	batchSize     int
	flushInterval time.Duration
	workerWg      sync.WaitGroup
	inputMu       sync.RWMutex
	inputClosed   bool

	// Reporting and purging
	reportPeriod  time.Duration
	settle        time.Duration
	flowRetention time.Duration
	done          chan struct{}
	tickerWg      sync.WaitGroup

	// cursor is the IngestedAt up to which flows have been scored.
	cursorMu sync.Mutex
	cursor   time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSnapshotWriter writes the ranked table after every successful cycle.
func WithSnapshotWriter(w model.SnapshotWriter) Option {
	return func(m *Manager) { m.snapshots = w }
}

// WithPublisher relays every persisted batch.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithClock replaces time.Now for the tickers.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over the given stores.
func NewManager(cfg *config.Config, flows model.FlowStore, talkers model.TalkerStore, log *logging.Logger, opts ...Option) (*Manager, error) {
	network, err := ipaddr.ParseNetwork(cfg.InternalNetwork)
	if err != nil {
		return nil, fmt.Errorf("invalid internal network: %w", err)
	}
	if cfg.ReportingPeriod() <= 0 || cfg.FlowRetention() <= 0 {
		return nil, fmt.Errorf("reporting and purge intervals must be positive")
	}

	scoringCfg := scoring.Config{
		Decrement:         cfg.Scoring.Decrement,
		MinBytesThreshold: cfg.Scoring.MinBytesThreshold,
		BytesWeight:       cfg.Scoring.BytesWeight,
		Retention:         cfg.Scoring.Retention,
	}

	m := &Manager{
		flows:         flows,
		talkers:       talkers,
		engine:        scoring.New(scoringCfg, talkers, scoring.WithLogger(log)),
		network:       network,
		log:           log,
		tracer:        otel.Tracer("flowtrack/manager"),
		now:           time.Now,
		recordChannel: make(chan model.FlowRecord, cfg.Ingest.ChannelSize),
		numWorkers:    cfg.Ingest.NumWorkers,
		batchSize:     cfg.Ingest.BatchSize,
		flushInterval: cfg.FlushInterval(),
		reportPeriod:  cfg.ReportingPeriod(),
		settle:        cfg.SettleTime(),
		flowRetention: cfg.FlowRetention(),
		done:          make(chan struct{}),
	}
	if m.numWorkers < 1 {
		m.numWorkers = 1
	}
	if m.batchSize < 1 {
		m.batchSize = 1
	}
	if m.flushInterval <= 0 {
		m.flushInterval = time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Network is the parsed internal network.
func (m *Manager) Network() *ipaddr.Network { return m.network }

// Start begins the ingest workers, the reporter and the purger.
func (m *Manager) Start() {
	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}

	m.tickerWg.Add(2)
	go m.runReporter()
	go m.runPurger()
	m.log.Infow("Manager started", "workers", m.numWorkers, "reporting_period", m.reportPeriod, "flow_retention", m.flowRetention)
}

// Enqueue hands a decoded record to the ingest workers without blocking.
// It returns false, and counts a drop, when the queue is full or stopped.
func (m *Manager) Enqueue(r model.FlowRecord) bool {
	m.inputMu.RLock()
	defer m.inputMu.RUnlock()
	if m.inputClosed {
		metrics.FlowsDropped.WithLabelValues("stopped").Inc()
		return false
	}
	select {
	case m.recordChannel <- r:
		return true
	default:
		metrics.FlowsDropped.WithLabelValues("queue_full").Inc()
		return false
	}
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	batch := make([]model.FlowRecord, 0, m.batchSize)
	for {
		select {
		case r, ok := <-m.recordChannel:
			if !ok {
				m.flush(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= m.batchSize {
				m.flush(batch)
				batch = make([]model.FlowRecord, 0, m.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(batch)
				batch = make([]model.FlowRecord, 0, m.batchSize)
			}
		}
	}
}

// flush persists a batch; a failed batch is dropped and counted.
func (m *Manager) flush(batch []model.FlowRecord) {
	if len(batch) == 0 {
		return
	}
	ptrs := make([]*model.FlowRecord, len(batch))
	for i := range batch {
		ptrs[i] = &batch[i]
	}
	if err := m.flows.AppendBatch(context.Background(), ptrs); err != nil {
		metrics.FlowsDropped.WithLabelValues("storage").Add(float64(len(batch)))
		m.log.Errorw("Failed to persist flow batch", "size", len(batch), "error", err)
		return
	}
	metrics.FlowsIngested.Add(float64(len(batch)))

	if m.publisher != nil {
		if err := m.publisher.Publish(batch); err != nil {
			m.log.Warnw("Failed to relay flow batch", "size", len(batch), "error", err)
		}
	}
}

func (m *Manager) runReporter() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.reportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunReport(context.Background(), m.now()); err != nil {
				m.log.Errorw("Reporting cycle failed", "error", err)
			}
		case <-m.done:
			m.log.Info("Reporter shutting down.")
			return
		}
	}
}

func (m *Manager) runPurger() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.flowRetention)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunPurge(context.Background()); err != nil {
				m.log.Errorw("Flow purge failed", "error", err)
			}
		case <-m.done:
			m.log.Info("Purger shutting down.")
			return
		}
	}
}

// RunReport runs one reporting cycle over the flows ingested within
// (cursor, now - settle]. The first cycle reads back one reporting period.
// Flows are selected by IngestedAt, so a flow exported late is scored by the
// next cycle whatever its ObservedAt. The cursor advances once the window has
// been read, so a failed cycle never scores the same flows twice.
func (m *Manager) RunReport(ctx context.Context, now time.Time) (scoring.CycleResult, error) {
	ctx, span := m.tracer.Start(ctx, "reporting_cycle")
	defer span.End()
	start := time.Now()

	res, err := m.runReport(ctx, now, span)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.TalkersPurged.Add(float64(res.Purged))
	return res, nil
}

func (m *Manager) runReport(ctx context.Context, now time.Time, span trace.Span) (scoring.CycleResult, error) {
	m.cursorMu.Lock()
	upTo := now.Add(-m.settle)
	after := m.cursor
	if after.IsZero() {
		after = upTo.Add(-m.reportPeriod)
	}
	flows, err := m.flows.QueryIngested(ctx, after, upTo)
	if err != nil {
		m.cursorMu.Unlock()
		return scoring.CycleResult{}, fmt.Errorf("failed to read ingested flows: %w", err)
	}
	if upTo.After(m.cursor) {
		m.cursor = upTo
	}
	m.cursorMu.Unlock()

	agg := talker.Aggregate(flows, m.network)
	if agg.Skipped > 0 {
		m.log.Infow("Skipped flows with no internal endpoint", "count", agg.Skipped)
	}
	span.SetAttributes(
		attribute.Int("flows", len(flows)),
		attribute.Int("pairs", len(agg.Pairs)),
		attribute.Int("skipped", agg.Skipped),
	)

	res, err := m.engine.RunCycle(ctx, now, agg.Pairs)
	if err != nil {
		return res, err
	}

	ranked, err := m.talkers.ListRanked(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read ranked talkers: %w", err)
	}
	metrics.TalkersTracked.Set(float64(len(ranked)))
	if m.snapshots != nil {
		if err := m.snapshots.Write(ranked, now); err != nil {
			m.log.Warnw("Failed to write talker snapshot", "error", err)
		}
	}

	m.log.Infow("Reporting cycle complete",
		"ingested_after", after, "ingested_up_to", upTo, "flows", len(flows), "pairs", len(agg.Pairs),
		"written", res.Written, "purged", res.Purged, "talkers", len(ranked))
	return res, nil
}

// RunPurge deletes flows older than the retention interval.
func (m *Manager) RunPurge(ctx context.Context) (int64, error) {
	n, err := m.flows.PurgeOlderThan(ctx, m.flowRetention)
	if err != nil {
		return 0, err
	}
	metrics.FlowsPurged.Add(float64(n))
	if n > 0 {
		m.log.Infow("Purged expired flows", "count", n, "retention", m.flowRetention)
	}
	return n, nil
}

// Stop closes the input, drains the workers and stops the tickers.
func (m *Manager) Stop() {
	m.log.Info("Manager stopping...")
	m.inputMu.Lock()
	if !m.inputClosed {
		m.inputClosed = true
		close(m.recordChannel)
	}
	m.inputMu.Unlock()

	m.log.Info("Waiting for workers to finish...")
	m.workerWg.Wait()

	close(m.done)
	m.tickerWg.Wait()
	m.log.Info("Manager stopped.")
}
