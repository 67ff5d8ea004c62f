package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	DatagramsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flowtrack_datagrams_total", Help: "export datagrams received"}, []string{"result"})
	FlowsIngested  = prometheus.NewCounter(prometheus.CounterOpts{Name: "flowtrack_flows_ingested_total", Help: "flow records persisted"})
	FlowsDropped   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flowtrack_flows_dropped_total", Help: "flow records dropped before persistence"}, []string{"reason"})
	FlowsPurged    = prometheus.NewCounter(prometheus.CounterOpts{Name: "flowtrack_flows_purged_total", Help: "flow records deleted by retention"})
	TalkersPurged  = prometheus.NewCounter(prometheus.CounterOpts{Name: "flowtrack_talkers_purged_total", Help: "talker rows deleted by top-K retention"})
	CyclesTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flowtrack_reporting_cycles_total", Help: "reporting cycles run"}, []string{"status"})
	CycleDuration  = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "flowtrack_reporting_cycle_seconds", Help: "reporting cycle duration", Buckets: prometheus.DefBuckets})
	TalkersTracked = prometheus.NewGauge(prometheus.GaugeOpts{Name: "flowtrack_talkers_tracked", Help: "talker rows kept after the last cycle"})
)

func init() {
	prometheus.MustRegister(DatagramsTotal, FlowsIngested, FlowsDropped, FlowsPurged, TalkersPurged, CyclesTotal, CycleDuration, TalkersTracked)
}

// Serve exposes /metrics and a trivial /healthz on addr until the listener fails.
func Serve(addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Warnw("metrics server stopped", "err", err)
	}
}
