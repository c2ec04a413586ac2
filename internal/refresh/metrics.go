package refresh

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics accumulates refresh counters for the process lifetime and
// mirrors them onto a prometheus registry for the optional metrics
// endpoint.
type Metrics struct {
	mu       sync.Mutex
	total    uint64
	deduped  uint64
	bySource map[Source]uint64

	requests *prometheus.CounterVec
	dedups   prometheus.Counter
	duration prometheus.Histogram
}

// Snapshot is a read-only copy handed to consumers.
type Snapshot struct {
	TotalRefreshes    uint64
	TotalDeduplicated uint64
	SourceFrequency   map[Source]uint64
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bySource: map[Source]uint64{},
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchview_refreshes_total",
			Help: "Refresh requests by trigger source.",
		}, []string{"source"}),
		dedups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branchview_refreshes_deduplicated_total",
			Help: "Refresh requests that joined an in-flight computation.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "branchview_refresh_duration_seconds",
			Help:    "Wall time of status computations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.dedups, m.duration)
	}
	return m
}

func (m *Metrics) request(src Source) {
	m.mu.Lock()
	m.total++
	m.bySource[src]++
	m.mu.Unlock()
	m.requests.WithLabelValues(string(src)).Inc()
}

func (m *Metrics) deduplicated() {
	m.mu.Lock()
	m.deduped++
	m.mu.Unlock()
	m.dedups.Inc()
}

func (m *Metrics) observe(seconds float64) {
	m.duration.Observe(seconds)
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	freq := make(map[Source]uint64, len(m.bySource))
	for s, n := range m.bySource {
		freq[s] = n
	}
	return Snapshot{TotalRefreshes: m.total, TotalDeduplicated: m.deduped, SourceFrequency: freq}
}
