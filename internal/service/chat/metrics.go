package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes compose engine counters to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	fragments          prometheus.Counter
	staleChecks        prometheus.Counter
	finalized          prometheus.Counter
	deferred           prometheus.Counter
	generationFailures prometheus.Counter
	answersDelivered   prometheus.Counter
	answersOverwritten prometheus.Counter
	sessionsPruned     prometheus.Counter
	generationSeconds  prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them on reg.
// The session gauge reads store.Len lazily at scrape time.
func NewMetrics(reg prometheus.Registerer, store *Store) *Metrics {
	m := &Metrics{
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "fragments_total",
			Help:      "Fragments accepted by the compose engine.",
		}),
		staleChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "stale_checks_total",
			Help:      "Debounce checks superseded by a newer fragment.",
		}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "turns_finalized_total",
			Help:      "Turns drained into a finalized question.",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "turns_deferred_total",
			Help:      "Complete turns held back until the previous turn finished.",
		}),
		generationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "generation_failures_total",
			Help:      "Answer generations that returned an error.",
		}),
		answersDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "answers_delivered_total",
			Help:      "Answers popped from the mailbox by a poller.",
		}),
		answersOverwritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "answers_overwritten_total",
			Help:      "Unread answers replaced by a newer one.",
		}),
		sessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "sessions_pruned_total",
			Help:      "Idle sessions removed by the janitor.",
		}),
		generationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "generation_seconds",
			Help:      "Latency of answer generation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
	}

	collectors := []prometheus.Collector{
		m.fragments, m.staleChecks, m.finalized, m.deferred, m.generationFailures,
		m.answersDelivered, m.answersOverwritten, m.sessionsPruned, m.generationSeconds,
	}
	if store != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "handbook",
			Subsystem: "compose",
			Name:      "sessions",
			Help:      "Sessions currently held in memory.",
		}, func() float64 { return float64(store.Len()) }))
	}
	if reg != nil {
		reg.MustRegister(collectors...)
	}
	return m
}

func (m *Metrics) fragment() {
	if m != nil {
		m.fragments.Inc()
	}
}

func (m *Metrics) staleCheck() {
	if m != nil {
		m.staleChecks.Inc()
	}
}

func (m *Metrics) turnFinalized() {
	if m != nil {
		m.finalized.Inc()
	}
}

func (m *Metrics) turnDeferred() {
	if m != nil {
		m.deferred.Inc()
	}
}

func (m *Metrics) generation(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.generationSeconds.Observe(elapsed.Seconds())
	if err != nil {
		m.generationFailures.Inc()
	}
}

func (m *Metrics) answerDelivered() {
	if m != nil {
		m.answersDelivered.Inc()
	}
}

func (m *Metrics) answerOverwritten() {
	if m != nil {
		m.answersOverwritten.Inc()
	}
}

func (m *Metrics) pruned(n int) {
	if m != nil && n > 0 {
		m.sessionsPruned.Add(float64(n))
	}
}
