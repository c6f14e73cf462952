// Package metrics is the health-monitor sink the sync engine reports into:
// per-operation sync outcomes and durations, and outbox queue sizes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder accepts the engine's counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// ObserveSync records one push/pull/cycle attempt for an operation kind
	// ("events", "completions", "awards", "pull", "cycle") with its outcome
	// ("ok", "partial", "error", "skipped") and duration.
	ObserveSync(kind, outcome string, d time.Duration)

	// SetQueueSize records the current unsynced backlog for a record kind.
	SetQueueSize(kind string, n int)
}

// Nop discards all recordings. Used by tests and when metrics are disabled.
type Nop struct{}

func (Nop) ObserveSync(string, string, time.Duration) {}
func (Nop) SetQueueSize(string, int)                  {}

// Prometheus is a Recorder backed by prometheus collectors.
type Prometheus struct {
	syncs     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	queueSize *prometheus.GaugeVec
}

// NewPrometheus creates a Recorder and registers its collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "habitsync",
			Name:      "sync_operations_total",
			Help:      "Sync operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "habitsync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync operations by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "habitsync",
			Name:      "sync_queue_size",
			Help:      "Unsynced local records awaiting upload, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(p.syncs, p.durations, p.queueSize)
	return p
}

func (p *Prometheus) ObserveSync(kind, outcome string, d time.Duration) {
	p.syncs.WithLabelValues(kind, outcome).Inc()
	p.durations.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *Prometheus) SetQueueSize(kind string, n int) {
	p.queueSize.WithLabelValues(kind).Set(float64(n))
}
