// Package metrics exposes Prometheus collectors for a VM run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kitvm"

// Metrics groups the collectors updated by the orchestrator. All methods
// are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	consoleBytes  prometheus.Counter
	droppedChunks prometheus.Counter
	vmState       *prometheus.GaugeVec
	leaseSeconds  prometheus.Histogram
	startFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		consoleBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_bytes_total",
			Help:      "Bytes read from the guest console.",
		}),
		droppedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_dropped_chunks_total",
			Help:      "Console chunks discarded as malformed UTF-8.",
		}),
		vmState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_state",
			Help:      "1 for the current VM lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		leaseSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lease_seconds",
			Help:      "Time from the VM running to its DHCP lease appearing on the console.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_failures_total",
			Help:      "Failed VM starts by phase.",
		}, []string{"phase"}),
	}

	for _, c := range []prometheus.Collector{
		m.consoleBytes, m.droppedChunks, m.vmState, m.leaseSeconds, m.startFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ConsoleBytes adds n bytes read from the console.
func (m *Metrics) ConsoleBytes(n int) {
	if m == nil {
		return
	}
	m.consoleBytes.Add(float64(n))
}

// DroppedChunk counts one discarded console chunk.
func (m *Metrics) DroppedChunk() {
	if m == nil {
		return
	}
	m.droppedChunks.Inc()
}

// SetState marks state as current and every name in all as not current.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.vmState.WithLabelValues(s).Set(0)
	}
	m.vmState.WithLabelValues(state).Set(1)
}

// ObserveLease records how long the lease took to appear.
func (m *Metrics) ObserveLease(d time.Duration) {
	if m == nil {
		return
	}
	m.leaseSeconds.Observe(d.Seconds())
}

// StartFailure counts a failed start in phase.
func (m *Metrics) StartFailure(phase string) {
	if m == nil {
		return
	}
	m.startFailures.WithLabelValues(phase).Inc()
}
