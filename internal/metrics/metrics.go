// Package metrics exposes prometheus instruments for workflow operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder tracks workflow activity. The zero value is not usable; build
// one with New or NewNop.
type Recorder struct {
	ticketsCreated   prometheus.Counter
	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	lockWait         prometheus.Histogram
	operationLatency *prometheus.HistogramVec
}

// New registers the workflow metrics on reg under namespace.
func New(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	r := &Recorder{
		ticketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Tickets instantiated from a template.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Step status changes, automatic ones included.",
		}, []string{"to", "automatic"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by error kind.",
		}, []string{"operation", "kind"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_lock_wait_seconds",
			Help:      "Time spent waiting for a ticket lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{r.ticketsCreated, r.transitions, r.rejections, r.lockWait, r.operationLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewNop returns a recorder registered nowhere.
func NewNop() *Recorder {
	r, _ := New(prometheus.NewRegistry(), "nop")
	return r
}

// TicketCreated counts a new ticket.
func (r *Recorder) TicketCreated() { r.ticketsCreated.Inc() }

// Transition counts a step entering status to.
func (r *Recorder) Transition(to string, automatic bool) {
	auto := "false"
	if automatic {
		auto = "true"
	}
	r.transitions.WithLabelValues(to, auto).Inc()
}

// Failure counts a failed operation by error kind.
func (r *Recorder) Failure(operation, kind string) {
	r.rejections.WithLabelValues(operation, kind).Inc()
}

// LockWait observes the time spent acquiring a ticket lock.
func (r *Recorder) LockWait(d time.Duration) { r.lockWait.Observe(d.Seconds()) }

// Observe records the duration of an operation that started at start.
func (r *Recorder) Observe(operation string, start time.Time) {
	r.operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
