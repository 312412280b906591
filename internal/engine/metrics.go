package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Load results recorded by Metrics.
const (
	loadHit       = "hit"
	loadMiss      = "miss"
	loadError     = "error"
	loadDiscarded = "discarded"
)

// Metrics holds controller metrics. One Metrics may be shared by every
// controller of a process.
type Metrics struct {
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	loads     *prometheus.CounterVec
}

// NewMetrics creates the controller counters and registers them with reg.
// A nil reg leaves the counters unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelog",
			Subsystem: "controller",
			Name:      "commits_total",
			Help:      "Total number of batch commits attempted, by operation and outcome.",
		}, []string{"op", "status"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelog",
			Subsystem: "controller",
			Name:      "rollbacks_total",
			Help:      "Total number of optimistic mutations restored after a failed commit.",
		}, []string{"op"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelog",
			Subsystem: "controller",
			Name:      "loads_total",
			Help:      "Total number of load calls, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		var errs []error
		for _, c := range []prometheus.Collector{m.commits, m.rollbacks, m.loads} {
			if err := reg.Register(c); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordCommit(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.commits.WithLabelValues(op, status).Inc()
}

func (m *Metrics) recordRollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) recordLoad(result string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
}
