package aggregate

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/carelog/internal/ir"
)

// Metrics holds metrics related to external aggregate repairs.
type Metrics struct {
	repairs *prometheus.CounterVec
}

// NewMetrics creates the repair counter and registers it with reg.
// A nil reg leaves the counter unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelog",
			Subsystem: "aggregate",
			Name:      "repairs_total",
			Help:      "Total number of values padded, truncated, clamped or flagged while reading external aggregates.",
		}, []string{"kind", "field", "reason"}),
	}

	if reg != nil {
		if err := reg.Register(m.repairs); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordRepair counts one repair.
func (m *Metrics) RecordRepair(r Repair) {
	m.repairs.WithLabelValues(string(r.Kind), r.Field, string(r.Reason)).Inc()
}

// Reporter surfaces repairs as WARN logs and metrics.
// It is the only place a repair becomes visible; construction never fails
// because of one.
type Reporter struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewReporter creates a reporter. A nil logger uses slog.Default and nil
// metrics skips counting.
func NewReporter(logger *slog.Logger, metrics *Metrics) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger, metrics: metrics}
}

// Report logs and counts the repairs made while reading the document at key.
func (r *Reporter) Report(key ir.DocumentKey, repairs []Repair) {
	if r == nil || len(repairs) == 0 {
		return
	}
	for _, rep := range repairs {
		if r.metrics != nil {
			r.metrics.RecordRepair(rep)
		}
	}
	r.logger.Warn("repaired external aggregate",
		"document", key.String(),
		"repairs", len(repairs),
		"first", repairs[0].String(),
	)
	for _, rep := range repairs {
		r.logger.Debug("aggregate repair",
			"document", key.String(),
			"field", rep.Field,
			"index", rep.Index,
			"reason", rep.Reason,
			"detail", rep.Detail,
		)
	}
}
