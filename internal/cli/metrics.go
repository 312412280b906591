package cli

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/engine"
)

// commandMetrics collects the counters of one command run. With
// --verbose they are logged when the command finishes.
type commandMetrics struct {
	registry   *prometheus.Registry
	controller *engine.Metrics
	repairs    *aggregate.Metrics
}

func newCommandMetrics() (*commandMetrics, error) {
	reg := prometheus.NewRegistry()
	controller, err := engine.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	repairs, err := aggregate.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &commandMetrics{registry: reg, controller: controller, repairs: repairs}, nil
}

// log writes every non-zero counter at DEBUG.
func (m *commandMetrics) log(logger *slog.Logger) {
	families, err := m.registry.Gather()
	if err != nil {
		logger.Debug("metrics unavailable", "error", err)
		return
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			value := metric.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			attrs := []any{"name", mf.GetName(), "value", value}
			for _, label := range metric.GetLabel() {
				attrs = append(attrs, label.GetName(), label.GetValue())
			}
			logger.Debug("metric", attrs...)
		}
	}
}
