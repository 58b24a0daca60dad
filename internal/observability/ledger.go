package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts stock movements and reconciliation results.
type LedgerMetrics struct {
	applies    *prometheus.CounterVec
	unbalanced prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors. A nil registerer uses the
// default Prometheus registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	applies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_ledger_applies_total",
		Help: "Stock movements by transaction type and outcome.",
	}, []string{"type", "outcome"})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workshop_ledger_unbalanced_parts",
		Help: "Parts whose quantity differs from seed plus transaction sum at the last audit.",
	})
	registerer.MustRegister(applies, unbalanced)
	return &LedgerMetrics{applies: applies, unbalanced: unbalanced}
}

// ObserveApply counts one movement outcome.
func (m *LedgerMetrics) ObserveApply(txType, outcome string) {
	if m == nil {
		return
	}
	m.applies.WithLabelValues(txType, outcome).Inc()
}

// SetUnbalanced records the result of the last reconciliation run.
func (m *LedgerMetrics) SetUnbalanced(n int) {
	if m == nil {
		return
	}
	m.unbalanced.Set(float64(n))
}
