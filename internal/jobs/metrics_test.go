package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger_reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger_reconcile").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger_reconcile")))

	m.AddItems("reorder_parts_request", "parts", 3)
	m.AddItems("reorder_parts_request", "parts", 0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.items.WithLabelValues("reorder_parts_request", "parts")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
}
