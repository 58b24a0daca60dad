package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesLedgerMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Ledger().ObserveApply("used", "applied")
	metrics.Ledger().SetUnbalanced(2)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `workshop_ledger_applies_total{outcome="applied",type="used"} 1`)
	require.Contains(t, rr.Body.String(), "workshop_ledger_unbalanced_parts 2")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/parts")
	req := httptest.NewRequest(http.MethodGet, "/api/parts", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("/api/parts", "418")))
}

func TestNilLedgerMetricsAreNoop(t *testing.T) {
	var m *LedgerMetrics
	require.NotPanics(t, func() {
		m.ObserveApply("used", "applied")
		m.SetUnbalanced(1)
	})

	reg := prometheus.NewRegistry()
	lm := NewLedgerMetrics(reg)
	lm.ObserveApply("received", "insufficient")
	require.Equal(t, 1.0, testutil.ToFloat64(lm.applies.WithLabelValues("received", "insufficient")))
}
