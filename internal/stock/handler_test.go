package stock

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/workshop/internal/platform/httpx"
)

func TestHandlerCheckOutReportsCurrentQuantity(t *testing.T) {
	svc, _, _ := setup(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/api/stock", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stock/check-out",
		strings.NewReader(`{"code":"8991","quantity":11,"work_order_id":7}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.EqualValues(t, 10, problem.Extensions["current_quantity"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stock/adjustments",
		strings.NewReader(`{"part_id":1,"new_quantity":4}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stock/check-out",
		strings.NewReader(`{"code":"8991","quantity":1}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
