package procurement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	queued []int64
}

func (q *recordingQueue) EnqueueReceipt(_ context.Context, poID, _ int64) error {
	q.queued = append(q.queued, poID)
	return nil
}

func TestHandlerReceiveQueuesTransientFailure(t *testing.T) {
	f := newFixture(t)
	queue := &recordingQueue{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, queue)
	r := chi.NewRouter()
	r.Route("/api/purchase-orders", h.MountRoutes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/api/purchase-orders/", `{"supplier":"Parts Co"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var po PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))

	rec = do(http.MethodPost, "/api/purchase-orders/1/items", `{"part_id":1,"quantity":10,"unit_cost":"3.00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/api/purchase-orders/1/receive", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/api/purchase-orders/1/transition", `{"status":"received"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPost, "/api/purchase-orders/1/transition", `{"status":"sent"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.store.FailAfter(0, nil)
	rec = do(http.MethodPost, "/api/purchase-orders/1/receive", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, []int64{po.ID}, queue.queued)
	require.Equal(t, 5, f.store.Quantity(f.x.ID))

	rec = do(http.MethodPost, "/api/purchase-orders/1/receive", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 15, f.store.Quantity(f.x.ID))

	rec = do(http.MethodPost, "/api/purchase-orders/1/receive", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
