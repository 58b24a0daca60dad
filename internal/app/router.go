package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/workshop/internal/observability"
	"github.com/odyssey-erp/workshop/internal/parts"
	"github.com/odyssey-erp/workshop/internal/procurement"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/stock"
	"github.com/odyssey-erp/workshop/internal/stocktake"
	"github.com/odyssey-erp/workshop/internal/workorders"
	"github.com/odyssey-erp/workshop/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	PartsHandler       *parts.Handler
	StockHandler       *stock.Handler
	StocktakeHandler   *stocktake.Handler
	WorkOrderHandler   *workorders.Handler
	ProcurementHandler *procurement.Handler
	ReorderHandler     *reorder.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with workshop defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.PartsHandler != nil {
			r.Route("/parts", params.PartsHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			r.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.StocktakeHandler != nil {
			r.Route("/stocktakes", params.StocktakeHandler.MountRoutes)
		}
		if params.WorkOrderHandler != nil {
			r.Route("/work-orders", params.WorkOrderHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/purchase-orders", params.ProcurementHandler.MountRoutes)
			r.Route("/parts-requests", params.ProcurementHandler.MountRequestRoutes)
		}
		if params.ReorderHandler != nil {
			r.Route("/reorder", params.ReorderHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
