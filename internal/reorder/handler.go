package reorder

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/workshop/internal/platform/httpx"
)

// Handler serves the low-stock list.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reorder routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/low-stock", h.lowStock)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.LowStock(r.Context())
	if err != nil {
		h.logger.Error("list low stock failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"parts": levels, "count": len(levels)})
}
