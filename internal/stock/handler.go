package stock

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/workshop/internal/platform/httpx"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Handler wires HTTP endpoints for the stock gateways.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.adjust)
	r.Post("/check-in", h.checkIn)
	r.Post("/check-out", h.checkOut)
}

type adjustRequest struct {
	PartID      int64  `json:"part_id" validate:"required,gt=0"`
	NewQuantity *int   `json:"new_quantity" validate:"required,gte=0"`
	Notes       string `json:"notes" validate:"max=500"`
}

type scanRequest struct {
	Code        string `json:"code" validate:"required,max=128"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	WorkOrderID int64  `json:"work_order_id"`
	Notes       string `json:"notes" validate:"max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Adjust(r.Context(), AdjustInput{
		PartID:      req.PartID,
		NewQuantity: *req.NewQuantity,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.logger.Warn("manual adjustment rejected", slog.Int64("part_id", req.PartID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CheckIn(r.Context(), CheckInInput{
		Code:     req.Code,
		Quantity: req.Quantity,
		ActorID:  shared.ActorFromContext(r.Context()),
		Notes:    req.Notes,
	})
	if err != nil {
		h.logger.Warn("check-in rejected", slog.String("code", req.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.WorkOrderID <= 0 {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "work_order_id required")
		return
	}
	res, err := h.service.CheckOut(r.Context(), CheckOutInput{
		Code:        req.Code,
		Quantity:    req.Quantity,
		WorkOrderID: req.WorkOrderID,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.logger.Warn("check-out rejected", slog.String("code", req.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}
