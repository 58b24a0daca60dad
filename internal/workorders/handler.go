package workorders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/platform/httpx"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Handler wires HTTP endpoints for work orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the work order handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.setStatus)
	r.Post("/{id}/parts", h.consume)
	r.Post("/{id}/parts/{partID}/return", h.returnPart)
	r.Get("/{id}/billing", h.billing)
}

type createRequest struct {
	Number string `json:"number" validate:"max=64"`
	Quoted bool   `json:"quoted"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress completed invoiced cancelled"`
}

type consumeRequest struct {
	PartID    int64            `json:"part_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	RequestID string           `json:"request_id" validate:"omitempty,max=64"`
	Notes     string           `json:"notes" validate:"max=500"`
}

type returnRequest struct {
	Quantity int    `json:"quantity" validate:"gt=0"`
	Notes    string `json:"notes" validate:"max=500"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wo, err := h.service.Create(r.Context(), CreateInput(req))
	if err != nil {
		h.fail(w, "create work order failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wo)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wo, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get work order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wo, err := h.service.SetStatus(r.Context(), id, Status(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "set work order status failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req consumeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}
	res, err := h.service.ConsumePart(r.Context(), ConsumeInput{
		WorkOrderID: id,
		PartID:      req.PartID,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		RequestID:   req.RequestID,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, "consume part failed", err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) returnPart(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	partID, err := httpx.IDParam(r, "partID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req returnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ReturnPart(r.Context(), ReturnInput{
		WorkOrderID: id,
		PartID:      partID,
		Quantity:    req.Quantity,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, "return part failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) billing(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	billing, err := h.service.BillingLines(r.Context(), id)
	if err != nil {
		h.fail(w, "billing lines failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, billing)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
