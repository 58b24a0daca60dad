package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/platform/httpx"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// ReceiptQueue hands a receipt that hit a transient failure to the worker.
type ReceiptQueue interface {
	EnqueueReceipt(ctx context.Context, purchaseOrderID, actorID int64) error
}

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	queue   ReceiptQueue
}

// NewHandler builds Handler instance. queue may be nil.
func NewHandler(logger *slog.Logger, service *Service, queue ReceiptQueue) *Handler {
	return &Handler{logger: logger, service: service, queue: queue}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/items", h.addItem)
	r.Post("/{id}/transition", h.transition)
	r.Post("/{id}/receive", h.receive)
}

// MountRequestRoutes registers parts request routes.
func (h *Handler) MountRequestRoutes(r chi.Router) {
	r.Get("/{id}", h.getRequest)
	r.Post("/{id}/purchase-order", h.createFromRequest)
}

type createRequest struct {
	Number   string `json:"number" validate:"max=64"`
	Supplier string `json:"supplier" validate:"required,max=200"`
	Note     string `json:"note" validate:"max=500"`
}

type itemRequest struct {
	PartID   int64           `json:"part_id" validate:"required,gt=0"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=sent confirmed shipped cancelled"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), CreateInput{
		Number:   req.Number,
		Supplier: req.Supplier,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.AddItem(r.Context(), AddItemInput{
		PurchaseOrderID: id,
		PartID:          req.PartID,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
	})
	if err != nil {
		h.fail(w, "add purchase order item failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Transition(r.Context(), id, POStatus(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "transition purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID := shared.ActorFromContext(r.Context())
	res, err := h.service.ReceivePurchaseOrder(r.Context(), id, actorID)
	if errors.Is(err, ledger.ErrLedgerWriteFailure) && h.queue != nil {
		qerr := h.queue.EnqueueReceipt(r.Context(), id, actorID)
		if qerr == nil {
			h.logger.Warn("purchase order receipt queued for retry", slog.Int64("purchase_order_id", id), slog.Any("error", err))
			httpx.JSON(w, http.StatusAccepted, map[string]any{"purchase_order_id": id, "status": "queued"})
			return
		}
		h.logger.Error("enqueue purchase order receipt failed", slog.Int64("purchase_order_id", id), slog.Any("error", qerr))
	}
	if err != nil {
		h.fail(w, "receive purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "get parts request failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) createFromRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePOFromRequest(r.Context(), id, CreateInput{
		Number:   req.Number,
		Supplier: req.Supplier,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create purchase order from request failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
