package parts

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/platform/httpx"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// LedgerReader exposes the read side of the ledger to catalog endpoints.
type LedgerReader interface {
	History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error)
	Reconcile(ctx context.Context, partID int64) (ledger.Reconciliation, error)
}

// Handler wires HTTP endpoints for the part catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
	ledger  LedgerReader
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service, ledger LedgerReader) *Handler {
	return &Handler{logger: logger, service: service, ledger: ledger}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/suggest", h.suggest)
	r.Get("/scan/{code}", h.scan)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Get("/{id}/transactions", h.history)
	r.Get("/{id}/reconcile", h.reconcile)
}

type createPartRequest struct {
	PartNumber       string           `json:"part_number" validate:"required,max=64"`
	Name             string           `json:"name" validate:"required,max=200"`
	InitialQuantity  int              `json:"initial_quantity" validate:"gte=0"`
	CostPrice        *decimal.Decimal `json:"cost_price"`
	SellPrice        *decimal.Decimal `json:"sell_price"`
	ReorderThreshold int              `json:"reorder_threshold" validate:"gte=0"`
	Location         *string          `json:"location" validate:"omitempty,max=100"`
	Barcode          *string          `json:"barcode" validate:"omitempty,max=128"`
}

type updatePartRequest struct {
	Name             *string          `json:"name" validate:"omitempty,max=200"`
	CostPrice        *decimal.Decimal `json:"cost_price"`
	SellPrice        *decimal.Decimal `json:"sell_price"`
	ReorderThreshold *int             `json:"reorder_threshold" validate:"omitempty,gte=0"`
	Location         *string          `json:"location" validate:"omitempty,max=100"`
	Barcode          *string          `json:"barcode" validate:"omitempty,max=128"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPartRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Create(r.Context(), CreateInput{
		PartNumber:       req.PartNumber,
		Name:             req.Name,
		InitialQuantity:  req.InitialQuantity,
		CostPrice:        req.CostPrice,
		SellPrice:        req.SellPrice,
		ReorderThreshold: req.ReorderThreshold,
		Location:         req.Location,
		Barcode:          req.Barcode,
	})
	if err != nil {
		h.fail(w, "create part failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, part)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updatePartRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Update(r.Context(), id, UpdateInput(req))
	if err != nil {
		h.fail(w, "update part failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get part failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := ListFilter{
		Search:       q.Get("search"),
		LowStockOnly: q.Get("low_stock") == "true",
		Page:         page,
		PerPage:      perPage,
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list parts failed", err)
		return
	}
	if items == nil {
		items = []Part{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	part, err := h.service.ResolveScan(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, "resolve scan failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.service.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, "suggest parts failed", err)
		return
	}
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.fail(w, "get part failed", err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	txns, err := h.ledger.History(r.Context(), ledger.HistoryFilter{PartID: id, Limit: limit, Offset: offset})
	if err != nil {
		h.fail(w, "list transactions failed", err)
		return
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.fail(w, "reconcile part failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
