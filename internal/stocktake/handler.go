package stocktake

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/workshop/internal/platform/httpx"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Handler exposes stocktake sessions over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stocktake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.begin)
	r.Get("/{id}", h.get)
	r.Put("/{id}/counts", h.counts)
	r.Post("/{id}/save", h.save)
	r.Delete("/{id}", h.discard)
}

type beginRequest struct {
	PartIDs []int64 `json:"part_ids" validate:"required,min=1,dive,gt=0"`
	Notes   string  `json:"notes" validate:"max=500"`
}

type countRequest struct {
	PartID  int64 `json:"part_id" validate:"required,gt=0"`
	Counted int   `json:"counted" validate:"gte=0"`
}

type countsRequest struct {
	Counts []countRequest `json:"counts" validate:"required,min=1,dive"`
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.Begin(r.Context(), BeginInput{
		PartIDs: req.PartIDs,
		Notes:   req.Notes,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "begin stocktake failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get stocktake failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	var req countsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	counts := make([]Count, 0, len(req.Counts))
	for _, c := range req.Counts {
		counts = append(counts, Count(c))
	}
	sess, err := h.service.RecordCounts(r.Context(), chi.URLParam(r, "id"), counts)
	if err != nil {
		h.fail(w, "record stocktake counts failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Save(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "save stocktake failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "discard stocktake failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
