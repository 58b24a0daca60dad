// Package stocktake runs physical count sessions. A session lives in redis
// until it is saved, at which point every counted difference becomes one
// adjustment through the ledger.
package stocktake

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Session is the working set of one count.
type Session struct {
	ID        string    `json:"id"`
	Notes     string    `json:"notes,omitempty"`
	Items     []Item    `json:"items"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item pairs the system quantity seen when counting started with the count.
type Item struct {
	PartID          int64  `json:"part_id"`
	PartNumber      string `json:"part_number"`
	Name            string `json:"name"`
	SystemQuantity  int    `json:"system_quantity"`
	CountedQuantity *int   `json:"counted_quantity,omitempty"`
}

// Counted reports whether the item has a count.
func (it Item) Counted() bool { return it.CountedQuantity != nil }

// Differs reports whether the count disagrees with the system quantity.
func (it Item) Differs() bool {
	return it.Counted() && *it.CountedQuantity != it.SystemQuantity
}

func (s *Session) item(partID int64) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].PartID == partID {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// Count is one recorded count.
type Count struct {
	PartID  int64
	Counted int
}

// BeginInput opens a session over the given parts.
type BeginInput struct {
	PartIDs []int64
	Notes   string
	ActorID int64
}

// SaveReport describes what a save did per part.
type SaveReport struct {
	SessionID string               `json:"session_id"`
	Applied   []ledger.Transaction `json:"applied"`
	Unchanged []int64              `json:"unchanged"`
	Uncounted []int64              `json:"uncounted"`
	Failed    []ItemFailure        `json:"failed"`
}

// Complete reports whether every item was settled.
func (r SaveReport) Complete() bool { return len(r.Failed) == 0 && len(r.Uncounted) == 0 }

// ItemFailure is a part whose adjustment was rejected.
type ItemFailure struct {
	PartID     int64  `json:"part_id"`
	PartNumber string `json:"part_number"`
	Error      string `json:"error"`
	Current    *int   `json:"current_quantity,omitempty"`
}

// Recount adjusts a part by the difference between count and system quantity.
// It is keyed by session and part, so a session saved twice moves stock once.
type Recount struct {
	SessionID string
	PartID    int64
	System    int
	Counted   int
}

// IdempotencyKey implements ledger.Keyed.
func (r Recount) IdempotencyKey() string {
	return shared.StocktakeItemKey(r.SessionID, r.PartID)
}

// Propose implements ledger.Proposal.
func (r Recount) Propose(state ledger.PartState) (ledger.Delta, error) {
	if r.Counted < 0 {
		return ledger.Delta{}, fmt.Errorf("%w: counted quantity must be >= 0", ledger.ErrInvalidQuantity)
	}
	d := ledger.Delta{
		Type:      ledger.TypeAdjustment,
		Quantity:  r.Counted - r.System,
		Reference: ledger.StocktakeRef(r.SessionID),
		Notes:     fmt.Sprintf("counted %d, system %d", r.Counted, r.System),
	}
	if d.Quantity == 0 {
		return d, fmt.Errorf("%w: count matches system quantity", ledger.ErrInvalidQuantity)
	}
	if state.Quantity+d.Quantity < 0 {
		return d, ledger.ErrInsufficientStock
	}
	return d, nil
}

var (
	// ErrSessionNotFound indicates the session expired or never existed.
	ErrSessionNotFound = shared.NewError(shared.ErrNotFound, "stocktake: session not found")
	// ErrSessionBusy indicates another terminal holds the session lock.
	ErrSessionBusy = shared.NewError(shared.ErrConflict, "stocktake: session is being saved elsewhere")
	// ErrLockLost indicates the session lock expired during a save.
	ErrLockLost = shared.NewError(shared.ErrConflict, "stocktake: session lock lost")
	// ErrUnknownItem indicates a count for a part outside the session.
	ErrUnknownItem = shared.NewError(shared.ErrValidation, "stocktake: part is not in session")
	// ErrEmptySession indicates a session without parts.
	ErrEmptySession = shared.NewError(shared.ErrValidation, "stocktake: session needs at least one part")
)
