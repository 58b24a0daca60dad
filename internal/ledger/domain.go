package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TypeReceived credits stock from a supplier or a scan-in.
	TypeReceived TransactionType = "received"
	// TypeUsed debits stock consumed by a work order.
	TypeUsed TransactionType = "used"
	// TypeAdjustment corrects stock after a manual edit or a count.
	TypeAdjustment TransactionType = "adjustment"
	// TypeReturn credits stock handed back from a work order.
	TypeReturn TransactionType = "return"
)

// Valid reports whether t is a known movement type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeReceived, TypeUsed, TypeAdjustment, TypeReturn:
		return true
	}
	return false
}

// Reference kinds recorded on transactions.
const (
	RefManual        = "manual"
	RefScanIn        = "scan_in"
	RefWorkOrder     = "work_order"
	RefPurchaseOrder = "purchase_order"
	RefStocktake     = "stocktake"
)

// Reference identifies the entity that caused a movement.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ManualRef references an operator edit.
func ManualRef() Reference { return Reference{Type: RefManual} }

// ScanInRef references a barcode check-in.
func ScanInRef() Reference { return Reference{Type: RefScanIn} }

// WorkOrderRef references a work order.
func WorkOrderRef(id int64) Reference {
	return Reference{Type: RefWorkOrder, ID: strconv.FormatInt(id, 10)}
}

// PurchaseOrderRef references a purchase order.
func PurchaseOrderRef(id int64) Reference {
	return Reference{Type: RefPurchaseOrder, ID: strconv.FormatInt(id, 10)}
}

// StocktakeRef references a stocktake session.
func StocktakeRef(sessionID string) Reference {
	return Reference{Type: RefStocktake, ID: sessionID}
}

func (r Reference) String() string {
	if r.ID == "" {
		return r.Type
	}
	return r.Type + ":" + r.ID
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID            int64           `json:"id"`
	PartID        int64           `json:"part_id"`
	Type          TransactionType `json:"type"`
	QuantityDelta int             `json:"quantity_delta"`
	Reference     Reference       `json:"reference"`
	Notes         string          `json:"notes,omitempty"`
	ActorID       int64           `json:"actor_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PartState is the locked view of a part a proposal is evaluated against.
type PartState struct {
	ID               int64            `json:"id"`
	PartNumber       string           `json:"part_number"`
	Quantity         int              `json:"quantity"`
	InitialQuantity  int              `json:"initial_quantity"`
	ReorderThreshold int              `json:"reorder_threshold"`
	SellPrice        *decimal.Decimal `json:"sell_price,omitempty"`
}

// Delta is what a gateway asks the ledger to apply.
type Delta struct {
	Type      TransactionType
	Quantity  int
	Reference Reference
	Notes     string
}

// Validate checks sign conventions for the movement type.
func (d Delta) Validate() error {
	if !d.Type.Valid() {
		return ErrInvalidType
	}
	if d.Reference.Type == "" {
		return ErrReferenceRequired
	}
	switch d.Type {
	case TypeReceived, TypeReturn:
		if d.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	case TypeUsed:
		if d.Quantity >= 0 {
			return ErrInvalidQuantity
		}
	case TypeAdjustment:
		if d.Quantity == 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

// Proposal is implemented by every mutation gateway. Propose runs while the
// part row is locked, so the state it sees is authoritative.
type Proposal interface {
	Propose(state PartState) (Delta, error)
}

// Keyed is implemented by proposals that must be applied at most once. The
// key is claimed in the same unit of work as the movement.
type Keyed interface {
	IdempotencyKey() string
}

// ProposalFunc adapts a function to Proposal.
type ProposalFunc func(state PartState) (Delta, error)

// Propose implements Proposal.
func (f ProposalFunc) Propose(state PartState) (Delta, error) { return f(state) }

// ApplyInput is a fully specified movement.
type ApplyInput struct {
	PartID        int64
	Type          TransactionType
	QuantityDelta int
	Reference     Reference
	ActorID       int64
	Notes         string
}

// Propose implements Proposal; the delta does not depend on current state.
func (in ApplyInput) Propose(PartState) (Delta, error) {
	return Delta{Type: in.Type, Quantity: in.QuantityDelta, Reference: in.Reference, Notes: in.Notes}, nil
}

// Result is the outcome of a successful apply.
type Result struct {
	Transaction Transaction `json:"transaction"`
	Part        PartState   `json:"part"`
}

// Reconciliation compares a part balance with its transaction log.
type Reconciliation struct {
	PartID     int64  `json:"part_id"`
	PartNumber string `json:"part_number"`
	Quantity   int    `json:"quantity"`
	Seed       int    `json:"seed"`
	Sum        int    `json:"sum"`
	Balanced   bool   `json:"balanced"`
}

// NewReconciliation fills Balanced from the raw figures.
func NewReconciliation(partID int64, partNumber string, quantity, seed, sum int) Reconciliation {
	return Reconciliation{
		PartID:     partID,
		PartNumber: partNumber,
		Quantity:   quantity,
		Seed:       seed,
		Sum:        sum,
		Balanced:   quantity == seed+sum,
	}
}

// ReconcileReport summarises a full audit run.
type ReconcileReport struct {
	Checked    int              `json:"checked"`
	Unbalanced []Reconciliation `json:"unbalanced"`
}

// HistoryFilter selects transactions for reporting.
type HistoryFilter struct {
	PartID int64
	Limit  int
	Offset int
}

var (
	// ErrPartNotFound indicates the part does not exist.
	ErrPartNotFound = shared.NewError(shared.ErrNotFound, "ledger: part not found")
	// ErrInsufficientStock indicates the movement would drive quantity below zero.
	ErrInsufficientStock = shared.NewError(shared.ErrConflict, "ledger: insufficient stock")
	// ErrInvalidQuantity indicates a zero delta or a sign not allowed for the type.
	ErrInvalidQuantity = shared.NewError(shared.ErrValidation, "ledger: invalid quantity")
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = shared.NewError(shared.ErrValidation, "ledger: unknown transaction type")
	// ErrReferenceRequired indicates a movement without a causing entity.
	ErrReferenceRequired = shared.NewError(shared.ErrValidation, "ledger: reference required")
	// ErrAlreadyApplied indicates a keyed proposal whose movement already committed.
	ErrAlreadyApplied = shared.NewError(shared.ErrConflict, "ledger: movement already applied")
	// ErrLedgerWriteFailure indicates the atomic apply could not complete; callers may retry.
	ErrLedgerWriteFailure = shared.NewError(shared.ErrUnavailable, "ledger: write failure")
)

// StockError is a rejection that carries the current authoritative quantity.
type StockError struct {
	Err       error
	PartID    int64
	Current   int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: part %d has %d, requested %+d", e.Err, e.PartID, e.Current, e.Requested)
}

func (e *StockError) Unwrap() error { return e.Err }

// ProblemDetails exposes the current quantity to HTTP clients.
func (e *StockError) ProblemDetails() map[string]any {
	return map[string]any{
		"part_id":          e.PartID,
		"current_quantity": e.Current,
		"requested_delta":  e.Requested,
	}
}

// CurrentQuantity extracts the authoritative quantity from a rejection.
func CurrentQuantity(err error) (int, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return se.Current, true
	}
	return 0, false
}

func reject(err error, state PartState, requested int) error {
	var se *StockError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrInsufficientStock) {
		return &StockError{Err: err, PartID: state.ID, Current: state.Quantity, Requested: requested}
	}
	return err
}
