package workorders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Status enumerates work order lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusInvoiced   Status = "invoiced"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusInvoiced},
}

// AcceptsParts reports whether parts may be consumed or returned.
func (s Status) AcceptsParts() bool {
	return s == StatusOpen || s == StatusInProgress
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkOrder is the slice of a job card the stock core needs.
type WorkOrder struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	Status    Status    `json:"status"`
	Quoted    bool      `json:"quoted"`
	Lines     []Line    `json:"lines,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is a part billed on a work order. UnitPrice is captured once when the
// line is created and never re-read from the catalog.
type Line struct {
	WorkOrderID int64           `json:"work_order_id"`
	PartID      int64           `json:"part_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// NewLine snapshots unitPrice for a fresh line.
func NewLine(workOrderID, partID int64, quantity int, unitPrice decimal.Decimal) Line {
	return Line{WorkOrderID: workOrderID, PartID: partID, UnitPrice: unitPrice}.Reprice(quantity)
}

// moneyPlaces matches the NUMERIC(14,2) price columns.
const moneyPlaces = 2

// Reprice sets the quantity and recomputes the total from the stored unit
// price, rounded to the precision the column keeps.
func (l Line) Reprice(quantity int) Line {
	l.Quantity = quantity
	l.UnitPrice = l.UnitPrice.Round(moneyPlaces)
	l.TotalPrice = l.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return l
}

// SnapshotPrice picks the unit price for a new line: a quoted override when
// given, otherwise the catalog sell price, otherwise zero.
func SnapshotPrice(override, sellPrice *decimal.Decimal) decimal.Decimal {
	switch {
	case override != nil:
		return *override
	case sellPrice != nil:
		return *sellPrice
	}
	return decimal.Zero
}

// CreateInput describes a new work order.
type CreateInput struct {
	Number string
	Quoted bool
}

// ConsumeInput attaches parts to a work order.
type ConsumeInput struct {
	WorkOrderID int64
	PartID      int64
	Quantity    int
	UnitPrice   *decimal.Decimal
	RequestID   string
	ActorID     int64
	Notes       string
}

// ConsumeResult reports the line after consumption. Transaction is nil when the
// request id had already been processed.
type ConsumeResult struct {
	Line        Line                `json:"line"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Replayed    bool                `json:"replayed"`
}

// ReturnInput hands parts back from a work order.
type ReturnInput struct {
	WorkOrderID int64
	PartID      int64
	Quantity    int
	ActorID     int64
	Notes       string
}

// ReturnResult reports the line after a return; Line is nil once fully returned.
type ReturnResult struct {
	Line        *Line              `json:"line"`
	Transaction ledger.Transaction `json:"transaction"`
}

// Billing is what invoice generation reads.
type Billing struct {
	WorkOrderID int64           `json:"work_order_id"`
	Number      string          `json:"number"`
	Lines       []Line          `json:"lines"`
	Total       decimal.Decimal `json:"total"`
}

var (
	// ErrWorkOrderNotFound indicates the work order does not exist.
	ErrWorkOrderNotFound = shared.NewError(shared.ErrNotFound, "workorders: work order not found")
	// ErrWorkOrderClosed indicates the work order no longer accepts parts.
	ErrWorkOrderClosed = shared.NewError(shared.ErrConflict, "workorders: work order is not open")
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = shared.NewError(shared.ErrConflict, "workorders: invalid status transition")
	// ErrLineNotFound indicates the part is not on the work order.
	ErrLineNotFound = shared.NewError(shared.ErrNotFound, "workorders: part line not found")
	// ErrDuplicateNumber indicates the work order number is taken.
	ErrDuplicateNumber = shared.NewError(shared.ErrConflict, "workorders: number already exists")
	// ErrPriceOverride indicates a unit price override on a non-quoted job.
	ErrPriceOverride = shared.NewError(shared.ErrValidation, "workorders: unit price override requires a quoted job")
	// ErrInvalidInput indicates malformed input.
	ErrInvalidInput = shared.NewError(shared.ErrValidation, "workorders: invalid input")
)
