package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// POStatus enumerates purchase order lifecycle states.
type POStatus string

const (
	POStatusDraft     POStatus = "draft"
	POStatusSent      POStatus = "sent"
	POStatusConfirmed POStatus = "confirmed"
	POStatusShipped   POStatus = "shipped"
	POStatusReceived  POStatus = "received"
	POStatusCancelled POStatus = "cancelled"
)

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:     {POStatusSent, POStatusCancelled},
	POStatusSent:      {POStatusConfirmed, POStatusReceived, POStatusCancelled},
	POStatusConfirmed: {POStatusShipped, POStatusReceived, POStatusCancelled},
	POStatusShipped:   {POStatusReceived, POStatusCancelled},
}

// CanTransition reports whether s may move to next.
func (s POStatus) CanTransition(next POStatus) bool {
	for _, allowed := range poTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Receivable reports whether stock may be received against the order.
func (s POStatus) Receivable() bool { return s.CanTransition(POStatusReceived) }

// Terminal reports whether no further transition exists.
func (s POStatus) Terminal() bool { return len(poTransitions[s]) == 0 }

// PurchaseOrder is an order to a supplier.
type PurchaseOrder struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Supplier   string     `json:"supplier"`
	Status     POStatus   `json:"status"`
	Note       string     `json:"note,omitempty"`
	Items      []Item     `json:"items"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Item is one part ordered on a purchase order.
type Item struct {
	PurchaseOrderID int64           `json:"purchase_order_id"`
	PartID          int64           `json:"part_id"`
	QuantityOrdered int             `json:"quantity_ordered"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// costPlaces matches the NUMERIC(14,2) cost columns.
const costPlaces = 2

// NewItem computes the line total from the cost as it will be stored.
func NewItem(poID, partID int64, quantity int, unitCost decimal.Decimal) Item {
	unitCost = unitCost.Round(costPlaces)
	return Item{
		PurchaseOrderID: poID,
		PartID:          partID,
		QuantityOrdered: quantity,
		UnitCost:        unitCost,
		TotalCost:       unitCost.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Total sums the item costs.
func (po PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range po.Items {
		total = total.Add(it.TotalCost)
	}
	return total
}

// RequestStatus enumerates parts request states.
type RequestStatus string

const (
	RequestOpen    RequestStatus = "open"
	RequestOrdered RequestStatus = "ordered"
)

// PartsRequest collects low-stock parts awaiting a purchase order.
type PartsRequest struct {
	ID              int64         `json:"id"`
	Status          RequestStatus `json:"status"`
	PurchaseOrderID *int64        `json:"purchase_order_id,omitempty"`
	Lines           []RequestLine `json:"lines"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RequestLine is one distinct part on a parts request.
type RequestLine struct {
	RequestID         int64 `json:"request_id"`
	PartID            int64 `json:"part_id"`
	SuggestedQuantity int   `json:"suggested_quantity"`
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	Number   string
	Supplier string
	Note     string
	ActorID  int64
}

// AddItemInput adds or increments a part on a draft order.
type AddItemInput struct {
	PurchaseOrderID int64
	PartID          int64
	Quantity        int
	UnitCost        decimal.Decimal
}

// ReceiveResult reports the movements of a completed receipt.
type ReceiveResult struct {
	PurchaseOrder PurchaseOrder        `json:"purchase_order"`
	Transactions  []ledger.Transaction `json:"transactions"`
}

var (
	// ErrPurchaseOrderNotFound indicates the order does not exist.
	ErrPurchaseOrderNotFound = shared.NewError(shared.ErrNotFound, "procurement: purchase order not found")
	// ErrDuplicateReceipt indicates the order was already received.
	ErrDuplicateReceipt = shared.NewError(shared.ErrConflict, "procurement: purchase order already received")
	// ErrInvalidState indicates the action is not allowed in the current status.
	ErrInvalidState = shared.NewError(shared.ErrConflict, "procurement: invalid state transition")
	// ErrEmptyOrder indicates a receipt of an order without items.
	ErrEmptyOrder = shared.NewError(shared.ErrValidation, "procurement: purchase order has no items")
	// ErrDuplicateNumber indicates the order number is taken.
	ErrDuplicateNumber = shared.NewError(shared.ErrConflict, "procurement: number already exists")
	// ErrRequestNotFound indicates the parts request does not exist.
	ErrRequestNotFound = shared.NewError(shared.ErrNotFound, "procurement: parts request not found")
	// ErrNothingToRequest indicates no part is below its reorder threshold.
	ErrNothingToRequest = shared.NewError(shared.ErrValidation, "procurement: no low-stock parts to request")
	// ErrValidation indicates invalid input.
	ErrValidation = shared.NewError(shared.ErrValidation, "procurement: invalid input")
)
