package parts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Part is a stocked catalog item. Quantity is owned by the ledger.
type Part struct {
	ID               int64            `json:"id"`
	PartNumber       string           `json:"part_number"`
	Name             string           `json:"name"`
	Quantity         int              `json:"quantity"`
	InitialQuantity  int              `json:"initial_quantity"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty"`
	SellPrice        *decimal.Decimal `json:"sell_price,omitempty"`
	ReorderThreshold int              `json:"reorder_threshold"`
	Location         *string          `json:"location,omitempty"`
	Barcode          *string          `json:"barcode,omitempty"`
	LowStock         bool             `json:"low_stock"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsLowStock reports whether the part is at or below its reorder threshold.
func (p Part) IsLowStock() bool {
	return reorder.IsLowStock(p.Quantity, p.ReorderThreshold)
}

// CreateInput describes a new catalog entry.
type CreateInput struct {
	PartNumber       string
	Name             string
	InitialQuantity  int
	CostPrice        *decimal.Decimal
	SellPrice        *decimal.Decimal
	ReorderThreshold int
	Location         *string
	Barcode          *string
}

// UpdateInput patches catalog fields; nil leaves a field unchanged.
type UpdateInput struct {
	Name             *string
	CostPrice        *decimal.Decimal
	SellPrice        *decimal.Decimal
	ReorderThreshold *int
	Location         *string
	Barcode          *string
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search       string
	LowStockOnly bool
	Page         int
	PerPage      int
}

// Suggestion is a fuzzy match candidate. It is never consumed directly; the
// operator confirms one and the gateways receive its id.
type Suggestion struct {
	Part     Part `json:"part"`
	Distance int  `json:"distance"`
}

var (
	// ErrPartNotFound indicates no part matched the id or scan code.
	ErrPartNotFound = ledger.ErrPartNotFound
	// ErrDuplicatePartNumber indicates part_number is already taken.
	ErrDuplicatePartNumber = shared.NewError(shared.ErrConflict, "parts: part number already exists")
	// ErrDuplicateBarcode indicates barcode is already taken.
	ErrDuplicateBarcode = shared.NewError(shared.ErrConflict, "parts: barcode already exists")
	// ErrInvalidPart indicates invalid catalog input.
	ErrInvalidPart = shared.NewError(shared.ErrValidation, "parts: invalid part")
)
