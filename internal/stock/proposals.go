package stock

import (
	"fmt"

	"github.com/odyssey-erp/workshop/internal/ledger"
)

// ManualAdjustment sets a part to an operator-entered quantity. The delta is
// computed from the locked balance, not from what the operator last saw.
type ManualAdjustment struct {
	NewQuantity int
	Notes       string
}

// Propose implements ledger.Proposal.
func (a ManualAdjustment) Propose(state ledger.PartState) (ledger.Delta, error) {
	if a.NewQuantity < 0 {
		return ledger.Delta{}, fmt.Errorf("%w: new quantity must be >= 0", ledger.ErrInvalidQuantity)
	}
	delta := a.NewQuantity - state.Quantity
	if delta == 0 {
		return ledger.Delta{}, fmt.Errorf("%w: quantity unchanged", ledger.ErrInvalidQuantity)
	}
	return ledger.Delta{Type: ledger.TypeAdjustment, Quantity: delta, Reference: ledger.ManualRef(), Notes: a.Notes}, nil
}

// CheckIn credits scanned stock.
type CheckIn struct {
	Quantity int
	Notes    string
}

// Propose implements ledger.Proposal.
func (c CheckIn) Propose(ledger.PartState) (ledger.Delta, error) {
	if c.Quantity <= 0 {
		return ledger.Delta{}, fmt.Errorf("%w: check-in quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	return ledger.Delta{Type: ledger.TypeReceived, Quantity: c.Quantity, Reference: ledger.ScanInRef(), Notes: c.Notes}, nil
}

// CheckOut debits scanned stock against a work order.
type CheckOut struct {
	Quantity    int
	WorkOrderID int64
	Notes       string
}

// Propose implements ledger.Proposal.
func (c CheckOut) Propose(state ledger.PartState) (ledger.Delta, error) {
	if c.Quantity <= 0 {
		return ledger.Delta{}, fmt.Errorf("%w: check-out quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	delta := ledger.Delta{Type: ledger.TypeUsed, Quantity: -c.Quantity, Reference: ledger.WorkOrderRef(c.WorkOrderID), Notes: c.Notes}
	if c.Quantity > state.Quantity {
		return delta, ledger.ErrInsufficientStock
	}
	return delta, nil
}
