// Package stock holds the operator-facing stock gateways: manual adjustment
// and barcode check-in/check-out.
package stock

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/parts"
)

// LedgerPort is the single mutation entry point the gateways use.
type LedgerPort interface {
	Submit(ctx context.Context, partID, actorID int64, p ledger.Proposal) (ledger.Result, error)
}

// PartResolver maps scanned strings to parts.
type PartResolver interface {
	ResolveScan(ctx context.Context, code string) (parts.Part, error)
}

// WorkOrderPort applies a movement while the work order is locked and open.
type WorkOrderPort interface {
	SubmitForWorkOrder(ctx context.Context, workOrderID, partID, actorID int64, p ledger.Proposal) (ledger.Result, error)
}

// AdjustInput sets a part's quantity by hand.
type AdjustInput struct {
	PartID      int64
	NewQuantity int
	ActorID     int64
	Notes       string
}

// CheckInInput credits a scanned part.
type CheckInInput struct {
	Code     string
	Quantity int
	ActorID  int64
	Notes    string
}

// CheckOutInput debits a scanned part against a work order.
type CheckOutInput struct {
	Code        string
	Quantity    int
	WorkOrderID int64
	ActorID     int64
	Notes       string
}

// Service exposes the stock gateways.
type Service struct {
	ledger     LedgerPort
	parts      PartResolver
	workOrders WorkOrderPort
}

// NewService builds Service.
func NewService(ledger LedgerPort, parts PartResolver, workOrders WorkOrderPort) *Service {
	return &Service{ledger: ledger, parts: parts, workOrders: workOrders}
}

// Adjust records a manual correction.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (ledger.Result, error) {
	if in.NewQuantity < 0 {
		return ledger.Result{}, fmt.Errorf("%w: new quantity must be >= 0", ledger.ErrInvalidQuantity)
	}
	return s.ledger.Submit(ctx, in.PartID, in.ActorID, ManualAdjustment{NewQuantity: in.NewQuantity, Notes: in.Notes})
}

// CheckIn records scanned stock arriving.
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (ledger.Result, error) {
	if in.Quantity <= 0 {
		return ledger.Result{}, fmt.Errorf("%w: check-in quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	part, err := s.parts.ResolveScan(ctx, in.Code)
	if err != nil {
		return ledger.Result{}, err
	}
	return s.ledger.Submit(ctx, part.ID, in.ActorID, CheckIn{Quantity: in.Quantity, Notes: in.Notes})
}

// CheckOut records scanned stock leaving for a work order.
func (s *Service) CheckOut(ctx context.Context, in CheckOutInput) (ledger.Result, error) {
	if in.Quantity <= 0 {
		return ledger.Result{}, fmt.Errorf("%w: check-out quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	part, err := s.parts.ResolveScan(ctx, in.Code)
	if err != nil {
		return ledger.Result{}, err
	}
	return s.workOrders.SubmitForWorkOrder(ctx, in.WorkOrderID, part.ID, in.ActorID,
		CheckOut{Quantity: in.Quantity, WorkOrderID: in.WorkOrderID, Notes: in.Notes})
}
