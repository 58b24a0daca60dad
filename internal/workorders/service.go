package workorders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Create(ctx context.Context, wo WorkOrder) (WorkOrder, error)
	Get(ctx context.Context, id int64) (WorkOrder, error)
	ListLines(ctx context.Context, workOrderID int64) ([]Line, error)
}

// TxRepository exposes work order and ledger operations of one unit of work.
type TxRepository interface {
	ledger.TxRepository
	LockWorkOrder(ctx context.Context, id int64) (WorkOrder, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	GetLine(ctx context.Context, workOrderID, partID int64) (Line, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateLine(ctx context.Context, line Line) error
	DeleteLine(ctx context.Context, workOrderID, partID int64) error
	ClaimRequest(ctx context.Context, key string) (bool, error)
}

// LedgerPort is the part of the ledger used inside work order units of work.
type LedgerPort interface {
	Run(ctx context.Context, fn func(context.Context) error) error
	SubmitTx(ctx context.Context, tx ledger.TxRepository, partID, actorID int64, p ledger.Proposal) (ledger.Result, error)
	Settle(ctx context.Context, results ...ledger.Result)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates work orders and their part consumption.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger}
}

// Create opens a work order. An empty number is generated.
func (s *Service) Create(ctx context.Context, in CreateInput) (WorkOrder, error) {
	number := strings.TrimSpace(in.Number)
	if number == "" {
		number = "WO-" + strings.ToUpper(uuid.NewString()[:8])
	}
	return s.repo.Create(ctx, WorkOrder{Number: number, Status: StatusOpen, Quoted: in.Quoted})
}

// Get loads a work order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (WorkOrder, error) {
	if id <= 0 {
		return WorkOrder{}, ErrWorkOrderNotFound
	}
	wo, err := s.repo.Get(ctx, id)
	if err != nil {
		return WorkOrder{}, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return WorkOrder{}, err
	}
	wo.Lines = lines
	return wo, nil
}

// SubmitForWorkOrder applies p while the work order row is locked, so a work
// order closed by a concurrent request cannot take the movement.
func (s *Service) SubmitForWorkOrder(ctx context.Context, workOrderID, partID, actorID int64, p ledger.Proposal) (ledger.Result, error) {
	if workOrderID <= 0 {
		return ledger.Result{}, ErrWorkOrderNotFound
	}
	var res ledger.Result
	err := s.ledger.Run(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			wo, err := tx.LockWorkOrder(ctx, workOrderID)
			if err != nil {
				return err
			}
			if !wo.Status.AcceptsParts() {
				return ErrWorkOrderClosed
			}
			res, err = s.ledger.SubmitTx(ctx, tx, partID, actorID, p)
			return err
		})
	})
	if err != nil {
		return ledger.Result{}, err
	}
	s.ledger.Settle(ctx, res)
	return res, nil
}

// SetStatus moves a work order along its lifecycle.
func (s *Service) SetStatus(ctx context.Context, id int64, next Status, actorID int64) (WorkOrder, error) {
	var wo WorkOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
		}
		if err := tx.UpdateStatus(ctx, id, next); err != nil {
			return err
		}
		current.Status = next
		wo = current
		return nil
	})
	if err != nil {
		return WorkOrder{}, err
	}
	s.record(ctx, actorID, "workorder:status", id, map[string]any{"status": next})
	return wo, nil
}

// consumption debits the part for a work order.
type consumption struct {
	workOrderID int64
	quantity    int
	notes       string
}

func (c consumption) Propose(state ledger.PartState) (ledger.Delta, error) {
	d := ledger.Delta{Type: ledger.TypeUsed, Quantity: -c.quantity, Reference: ledger.WorkOrderRef(c.workOrderID), Notes: c.notes}
	if c.quantity > state.Quantity {
		return d, ledger.ErrInsufficientStock
	}
	return d, nil
}

// ConsumePart attaches parts to a work order in one unit of work: the stock
// is debited and the billing line created or incremented together. A repeated
// request id returns the current line without touching stock.
func (s *Service) ConsumePart(ctx context.Context, in ConsumeInput) (ConsumeResult, error) {
	if in.Quantity <= 0 {
		return ConsumeResult{}, fmt.Errorf("%w: quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	if in.WorkOrderID <= 0 {
		return ConsumeResult{}, ErrWorkOrderNotFound
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return ConsumeResult{}, fmt.Errorf("%w: unit price must be >= 0", ErrInvalidInput)
	}
	var (
		out     ConsumeResult
		applied []ledger.Result
	)
	err := s.ledger.Run(ctx, func(ctx context.Context) error {
		out, applied = ConsumeResult{}, nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			wo, err := tx.LockWorkOrder(ctx, in.WorkOrderID)
			if err != nil {
				return err
			}
			if !wo.Status.AcceptsParts() {
				return ErrWorkOrderClosed
			}
			if in.UnitPrice != nil && !wo.Quoted {
				return ErrPriceOverride
			}
			existing, err := tx.GetLine(ctx, in.WorkOrderID, in.PartID)
			found := err == nil
			if err != nil && !errors.Is(err, ErrLineNotFound) {
				return err
			}
			if in.RequestID != "" {
				claimed, err := tx.ClaimRequest(ctx, shared.WorkOrderRequestKey(in.WorkOrderID, in.RequestID))
				if err != nil {
					return err
				}
				if !claimed {
					if !found {
						existing = Line{WorkOrderID: in.WorkOrderID, PartID: in.PartID, UnitPrice: decimal.Zero, TotalPrice: decimal.Zero}
					}
					out = ConsumeResult{Line: existing, Replayed: true}
					return nil
				}
			}
			res, err := s.ledger.SubmitTx(ctx, tx, in.PartID, in.ActorID, consumption{workOrderID: in.WorkOrderID, quantity: in.Quantity, notes: in.Notes})
			if err != nil {
				return err
			}
			var line Line
			if found {
				line = existing.Reprice(existing.Quantity + in.Quantity)
				err = tx.UpdateLine(ctx, line)
			} else {
				line = NewLine(in.WorkOrderID, in.PartID, in.Quantity, SnapshotPrice(in.UnitPrice, res.Part.SellPrice))
				err = tx.InsertLine(ctx, line)
			}
			if err != nil {
				return err
			}
			txn := res.Transaction
			out = ConsumeResult{Line: line, Transaction: &txn}
			applied = []ledger.Result{res}
			return nil
		})
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	s.ledger.Settle(ctx, applied...)
	if out.Replayed {
		s.logger.Info("duplicate consumption request ignored",
			slog.Int64("work_order_id", in.WorkOrderID), slog.String("request_id", in.RequestID))
	}
	return out, nil
}

// ReturnPart hands parts back to stock and shrinks the billing line.
func (s *Service) ReturnPart(ctx context.Context, in ReturnInput) (ReturnResult, error) {
	if in.Quantity <= 0 {
		return ReturnResult{}, fmt.Errorf("%w: quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	var (
		out     ReturnResult
		applied ledger.Result
	)
	err := s.ledger.Run(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			wo, err := tx.LockWorkOrder(ctx, in.WorkOrderID)
			if err != nil {
				return err
			}
			if !wo.Status.AcceptsParts() {
				return ErrWorkOrderClosed
			}
			line, err := tx.GetLine(ctx, in.WorkOrderID, in.PartID)
			if err != nil {
				return err
			}
			if in.Quantity > line.Quantity {
				return fmt.Errorf("%w: return of %d exceeds billed %d", ledger.ErrInvalidQuantity, in.Quantity, line.Quantity)
			}
			res, err := s.ledger.SubmitTx(ctx, tx, in.PartID, in.ActorID, ledger.ApplyInput{
				Type:          ledger.TypeReturn,
				QuantityDelta: in.Quantity,
				Reference:     ledger.WorkOrderRef(in.WorkOrderID),
				Notes:         in.Notes,
			})
			if err != nil {
				return err
			}
			out = ReturnResult{Transaction: res.Transaction}
			applied = res
			remaining := line.Quantity - in.Quantity
			if remaining == 0 {
				return tx.DeleteLine(ctx, in.WorkOrderID, in.PartID)
			}
			line = line.Reprice(remaining)
			out.Line = &line
			return tx.UpdateLine(ctx, line)
		})
	})
	if err != nil {
		return ReturnResult{}, err
	}
	s.ledger.Settle(ctx, applied)
	return out, nil
}

// BillingLines returns the lines and grand total for invoicing.
func (s *Service) BillingLines(ctx context.Context, workOrderID int64) (Billing, error) {
	wo, err := s.Get(ctx, workOrderID)
	if err != nil {
		return Billing{}, err
	}
	billing := Billing{WorkOrderID: wo.ID, Number: wo.Number, Lines: wo.Lines, Total: decimal.Zero}
	if billing.Lines == nil {
		billing.Lines = []Line{}
	}
	for _, l := range wo.Lines {
		billing.Total = billing.Total.Add(l.TotalPrice)
	}
	return billing, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   shared.EntityWorkOrder,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("audit work order failed", slog.Int64("work_order_id", id), slog.Any("error", err))
	}
}
