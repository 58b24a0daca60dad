package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	GetRequest(ctx context.Context, id int64) (PartsRequest, error)
}

// TxRepository exposes purchase order and ledger operations of one unit of work.
type TxRepository interface {
	ledger.TxRepository
	CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListItems(ctx context.Context, poID int64) ([]Item, error)
	GetItem(ctx context.Context, poID, partID int64) (Item, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	UpdateStatus(ctx context.Context, id int64, status POStatus) error
	MarkReceived(ctx context.Context, id int64, at time.Time) error
	InsertReceipt(ctx context.Context, poID, partID, transactionID int64) error
	PartCost(ctx context.Context, partID int64) (decimal.Decimal, error)
	EnsureOpenRequest(ctx context.Context) (PartsRequest, error)
	LockRequest(ctx context.Context, id int64) (PartsRequest, error)
	UpsertRequestLine(ctx context.Context, line RequestLine) error
	ListRequestLines(ctx context.Context, requestID int64) ([]RequestLine, error)
	MarkRequestOrdered(ctx context.Context, requestID, poID int64) error
}

// LedgerPort is the part of the ledger used inside receipt units of work.
type LedgerPort interface {
	Run(ctx context.Context, fn func(context.Context) error) error
	SubmitTx(ctx context.Context, tx ledger.TxRepository, partID, actorID int64, p ledger.Proposal) (ledger.Result, error)
	Settle(ctx context.Context, results ...ledger.Result)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase orders, their receipt and parts requests.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger}
}

// errItemNotFound is returned by GetItem when the part is not on the order.
var errItemNotFound = errors.New("procurement: item not found")

// CreatePurchaseOrder opens a draft order.
func (s *Service) CreatePurchaseOrder(ctx context.Context, in CreateInput) (PurchaseOrder, error) {
	supplier := strings.TrimSpace(in.Supplier)
	if supplier == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreatePurchaseOrder(ctx, PurchaseOrder{
			Number:    defaultNumber(in.Number),
			Supplier:  supplier,
			Status:    POStatusDraft,
			Note:      in.Note,
			CreatedBy: in.ActorID,
		})
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	created.Items = []Item{}
	s.recordAudit(ctx, in.ActorID, "po:create", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// Get loads an order with its items.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return s.repo.Get(ctx, id)
}

// AddItem puts a part on a draft order. A part already on the order has its
// quantity incremented at the stored unit cost.
func (s *Service) AddItem(ctx context.Context, in AddItemInput) (PurchaseOrder, error) {
	if in.PartID <= 0 {
		return PurchaseOrder{}, ledger.ErrPartNotFound
	}
	if in.Quantity <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: quantity must be > 0", ledger.ErrInvalidQuantity)
	}
	if in.UnitCost.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockPurchaseOrder(ctx, in.PurchaseOrderID)
		if err != nil {
			return err
		}
		if locked.Status != POStatusDraft {
			return fmt.Errorf("%w: items can only change on draft orders", ErrInvalidState)
		}
		existing, err := tx.GetItem(ctx, in.PurchaseOrderID, in.PartID)
		switch {
		case err == nil:
			err = tx.UpdateItem(ctx, NewItem(in.PurchaseOrderID, in.PartID, existing.QuantityOrdered+in.Quantity, existing.UnitCost))
		case errors.Is(err, errItemNotFound):
			err = tx.InsertItem(ctx, NewItem(in.PurchaseOrderID, in.PartID, in.Quantity, in.UnitCost))
		}
		if err != nil {
			return err
		}
		locked.Items, err = tx.ListItems(ctx, in.PurchaseOrderID)
		po = locked
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Transition moves an order along draft, sent, confirmed, shipped or to
// cancelled. Receiving goes through ReceivePurchaseOrder.
func (s *Service) Transition(ctx context.Context, id int64, next POStatus, actorID int64) (PurchaseOrder, error) {
	if next == POStatusReceived {
		return PurchaseOrder{}, fmt.Errorf("%w: use receive to mark an order received", ErrInvalidState)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidState, current.Status, next)
		}
		items, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		if next == POStatusSent && len(items) == 0 {
			return ErrEmptyOrder
		}
		if err := tx.UpdateStatus(ctx, id, next); err != nil {
			return err
		}
		current.Status = next
		current.Items = items
		po = current
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "po:status", id, map[string]any{"status": next})
	return po, nil
}

// Cancel aborts an order that has not been received.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (PurchaseOrder, error) {
	return s.Transition(ctx, id, POStatusCancelled, actorID)
}

// ReceivePurchaseOrder books every item into stock and marks the order
// received in one unit of work. Either all items are received or none are.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id int64, actorID int64) (ReceiveResult, error) {
	if id <= 0 {
		return ReceiveResult{}, ErrPurchaseOrderNotFound
	}
	var (
		out     ReceiveResult
		applied []ledger.Result
	)
	err := s.ledger.Run(ctx, func(ctx context.Context) error {
		out, applied = ReceiveResult{}, nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, err := tx.LockPurchaseOrder(ctx, id)
			if err != nil {
				return err
			}
			if po.Status == POStatusReceived {
				return ErrDuplicateReceipt
			}
			if !po.Status.Receivable() {
				return fmt.Errorf("%w: cannot receive a %s order", ErrInvalidState, po.Status)
			}
			items, err := tx.ListItems(ctx, id)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return ErrEmptyOrder
			}
			// Part rows are locked in id order.
			sort.Slice(items, func(i, j int) bool { return items[i].PartID < items[j].PartID })
			for _, it := range items {
				res, err := s.ledger.SubmitTx(ctx, tx, it.PartID, actorID, ledger.ApplyInput{
					Type:          ledger.TypeReceived,
					QuantityDelta: it.QuantityOrdered,
					Reference:     ledger.PurchaseOrderRef(id),
					Notes:         "PO " + po.Number,
				})
				if err != nil {
					return fmt.Errorf("receive part %d: %w", it.PartID, err)
				}
				if err := tx.InsertReceipt(ctx, id, it.PartID, res.Transaction.ID); err != nil {
					return err
				}
				applied = append(applied, res)
				out.Transactions = append(out.Transactions, res.Transaction)
			}
			now := time.Now().UTC()
			if err := tx.MarkReceived(ctx, id, now); err != nil {
				return err
			}
			po.Status = POStatusReceived
			po.ReceivedAt = &now
			po.Items = items
			out.PurchaseOrder = po
			return nil
		})
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.ledger.Settle(ctx, applied...)
	s.recordAudit(ctx, actorID, "po:receive", id, map[string]any{"items": len(out.Transactions)})
	s.logger.Info("purchase order received", slog.Int64("purchase_order_id", id), slog.Int("items", len(out.Transactions)))
	return out, nil
}

// EnsurePartsRequest adds every low-stock level to the single open parts
// request, creating it when none is open. One line is kept per distinct part.
func (s *Service) EnsurePartsRequest(ctx context.Context, levels []reorder.Level) (PartsRequest, error) {
	wanted := make(map[int64]reorder.Level, len(levels))
	for _, lvl := range levels {
		if lvl.PartID > 0 && lvl.Low() {
			wanted[lvl.PartID] = lvl
		}
	}
	if len(wanted) == 0 {
		return PartsRequest{}, ErrNothingToRequest
	}
	partIDs := make([]int64, 0, len(wanted))
	for id := range wanted {
		partIDs = append(partIDs, id)
	}
	sort.Slice(partIDs, func(i, j int) bool { return partIDs[i] < partIDs[j] })

	var req PartsRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.EnsureOpenRequest(ctx)
		if err != nil {
			return err
		}
		for _, id := range partIDs {
			line := RequestLine{RequestID: open.ID, PartID: id, SuggestedQuantity: wanted[id].SuggestedQuantity()}
			if err := tx.UpsertRequestLine(ctx, line); err != nil {
				return err
			}
		}
		open.Lines, err = tx.ListRequestLines(ctx, open.ID)
		req = open
		return err
	})
	if err != nil {
		return PartsRequest{}, err
	}
	return req, nil
}

// GetRequest loads a parts request with its lines.
func (s *Service) GetRequest(ctx context.Context, id int64) (PartsRequest, error) {
	if id <= 0 {
		return PartsRequest{}, ErrRequestNotFound
	}
	return s.repo.GetRequest(ctx, id)
}

// CreatePOFromRequest drafts a purchase order from an open parts request at
// catalog cost prices and closes the request.
func (s *Service) CreatePOFromRequest(ctx context.Context, requestID int64, in CreateInput) (PurchaseOrder, error) {
	supplier := strings.TrimSpace(in.Supplier)
	if supplier == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestOpen {
			return fmt.Errorf("%w: parts request is %s", ErrInvalidState, req.Status)
		}
		lines, err := tx.ListRequestLines(ctx, requestID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNothingToRequest
		}
		po, err = tx.CreatePurchaseOrder(ctx, PurchaseOrder{
			Number:    defaultNumber(in.Number),
			Supplier:  supplier,
			Status:    POStatusDraft,
			Note:      in.Note,
			CreatedBy: in.ActorID,
		})
		if err != nil {
			return err
		}
		for _, l := range lines {
			cost, err := tx.PartCost(ctx, l.PartID)
			if err != nil {
				return err
			}
			item := NewItem(po.ID, l.PartID, l.SuggestedQuantity, cost)
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			po.Items = append(po.Items, item)
		}
		return tx.MarkRequestOrdered(ctx, requestID, po.ID)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, in.ActorID, "po:create", po.ID, map[string]any{"number": po.Number, "from_request": requestID})
	return po, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: shared.EntityPurchaseOrder, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Error("audit purchase order failed", slog.Int64("purchase_order_id", entityID), slog.Any("error", err))
	}
}

func defaultNumber(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return "PO-" + strings.ToUpper(uuid.NewString()[:8])
	}
	return number
}
