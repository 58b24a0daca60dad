// Package ledger owns every change to a part's stock quantity. Gateways hand
// it a Proposal; the ledger locks the part, evaluates the proposal, applies the
// delta and appends the transaction in one database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/workshop/internal/platform/db"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTransactions(ctx context.Context, filter HistoryFilter) ([]Transaction, error)
	Reconcile(ctx context.Context, partID int64) (Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]Reconciliation, error)
}

// TxRepository exposes the row-level operations of one unit of work.
type TxRepository interface {
	LockPart(ctx context.Context, partID int64) (PartState, error)
	ApplyDelta(ctx context.Context, partID int64, delta int) (int, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	ClaimKey(ctx context.Context, key string) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SignalPort receives the post-movement level of every changed part.
type SignalPort interface {
	Evaluate(ctx context.Context, level reorder.Level) error
}

// MetricsPort records ledger outcomes.
type MetricsPort interface {
	ObserveApply(txType, outcome string)
	SetUnbalanced(n int)
}

// Config groups retry settings.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Ledger coordinates stock movements.
type Ledger struct {
	repo    RepositoryPort
	audit   AuditPort
	signal  SignalPort
	metrics MetricsPort
	logger  *slog.Logger
	cfg     Config
}

// NewLedger builds Ledger. audit, signal and metrics may be nil.
func NewLedger(repo RepositoryPort, audit AuditPort, signal SignalPort, metrics MetricsPort, logger *slog.Logger, cfg Config) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Ledger{repo: repo, audit: audit, signal: signal, metrics: metrics, logger: logger, cfg: cfg}
}

// Apply records a fully specified movement in its own unit of work.
func (l *Ledger) Apply(ctx context.Context, in ApplyInput) (Result, error) {
	return l.Submit(ctx, in.PartID, in.ActorID, in)
}

// Submit evaluates p against the locked part and applies the delta it proposes
// in its own unit of work.
func (l *Ledger) Submit(ctx context.Context, partID, actorID int64, p Proposal) (Result, error) {
	var res Result
	err := l.Run(ctx, func(ctx context.Context) error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			r, err := l.SubmitTx(ctx, tx, partID, actorID, p)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		return Result{}, err
	}
	l.Settle(ctx, res)
	return res, nil
}

// ApplyTx records a movement inside a unit of work owned by the caller. The
// caller must call Settle once its transaction commits.
func (l *Ledger) ApplyTx(ctx context.Context, tx TxRepository, in ApplyInput) (Result, error) {
	return l.SubmitTx(ctx, tx, in.PartID, in.ActorID, in)
}

// SubmitTx is Submit inside a caller-owned unit of work.
func (l *Ledger) SubmitTx(ctx context.Context, tx TxRepository, partID, actorID int64, p Proposal) (Result, error) {
	if partID <= 0 {
		return Result{}, ErrPartNotFound
	}
	state, err := tx.LockPart(ctx, partID)
	if err != nil {
		return Result{}, err
	}
	if k, ok := p.(Keyed); ok && k.IdempotencyKey() != "" {
		claimed, err := tx.ClaimKey(ctx, k.IdempotencyKey())
		if err != nil {
			return Result{}, fmt.Errorf("%w: claim key: %w", ErrLedgerWriteFailure, err)
		}
		if !claimed {
			return Result{}, ErrAlreadyApplied
		}
	}
	delta, err := p.Propose(state)
	if err != nil {
		l.observe(delta.Type, "rejected")
		return Result{}, reject(err, state, delta.Quantity)
	}
	if err := delta.Validate(); err != nil {
		l.observe(delta.Type, "rejected")
		return Result{}, reject(err, state, delta.Quantity)
	}
	if state.Quantity+delta.Quantity < 0 {
		l.observe(delta.Type, "insufficient")
		return Result{}, reject(ErrInsufficientStock, state, delta.Quantity)
	}
	quantity, err := tx.ApplyDelta(ctx, partID, delta.Quantity)
	if err != nil {
		return Result{}, reject(err, state, delta.Quantity)
	}
	txn, err := tx.InsertTransaction(ctx, Transaction{
		PartID:        partID,
		Type:          delta.Type,
		QuantityDelta: delta.Quantity,
		Reference:     delta.Reference,
		Notes:         delta.Notes,
		ActorID:       actorID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	state.Quantity = quantity
	return Result{Transaction: txn, Part: state}, nil
}

// Run executes a unit of work, retrying serialization failures and deadlocks,
// and classifies infrastructure failures as ErrLedgerWriteFailure.
func (l *Ledger) Run(ctx context.Context, fn func(context.Context) error) error {
	err := db.Retry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, fn)
	if err == nil {
		return nil
	}
	if db.IsRetryable(err) {
		l.logger.Warn("ledger unit exhausted retries", slog.Int("attempts", l.cfg.MaxRetries), slog.Any("error", err))
	}
	return classify(err)
}

// Settle fires post-commit effects for results of a committed unit of work.
func (l *Ledger) Settle(ctx context.Context, results ...Result) {
	for _, res := range results {
		l.observe(res.Transaction.Type, "applied")
		level := reorder.Level{
			PartID:     res.Part.ID,
			PartNumber: res.Part.PartNumber,
			Quantity:   res.Part.Quantity,
			Threshold:  res.Part.ReorderThreshold,
			Sequence:   res.Transaction.ID,
		}
		if l.signal != nil {
			if err := l.signal.Evaluate(ctx, level); err != nil {
				l.logger.Error("reorder signal failed", slog.Int64("part_id", level.PartID), slog.Any("error", err))
			}
		}
		if l.audit != nil {
			txn := res.Transaction
			err := l.audit.Record(ctx, shared.AuditLog{
				ActorID:  txn.ActorID,
				Action:   fmt.Sprintf("stock:%s", txn.Type),
				Entity:   shared.EntityStockTransaction,
				EntityID: strconv.FormatInt(txn.ID, 10),
				Meta: map[string]any{
					"part_id":        txn.PartID,
					"quantity_delta": txn.QuantityDelta,
					"reference":      txn.Reference.String(),
					"quantity":       res.Part.Quantity,
				},
			})
			if err != nil {
				l.logger.Error("audit stock transaction failed", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
			}
		}
	}
}

// Reconcile audits one part. It never writes.
func (l *Ledger) Reconcile(ctx context.Context, partID int64) (Reconciliation, error) {
	if partID <= 0 {
		return Reconciliation{}, ErrPartNotFound
	}
	return l.repo.Reconcile(ctx, partID)
}

// ReconcileAll audits every part and reports the unbalanced ones.
func (l *Ledger) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	all, err := l.repo.ReconcileAll(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Checked: len(all), Unbalanced: []Reconciliation{}}
	for _, rec := range all {
		if !rec.Balanced {
			report.Unbalanced = append(report.Unbalanced, rec)
		}
	}
	if l.metrics != nil {
		l.metrics.SetUnbalanced(len(report.Unbalanced))
	}
	return report, nil
}

// History lists transactions for a part, newest first.
func (l *Ledger) History(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	if filter.PartID <= 0 {
		return nil, ErrPartNotFound
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return l.repo.ListTransactions(ctx, filter)
}

func (l *Ledger) observe(t TransactionType, outcome string) {
	if l.metrics == nil {
		return
	}
	if t == "" {
		t = "unknown"
	}
	l.metrics.ObserveApply(string(t), outcome)
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrLedgerWriteFailure),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%w: %w", ErrLedgerWriteFailure, err)
}
