package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/platform/db"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	q db.Querier
}

// BindTx exposes the ledger operations over a transaction opened by another
// repository, so gateway writes and ledger writes share one commit.
func BindTx(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

// WithTx executes the callback inside a read-committed transaction. Part rows
// are locked explicitly by LockPart.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, BindTx(tx))
	})
}

const lockPartSQL = `SELECT id, part_number, quantity, initial_quantity, reorder_threshold, sell_price
FROM parts WHERE id = $1 FOR UPDATE`

func (r *txRepository) LockPart(ctx context.Context, partID int64) (PartState, error) {
	var (
		state PartState
		sell  decimal.NullDecimal
	)
	err := r.q.QueryRow(ctx, lockPartSQL, partID).Scan(
		&state.ID, &state.PartNumber, &state.Quantity, &state.InitialQuantity, &state.ReorderThreshold, &sell,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return PartState{}, ErrPartNotFound
	}
	if err != nil {
		return PartState{}, fmt.Errorf("%w: lock part: %w", ErrLedgerWriteFailure, err)
	}
	if sell.Valid {
		state.SellPrice = &sell.Decimal
	}
	return state, nil
}

const applyDeltaSQL = `UPDATE parts SET quantity = quantity + $2, updated_at = NOW()
WHERE id = $1 AND quantity + $2 >= 0
RETURNING quantity`

// ApplyDelta is conditional on the result staying non-negative, so even a
// caller that skipped LockPart cannot drive the balance below zero.
func (r *txRepository) ApplyDelta(ctx context.Context, partID int64, delta int) (int, error) {
	var quantity int
	err := r.q.QueryRow(ctx, applyDeltaSQL, partID, delta).Scan(&quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientStock
	}
	if err != nil {
		return 0, fmt.Errorf("%w: apply delta: %w", ErrLedgerWriteFailure, err)
	}
	return quantity, nil
}

const insertTransactionSQL = `INSERT INTO stock_transactions
(part_id, type, quantity_delta, reference_type, reference_id, notes, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
RETURNING id, created_at`

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.q.QueryRow(ctx, insertTransactionSQL,
		txn.PartID, string(txn.Type), txn.QuantityDelta, txn.Reference.Type, txn.Reference.ID, txn.Notes, txn.ActorID, txn.CreatedAt,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: insert transaction: %w", ErrLedgerWriteFailure, err)
	}
	return txn, nil
}

// ClaimKey records a keyed movement. The key rolls back with the movement.
func (r *txRepository) ClaimKey(ctx context.Context, key string) (bool, error) {
	return shared.Claim(ctx, r.q, key, "ledger")
}

const listTransactionsSQL = `SELECT id, part_id, type, quantity_delta, reference_type, reference_id, COALESCE(notes, ''), actor_id, created_at
FROM stock_transactions WHERE part_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

// ListTransactions returns a page of a part's transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, listTransactionsSQL, filter.PartID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			txn     Transaction
			txnType string
		)
		if err := rows.Scan(&txn.ID, &txn.PartID, &txnType, &txn.QuantityDelta, &txn.Reference.Type, &txn.Reference.ID, &txn.Notes, &txn.ActorID, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Type = TransactionType(txnType)
		out = append(out, txn)
	}
	return out, rows.Err()
}

const reconcileSQL = `SELECT p.id, p.part_number, p.quantity, p.initial_quantity, COALESCE(SUM(t.quantity_delta), 0)
FROM parts p
LEFT JOIN stock_transactions t ON t.part_id = p.id
%s
GROUP BY p.id, p.part_number, p.quantity, p.initial_quantity
ORDER BY p.id`

// Reconcile compares one part's quantity against seed plus transaction sum.
func (r *Repository) Reconcile(ctx context.Context, partID int64) (Reconciliation, error) {
	recs, err := r.reconcile(ctx, fmt.Sprintf(reconcileSQL, "WHERE p.id = $1"), partID)
	if err != nil {
		return Reconciliation{}, err
	}
	if len(recs) == 0 {
		return Reconciliation{}, ErrPartNotFound
	}
	return recs[0], nil
}

// ReconcileAll runs the comparison for every part.
func (r *Repository) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	return r.reconcile(ctx, fmt.Sprintf(reconcileSQL, ""))
}

func (r *Repository) reconcile(ctx context.Context, sql string, args ...any) ([]Reconciliation, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reconciliation
	for rows.Next() {
		var (
			id                    int64
			number                string
			quantity, seed, total int
		)
		if err := rows.Scan(&id, &number, &quantity, &seed, &total); err != nil {
			return nil, err
		}
		out = append(out, NewReconciliation(id, number, quantity, seed, total))
	}
	return out, rows.Err()
}
