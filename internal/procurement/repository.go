package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/platform/db"
)

const codeForeignKeyViolation = "23503"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: ledger.BindTx(tx), tx: tx})
	})
}

const poColumns = `id, number, supplier, status, note, received_at, created_by, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var (
		po     PurchaseOrder
		status string
	)
	err := row.Scan(&po.ID, &po.Number, &po.Supplier, &status, &po.Note, &po.ReceivedAt, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	return po, nil
}

// Get returns the purchase order and its items.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = listItems(ctx, r.pool, id)
	return po, err
}

const requestColumns = `id, status, purchase_order_id, created_at, updated_at`

func scanRequest(row pgx.Row) (PartsRequest, error) {
	var (
		req    PartsRequest
		status string
	)
	err := row.Scan(&req.ID, &status, &req.PurchaseOrderID, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PartsRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return PartsRequest{}, err
	}
	req.Status = RequestStatus(status)
	return req, nil
}

// GetRequest returns a parts request and its lines.
func (r *Repository) GetRequest(ctx context.Context, id int64) (PartsRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM parts_requests WHERE id = $1`, id))
	if err != nil {
		return PartsRequest{}, err
	}
	req.Lines, err = listRequestLines(ctx, r.pool, id)
	return req, err
}

func listItems(ctx context.Context, q db.Querier, poID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT purchase_order_id, part_id, quantity_ordered, unit_cost, total_cost
FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY part_id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.PurchaseOrderID, &it.PartID, &it.QuantityOrdered, &it.UnitCost, &it.TotalCost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func listRequestLines(ctx context.Context, q db.Querier, requestID int64) ([]RequestLine, error) {
	rows, err := q.Query(ctx, `SELECT request_id, part_id, suggested_quantity FROM parts_request_lines
WHERE request_id = $1 ORDER BY part_id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []RequestLine{}
	for rows.Next() {
		var l RequestLine
		if err := rows.Scan(&l.RequestID, &l.PartID, &l.SuggestedQuantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanPO(t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier, status, note, created_by)
VALUES ($1, $2, $3, $4, $5) RETURNING `+poColumns, po.Number, po.Supplier, string(po.Status), po.Note, po.CreatedBy))
	if db.IsUniqueViolation(err, "") {
		return PurchaseOrder{}, ErrDuplicateNumber
	}
	return created, err
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) ListItems(ctx context.Context, poID int64) ([]Item, error) {
	return listItems(ctx, t.tx, poID)
}

func (t *txRepo) GetItem(ctx context.Context, poID, partID int64) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `SELECT purchase_order_id, part_id, quantity_ordered, unit_cost, total_cost
FROM purchase_order_items WHERE purchase_order_id = $1 AND part_id = $2`, poID, partID).
		Scan(&it.PurchaseOrderID, &it.PartID, &it.QuantityOrdered, &it.UnitCost, &it.TotalCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, errItemNotFound
	}
	return it, err
}

func (t *txRepo) InsertItem(ctx context.Context, it Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_items (purchase_order_id, part_id, quantity_ordered, unit_cost, total_cost)
VALUES ($1, $2, $3, $4, $5)`, it.PurchaseOrderID, it.PartID, it.QuantityOrdered, it.UnitCost, it.TotalCost)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return ledger.ErrPartNotFound
	}
	return err
}

func (t *txRepo) UpdateItem(ctx context.Context, it Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET quantity_ordered = $3, total_cost = $4
WHERE purchase_order_id = $1 AND part_id = $2`, it.PurchaseOrderID, it.PartID, it.QuantityOrdered, it.TotalCost)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

// MarkReceived only succeeds from a receivable status.
func (t *txRepo) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = 'received', received_at = $2, updated_at = NOW()
WHERE id = $1 AND status IN ('sent', 'confirmed', 'shipped')`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateReceipt
	}
	return nil
}

func (t *txRepo) InsertReceipt(ctx context.Context, poID, partID, transactionID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_receipts (purchase_order_id, part_id, transaction_id)
VALUES ($1, $2, $3)`, poID, partID, transactionID)
	if db.IsUniqueViolation(err, "purchase_order_receipts_pkey") {
		return ErrDuplicateReceipt
	}
	return err
}

func (t *txRepo) PartCost(ctx context.Context, partID int64) (decimal.Decimal, error) {
	var cost *decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT cost_price FROM parts WHERE id = $1`, partID).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ledger.ErrPartNotFound
	}
	if err != nil || cost == nil {
		return decimal.Zero, err
	}
	return *cost, nil
}

// EnsureOpenRequest returns the locked open request, creating it if needed.
func (t *txRepo) EnsureOpenRequest(ctx context.Context) (PartsRequest, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO parts_requests (status) VALUES ('open')
ON CONFLICT ((status)) WHERE status = 'open' DO NOTHING`); err != nil {
		return PartsRequest{}, err
	}
	return scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM parts_requests WHERE status = 'open' FOR UPDATE`))
}

func (t *txRepo) LockRequest(ctx context.Context, id int64) (PartsRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM parts_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpsertRequestLine(ctx context.Context, l RequestLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO parts_request_lines (request_id, part_id, suggested_quantity) VALUES ($1, $2, $3)
ON CONFLICT (request_id, part_id) DO UPDATE SET suggested_quantity = EXCLUDED.suggested_quantity`,
		l.RequestID, l.PartID, l.SuggestedQuantity)
	return err
}

func (t *txRepo) ListRequestLines(ctx context.Context, requestID int64) ([]RequestLine, error) {
	return listRequestLines(ctx, t.tx, requestID)
}

func (t *txRepo) MarkRequestOrdered(ctx context.Context, requestID, poID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE parts_requests SET status = 'ordered', purchase_order_id = $2, updated_at = NOW()
WHERE id = $1`, requestID, poID)
	return err
}
