package workorders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/platform/db"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Repository persists work orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction shared with
// the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("workorders repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.BindTx(tx), tx: tx})
	})
}

const workOrderColumns = `id, number, status, quoted, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var (
		wo     WorkOrder
		status string
	)
	err := row.Scan(&wo.ID, &wo.Number, &status, &wo.Quoted, &wo.CreatedAt, &wo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkOrder{}, ErrWorkOrderNotFound
	}
	if err != nil {
		return WorkOrder{}, err
	}
	wo.Status = Status(status)
	return wo, nil
}

func (r *Repository) Create(ctx context.Context, wo WorkOrder) (WorkOrder, error) {
	created, err := scanWorkOrder(r.pool.QueryRow(ctx,
		`INSERT INTO work_orders (number, status, quoted) VALUES ($1, $2, $3) RETURNING `+workOrderColumns,
		wo.Number, string(wo.Status), wo.Quoted))
	if db.IsUniqueViolation(err, "") {
		return WorkOrder{}, ErrDuplicateNumber
	}
	return created, err
}

func (r *Repository) Get(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWorkOrder(r.pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
}

const lineColumns = `work_order_id, part_id, quantity, unit_price, total_price`

func (r *Repository) ListLines(ctx context.Context, workOrderID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM work_order_parts WHERE work_order_id = $1 ORDER BY created_at, part_id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.WorkOrderID, &l.PartID, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepository) LockWorkOrder(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE work_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (t *txRepository) GetLine(ctx context.Context, workOrderID, partID int64) (Line, error) {
	var l Line
	err := t.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM work_order_parts WHERE work_order_id = $1 AND part_id = $2`, workOrderID, partID).
		Scan(&l.WorkOrderID, &l.PartID, &l.Quantity, &l.UnitPrice, &l.TotalPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrLineNotFound
	}
	return l, err
}

func (t *txRepository) InsertLine(ctx context.Context, l Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO work_order_parts (`+lineColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		l.WorkOrderID, l.PartID, l.Quantity, l.UnitPrice, l.TotalPrice)
	return err
}

// UpdateLine writes quantity and total only; unit_price is never rewritten.
func (t *txRepository) UpdateLine(ctx context.Context, l Line) error {
	_, err := t.tx.Exec(ctx, `UPDATE work_order_parts SET quantity = $3, total_price = $4, updated_at = NOW()
WHERE work_order_id = $1 AND part_id = $2`, l.WorkOrderID, l.PartID, l.Quantity, l.TotalPrice)
	return err
}

func (t *txRepository) DeleteLine(ctx context.Context, workOrderID, partID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM work_order_parts WHERE work_order_id = $1 AND part_id = $2`, workOrderID, partID)
	return err
}

func (t *txRepository) ClaimRequest(ctx context.Context, key string) (bool, error) {
	return shared.Claim(ctx, t.tx, key, "workorders")
}
