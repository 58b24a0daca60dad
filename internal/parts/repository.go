package parts

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/platform/db"
)

// PGRepository persists parts in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const partColumns = `id, part_number, name, quantity, initial_quantity, cost_price, sell_price, reorder_threshold, location, barcode, created_at, updated_at`

func scanPart(row pgx.Row) (Part, error) {
	var (
		p          Part
		cost, sell decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.PartNumber, &p.Name, &p.Quantity, &p.InitialQuantity, &cost, &sell,
		&p.ReorderThreshold, &p.Location, &p.Barcode, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Part{}, ErrPartNotFound
	}
	if err != nil {
		return Part{}, err
	}
	if cost.Valid {
		p.CostPrice = &cost.Decimal
	}
	if sell.Valid {
		p.SellPrice = &sell.Decimal
	}
	return p, nil
}

func mapConstraint(err error) error {
	switch {
	case db.IsUniqueViolation(err, "parts_part_number_key"):
		return ErrDuplicatePartNumber
	case db.IsUniqueViolation(err, "parts_barcode_key"):
		return ErrDuplicateBarcode
	}
	return err
}

func (r *PGRepository) Create(ctx context.Context, part Part) (Part, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO parts
(part_number, name, quantity, initial_quantity, cost_price, sell_price, reorder_threshold, location, barcode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+partColumns,
		part.PartNumber, part.Name, part.Quantity, part.InitialQuantity, part.CostPrice, part.SellPrice,
		part.ReorderThreshold, part.Location, part.Barcode)
	created, err := scanPart(row)
	if err != nil {
		return Part{}, mapConstraint(err)
	}
	return created, nil
}

// Update never writes quantity; the ledger is its only writer.
func (r *PGRepository) Update(ctx context.Context, id int64, input UpdateInput) (Part, error) {
	row := r.pool.QueryRow(ctx, `UPDATE parts SET
    name = COALESCE($2, name),
    cost_price = COALESCE($3, cost_price),
    sell_price = COALESCE($4, sell_price),
    reorder_threshold = COALESCE($5, reorder_threshold),
    location = COALESCE($6, location),
    barcode = COALESCE($7, barcode),
    updated_at = NOW()
WHERE id = $1
RETURNING `+partColumns,
		id, input.Name, input.CostPrice, input.SellPrice, input.ReorderThreshold, input.Location, input.Barcode)
	updated, err := scanPart(row)
	if err != nil {
		return Part{}, mapConstraint(err)
	}
	return updated, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Part, error) {
	return scanPart(r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id = $1`, id))
}

func (r *PGRepository) FindByBarcode(ctx context.Context, code string) (Part, error) {
	return scanPart(r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE barcode = $1`, code))
}

func (r *PGRepository) FindByPartNumber(ctx context.Context, code string) (Part, error) {
	return scanPart(r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE part_number = $1`, code))
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Part, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR part_number ILIKE $` + n + ` OR barcode = $` + n + `)`
	}
	if filter.LowStockOnly {
		where += ` AND quantity <= reorder_threshold`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM parts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := `SELECT ` + partColumns + ` FROM parts` + where +
		` ORDER BY part_number LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Candidates returns the whole catalog for fuzzy ranking.
func (r *PGRepository) Candidates(ctx context.Context) ([]Part, error) {
	return r.query(ctx, `SELECT `+partColumns+` FROM parts ORDER BY part_number`)
}

func (r *PGRepository) query(ctx context.Context, sql string, args ...any) ([]Part, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
