package reorder

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads levels from the parts table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListLowStock returns parts with quantity <= reorder_threshold.
func (r *PGRepository) ListLowStock(ctx context.Context) ([]Level, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, part_number, name, quantity, reorder_threshold
FROM parts WHERE quantity <= reorder_threshold ORDER BY part_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []Level{}
	for rows.Next() {
		var lvl Level
		if err := rows.Scan(&lvl.PartID, &lvl.PartNumber, &lvl.Name, &lvl.Quantity, &lvl.Threshold); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}
