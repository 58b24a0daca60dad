package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/workshop/internal/jobs"
	"github.com/odyssey-erp/workshop/internal/ledger"
)

// Reconciler audits all part balances.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (ledger.ReconcileReport, error)
}

// ProjectionRebuilder resynchronises the low-stock projection.
type ProjectionRebuilder interface {
	RebuildProjection(ctx context.Context) (int, error)
}

// ReconcileJob runs the periodic ledger audit. It never writes stock; an
// unbalanced part is logged for investigation.
type ReconcileJob struct {
	Ledger     Reconciler
	Projection ProjectionRebuilder
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler. projection may be nil.
func NewReconcileJob(l Reconciler, projection ProjectionRebuilder, log *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: l, Projection: projection, Logger: log, Metrics: metrics}
}

// Handle executes the audit.
func (j *ReconcileJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	report, err := j.Ledger.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	log := jobLogger(j.Logger)
	for _, rec := range report.Unbalanced {
		log.Error("ledger imbalance detected",
			slog.Int64("part_id", rec.PartID), slog.String("part_number", rec.PartNumber),
			slog.Int("quantity", rec.Quantity), slog.Int("seed", rec.Seed), slog.Int("transaction_sum", rec.Sum))
	}
	j.Metrics.AddItems(TaskLedgerReconcile, "checked", report.Checked)
	j.Metrics.AddItems(TaskLedgerReconcile, "unbalanced", len(report.Unbalanced))
	log.Info("ledger reconciled", slog.Int("checked", report.Checked), slog.Int("unbalanced", len(report.Unbalanced)))

	if j.Projection != nil {
		if _, err := j.Projection.RebuildProjection(ctx); err != nil {
			log.Warn("rebuild low-stock projection failed", slog.Any("error", err))
		}
	}
	return nil
}
