package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/workshop/internal/jobs"
	"github.com/odyssey-erp/workshop/internal/procurement"
	"github.com/odyssey-erp/workshop/internal/shared"
)

// Receiver receives purchase orders.
type Receiver interface {
	ReceivePurchaseOrder(ctx context.Context, id int64, actorID int64) (procurement.ReceiveResult, error)
}

// ReceiptJob retries a purchase order receipt until it completes. The
// receipt is all-or-nothing so a retry never double counts.
type ReceiptJob struct {
	Service Receiver
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReceiptJob constructs the job handler.
func NewReceiptJob(service Receiver, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptJob {
	return &ReceiptJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one receipt attempt.
func (j *ReceiptJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("procurement receive: dependencies not configured")
	}
	var payload ReceiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.PurchaseOrderID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskProcurementReceive)
	defer func() {
		err = tracker.End(err)
	}()

	log := jobLogger(j.Logger).With(slog.Int64("purchase_order_id", payload.PurchaseOrderID))
	res, err := j.Service.ReceivePurchaseOrder(ctx, payload.PurchaseOrderID, payload.ActorID)
	switch {
	case err == nil:
		j.Metrics.AddItems(TaskProcurementReceive, "items", len(res.Transactions))
		log.Info("purchase order received by worker", slog.Int("items", len(res.Transactions)))
		return nil
	case errors.Is(err, procurement.ErrDuplicateReceipt):
		log.Info("purchase order already received")
		return nil
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrValidation):
		log.Warn("purchase order receipt rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
