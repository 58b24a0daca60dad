package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries stock-affecting retries.
	QueueCritical = "critical"

	// TaskReorderPartsRequest aggregates low-stock parts into a parts request.
	TaskReorderPartsRequest = "reorder:parts_request"
	// TaskLedgerReconcile audits every part balance against its transactions.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskProcurementReceive retries a purchase order receipt.
	TaskProcurementReceive = "procurement:receive"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// partsRequestWindow bounds how often one part can trigger aggregation.
const partsRequestWindow = 10 * time.Minute

// PartsRequestPayload names the part whose crossing triggered the task.
type PartsRequestPayload struct {
	PartID int64 `json:"part_id"`
}

// ReceiptPayload identifies the purchase order to receive.
type ReceiptPayload struct {
	PurchaseOrderID int64 `json:"purchase_order_id"`
	ActorID         int64 `json:"actor_id"`
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewPartsRequestTask builds a reorder task. Tasks for the same part are
// unique within partsRequestWindow.
func NewPartsRequestTask(partID int64) (*asynq.Task, error) {
	body, err := json.Marshal(PartsRequestPayload{PartID: partID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderPartsRequest, body,
		asynq.Queue(QueueDefault), asynq.Unique(partsRequestWindow), asynq.MaxRetry(5)), nil
}

// NewReconcileTask builds the ledger audit task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerReconcile, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// NewReceiptTask builds a receipt retry task.
func NewReceiptTask(poID, actorID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReceiptPayload{PurchaseOrderID: poID, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcurementReceive, body,
		asynq.Queue(QueueCritical), asynq.MaxRetry(20), asynq.Unique(time.Hour)), nil
}

// NewCleanupTask builds the idempotency cleanup task.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 72
	}
	body, err := json.Marshal(CleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
