package shared

import "fmt"

// StocktakeLockKey builds the redis key guarding a stocktake session save.
func StocktakeLockKey(sessionID string) string {
	return fmt.Sprintf("stocktake:session:%s:lock", sessionID)
}

// WorkOrderRequestKey builds the idempotency key for a consumption click.
func WorkOrderRequestKey(workOrderID int64, requestID string) string {
	return fmt.Sprintf("workorder:%d:request:%s", workOrderID, requestID)
}

// StocktakeItemKey builds the idempotency key for one part of a stocktake save.
func StocktakeItemKey(sessionID string, partID int64) string {
	return fmt.Sprintf("stocktake:%s:part:%d", sessionID, partID)
}
