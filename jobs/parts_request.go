package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/workshop/internal/jobs"
	"github.com/odyssey-erp/workshop/internal/procurement"
	"github.com/odyssey-erp/workshop/internal/reorder"
)

// LowStockSource lists the authoritative low-stock levels.
type LowStockSource interface {
	LowStock(ctx context.Context) ([]reorder.Level, error)
}

// PartsRequester folds levels into the open parts request.
type PartsRequester interface {
	EnsurePartsRequest(ctx context.Context, levels []reorder.Level) (procurement.PartsRequest, error)
}

// PartsRequestJob aggregates every low-stock part into the open parts
// request, one line per distinct part.
type PartsRequestJob struct {
	Source   LowStockSource
	Requests PartsRequester
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPartsRequestJob constructs the job handler.
func NewPartsRequestJob(source LowStockSource, requests PartsRequester, logger *slog.Logger, metrics *jobmetrics.Metrics) *PartsRequestJob {
	return &PartsRequestJob{Source: source, Requests: requests, Logger: logger, Metrics: metrics}
}

// Handle executes the aggregation.
func (j *PartsRequestJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Requests == nil {
		return errors.New("parts request: dependencies not configured")
	}
	var payload PartsRequestPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskReorderPartsRequest)
	defer func() {
		err = tracker.End(err)
	}()

	levels, err := j.Source.LowStock(ctx)
	if err != nil {
		return err
	}
	req, err := j.Requests.EnsurePartsRequest(ctx, levels)
	if errors.Is(err, procurement.ErrNothingToRequest) {
		jobLogger(j.Logger).Info("part no longer low, no parts request needed", slog.Int64("part_id", payload.PartID))
		return nil
	}
	if err != nil {
		return err
	}
	j.Metrics.AddItems(TaskReorderPartsRequest, "lines", len(req.Lines))
	jobLogger(j.Logger).Info("parts request updated",
		slog.Int64("request_id", req.ID), slog.Int("lines", len(req.Lines)), slog.Int64("trigger_part_id", payload.PartID))
	return nil
}

func jobLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
