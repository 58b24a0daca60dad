package reorder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// LowStockSetKey holds the ids of parts currently at or below threshold.
const LowStockSetKey = "reorder:low_stock"

// LowStockSeqKey maps part id to the sequence of the last level applied to
// the projection.
const LowStockSeqKey = "reorder:low_stock:seq"

// evaluateScript applies one level unless a newer one was already applied.
// It returns 1 when the part entered the set, 0 otherwise and -1 when stale.
var evaluateScript = redis.NewScript(`
local seq = tonumber(ARGV[2])
if seq > 0 then
  local last = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
  if seq <= last then
    return -1
  end
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
end
if ARGV[3] == '1' then
  return redis.call('SADD', KEYS[1], ARGV[1])
end
redis.call('SREM', KEYS[1], ARGV[1])
return 0
`)

// Enqueuer schedules parts request aggregation for a part that became low.
type Enqueuer interface {
	EnqueuePartsRequest(ctx context.Context, partID int64) error
}

// Signal keeps the low-stock projection current and raises a parts request
// when a part crosses into low stock. The projection is read-only for
// clients; Postgres stays authoritative.
type Signal struct {
	client *redis.Client
	queue  Enqueuer
	logger *slog.Logger
}

// NewSignal constructs Signal. queue may be nil.
func NewSignal(client *redis.Client, queue Enqueuer, logger *slog.Logger) *Signal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signal{client: client, queue: queue, logger: logger}
}

// Evaluate applies the predicate to a post-movement level. A level older than
// the last one applied for the part is ignored, so settles arriving out of
// commit order cannot leave a stale projection.
func (s *Signal) Evaluate(ctx context.Context, lvl Level) error {
	if s == nil || s.client == nil {
		return nil
	}
	low := "0"
	if lvl.Low() {
		low = "1"
	}
	added, err := evaluateScript.Run(ctx, s.client, []string{LowStockSetKey, LowStockSeqKey},
		strconv.FormatInt(lvl.PartID, 10), lvl.Sequence, low).Int()
	if err != nil {
		return fmt.Errorf("reorder: update projection: %w", err)
	}
	if added == -1 {
		s.logger.Debug("stale stock level ignored", slog.Int64("part_id", lvl.PartID), slog.Int64("sequence", lvl.Sequence))
		return nil
	}
	if added != 1 || s.queue == nil {
		return nil
	}
	s.logger.Info("part reached reorder threshold",
		slog.Int64("part_id", lvl.PartID), slog.Int("quantity", lvl.Quantity), slog.Int("threshold", lvl.Threshold))
	return s.queue.EnqueuePartsRequest(ctx, lvl.PartID)
}

// Replace rewrites the projection from an authoritative list.
func (s *Signal) Replace(ctx context.Context, levels []Level) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, LowStockSetKey)
		members := make([]any, 0, len(levels))
		for _, lvl := range levels {
			if lvl.Low() {
				members = append(members, strconv.FormatInt(lvl.PartID, 10))
			}
		}
		if len(members) > 0 {
			pipe.SAdd(ctx, LowStockSetKey, members...)
		}
		return nil
	})
	return err
}
