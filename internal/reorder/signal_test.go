package reorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	parts []int64
}

func (q *recordingQueue) EnqueuePartsRequest(_ context.Context, partID int64) error {
	q.parts = append(q.parts, partID)
	return nil
}

func newSignal(t *testing.T) (*Signal, *recordingQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := &recordingQueue{}
	return NewSignal(client, q, nil), q, mr
}

func TestPredicate(t *testing.T) {
	require.True(t, IsLowStock(2, 2))
	require.True(t, IsLowStock(0, 0))
	require.False(t, IsLowStock(3, 2))
	require.Equal(t, 3, Level{Quantity: 1, Threshold: 3}.SuggestedQuantity())
	require.Equal(t, 1, Level{Quantity: 9, Threshold: 3}.SuggestedQuantity())
}

func TestSignalEnqueuesOnTransitionOnly(t *testing.T) {
	sig, q, mr := newSignal(t)
	ctx := context.Background()

	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 5, Threshold: 2}))
	require.Empty(t, q.parts)

	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 2, Threshold: 2}))
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 1, Threshold: 2}))
	require.Equal(t, []int64{1}, q.parts)
	ok, err := mr.SIsMember(LowStockSetKey, "1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 10, Threshold: 2}))
	ok, err = mr.SIsMember(LowStockSetKey, "1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 0, Threshold: 2}))
	require.Equal(t, []int64{1, 1}, q.parts)
}

type countingRepo struct {
	calls   atomic.Int32
	release chan struct{}
	levels  []Level
	err     error
}

func (r *countingRepo) ListLowStock(context.Context) ([]Level, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	return r.levels, r.err
}

func TestLowStockCoalescesConcurrentReads(t *testing.T) {
	repo := &countingRepo{release: make(chan struct{}), levels: []Level{{PartID: 4, Quantity: 0, Threshold: 1}}}
	svc := NewService(repo, nil, nil)

	var wg sync.WaitGroup
	results := make([][]Level, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.LowStock(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(repo.release)
	wg.Wait()
	for _, res := range results {
		require.Len(t, res, 1)
	}
	require.LessOrEqual(t, repo.calls.Load(), int32(5))

	repo.err = errors.New("db down")
	repo.release = nil
	_, err := svc.LowStock(context.Background())
	require.Error(t, err)
}

func TestRebuildProjection(t *testing.T) {
	sig, _, mr := newSignal(t)
	ctx := context.Background()
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 9, Quantity: 0, Threshold: 1}))

	repo := &countingRepo{levels: []Level{{PartID: 2, Quantity: 1, Threshold: 1}, {PartID: 3, Quantity: 0, Threshold: 4}}}
	n, err := NewService(repo, sig, nil).RebuildProjection(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	members, err := mr.Members(LowStockSetKey)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2", "3"}, members)
}

func TestSignalIgnoresStaleLevels(t *testing.T) {
	sig, q, mr := newSignal(t)
	ctx := context.Background()

	// Movement 5 drains the part but its settle runs before that of movement 4.
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 1, Threshold: 2, Sequence: 5}))
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 9, Threshold: 2, Sequence: 4}))
	ok, err := mr.SIsMember(LowStockSetKey, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{1}, q.parts)

	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 9, Threshold: 2, Sequence: 6}))
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 1, Quantity: 0, Threshold: 2, Sequence: 3}))
	ok, err = mr.SIsMember(LowStockSetKey, "1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []int64{1}, q.parts)
	require.Equal(t, "6", mr.HGet(LowStockSeqKey, "1"))

	// Other parts keep their own order.
	require.NoError(t, sig.Evaluate(ctx, Level{PartID: 2, Quantity: 0, Threshold: 1, Sequence: 1}))
	require.Equal(t, []int64{1, 2}, q.parts)
}
