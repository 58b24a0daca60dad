package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/ledger/ledgertest"
	"github.com/odyssey-erp/workshop/internal/reorder"
	"github.com/odyssey-erp/workshop/internal/shared"
)

type recordingSignal struct {
	mu     sync.Mutex
	levels []reorder.Level
}

func (s *recordingSignal) Evaluate(_ context.Context, level reorder.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, level)
	return nil
}

func (s *recordingSignal) last() reorder.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[len(s.levels)-1]
}

type recordingMetrics struct {
	mu         sync.Mutex
	outcomes   map[string]int
	unbalanced int
}

func (m *recordingMetrics) ObserveApply(txType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[txType+":"+outcome]++
}

func (m *recordingMetrics) SetUnbalanced(n int) { m.unbalanced = n }

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newLedger(t *testing.T) (*ledger.Ledger, *ledgertest.Store, *recordingSignal, *recordingMetrics) {
	t.Helper()
	store := ledgertest.New()
	signal := &recordingSignal{}
	metrics := &recordingMetrics{}
	l := ledger.NewLedger(store, nil, signal, metrics, nil, ledger.Config{MaxRetries: 3})
	return l, store, signal, metrics
}

func checkout(partID int64, qty int) ledger.ApplyInput {
	return ledger.ApplyInput{
		PartID:        partID,
		Type:          ledger.TypeUsed,
		QuantityDelta: -qty,
		Reference:     ledger.WorkOrderRef(7),
		ActorID:       1,
	}
}

func TestCheckoutDropsToLowStockThenRejects(t *testing.T) {
	l, store, signal, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "BRK-01", Quantity: 10, ReorderThreshold: 5})

	res, err := l.Apply(ctx, checkout(part.ID, 7))
	require.NoError(t, err)
	require.Equal(t, 3, res.Part.Quantity)
	require.Equal(t, -7, res.Transaction.QuantityDelta)
	require.Equal(t, "work_order:7", res.Transaction.Reference.String())
	require.True(t, signal.last().Low())
	require.Equal(t, 3, signal.last().Quantity)
	require.Equal(t, res.Transaction.ID, signal.last().Sequence)

	_, err = l.Apply(ctx, checkout(part.ID, 5))
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrConflict)
	current, ok := ledger.CurrentQuantity(err)
	require.True(t, ok)
	require.Equal(t, 3, current)
	require.Equal(t, 3, store.Quantity(part.ID))
	require.Len(t, store.Transactions(part.ID), 1)
}

func TestSignConventions(t *testing.T) {
	l, store, _, metrics := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "OIL-5W30", Quantity: 4})

	cases := []struct {
		name string
		in   ledger.ApplyInput
		want error
	}{
		{"received negative", ledger.ApplyInput{Type: ledger.TypeReceived, QuantityDelta: -1, Reference: ledger.ScanInRef()}, ledger.ErrInvalidQuantity},
		{"return zero", ledger.ApplyInput{Type: ledger.TypeReturn, QuantityDelta: 0, Reference: ledger.WorkOrderRef(1)}, ledger.ErrInvalidQuantity},
		{"used positive", ledger.ApplyInput{Type: ledger.TypeUsed, QuantityDelta: 2, Reference: ledger.WorkOrderRef(1)}, ledger.ErrInvalidQuantity},
		{"adjustment zero", ledger.ApplyInput{Type: ledger.TypeAdjustment, QuantityDelta: 0, Reference: ledger.ManualRef()}, ledger.ErrInvalidQuantity},
		{"unknown type", ledger.ApplyInput{Type: "transfer", QuantityDelta: 1, Reference: ledger.ManualRef()}, ledger.ErrInvalidType},
		{"missing reference", ledger.ApplyInput{Type: ledger.TypeAdjustment, QuantityDelta: 1}, ledger.ErrReferenceRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.PartID = part.ID
			_, err := l.Apply(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Equal(t, 4, store.Quantity(part.ID))
	require.Empty(t, store.Transactions(part.ID))
	require.Equal(t, 1, metrics.outcomes["used:rejected"])

	res, err := l.Apply(ctx, ledger.ApplyInput{PartID: part.ID, Type: ledger.TypeAdjustment, QuantityDelta: -4, Reference: ledger.ManualRef()})
	require.NoError(t, err)
	require.Zero(t, res.Part.Quantity)
}

func TestApplyUnknownPart(t *testing.T) {
	l, _, _, _ := newLedger(t)
	_, err := l.Apply(context.Background(), checkout(99, 1))
	require.ErrorIs(t, err, ledger.ErrPartNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSubmitEvaluatesAgainstLockedState(t *testing.T) {
	l, store, _, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "FLT-02", Quantity: 10})

	_, err := l.Apply(ctx, checkout(part.ID, 2))
	require.NoError(t, err)

	// Set the balance to 6 whatever the caller last saw.
	setTo := ledger.ProposalFunc(func(state ledger.PartState) (ledger.Delta, error) {
		return ledger.Delta{Type: ledger.TypeAdjustment, Quantity: 6 - state.Quantity, Reference: ledger.ManualRef()}, nil
	})
	res, err := l.Submit(ctx, part.ID, 3, setTo)
	require.NoError(t, err)
	require.Equal(t, -2, res.Transaction.QuantityDelta)
	require.Equal(t, 6, res.Part.Quantity)
	require.EqualValues(t, 3, res.Transaction.ActorID)
}

func TestConcurrentCheckoutAllowsExactlyOne(t *testing.T) {
	l, store, _, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "SPK-4", Quantity: 5})

	var (
		g        errgroup.Group
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := l.Apply(ctx, checkout(part.ID, 3))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientStock):
				fail++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, ok)
	require.Equal(t, 1, fail)
	require.Equal(t, 2, store.Quantity(part.ID))
}

func TestReconcileTracksEveryApply(t *testing.T) {
	l, store, _, metrics := newLedger(t)
	ctx := context.Background()
	a := store.AddPart(ledger.PartState{PartNumber: "A", Quantity: 3})
	b := store.AddPart(ledger.PartState{PartNumber: "B", Quantity: 0})

	_, err := l.Apply(ctx, ledger.ApplyInput{PartID: a.ID, Type: ledger.TypeReceived, QuantityDelta: 7, Reference: ledger.PurchaseOrderRef(1)})
	require.NoError(t, err)
	_, err = l.Apply(ctx, checkout(a.ID, 4))
	require.NoError(t, err)
	_, err = l.Apply(ctx, ledger.ApplyInput{PartID: a.ID, Type: ledger.TypeReturn, QuantityDelta: 1, Reference: ledger.WorkOrderRef(7)})
	require.NoError(t, err)
	_, err = l.Apply(ctx, checkout(a.ID, 40))
	require.Error(t, err)

	rec, err := l.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, rec.Balanced)
	require.Equal(t, 7, rec.Quantity)
	require.Equal(t, 3, rec.Seed)
	require.Equal(t, 4, rec.Sum)

	store.Corrupt(b.ID, 5)
	report, err := l.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Checked)
	require.Len(t, report.Unbalanced, 1)
	require.Equal(t, b.ID, report.Unbalanced[0].PartID)
	require.Equal(t, 1, metrics.unbalanced)
}

func TestInfrastructureFailureLeavesStateUntouched(t *testing.T) {
	l, store, signal, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "BELT", Quantity: 5})
	store.FailAfter(0, nil)

	_, err := l.Apply(ctx, checkout(part.ID, 1))
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailure)
	require.ErrorIs(t, err, shared.ErrUnavailable)
	require.Equal(t, 5, store.Quantity(part.ID))
	require.Empty(t, store.Transactions(part.ID))
	require.Empty(t, signal.levels)
}

type flakyRepo struct {
	*ledgertest.Store
	failures int
	calls    int
}

func (r *flakyRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	r.calls++
	if r.calls <= r.failures {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return r.Store.WithTx(ctx, fn)
}

func TestSerializationFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Store: ledgertest.New(), failures: 2}
	part := repo.AddPart(ledger.PartState{PartNumber: "PAD", Quantity: 5})
	l := ledger.NewLedger(repo, nil, nil, nil, nil, ledger.Config{MaxRetries: 3})

	res, err := l.Apply(ctx, checkout(part.ID, 1))
	require.NoError(t, err)
	require.Equal(t, 4, res.Part.Quantity)
	require.Equal(t, 3, repo.calls)

	repo.calls, repo.failures = 0, 5
	_, err = l.Apply(ctx, checkout(part.ID, 1))
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailure)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, 3, repo.calls)
	require.Equal(t, 4, repo.Quantity(part.ID))
}

func TestHistoryNewestFirst(t *testing.T) {
	l, store, _, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "HOSE", Quantity: 10})
	for i := 1; i <= 3; i++ {
		_, err := l.Apply(ctx, checkout(part.ID, i))
		require.NoError(t, err)
	}

	txns, err := l.History(ctx, ledger.HistoryFilter{PartID: part.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.Equal(t, -3, txns[0].QuantityDelta)
	require.Equal(t, -2, txns[1].QuantityDelta)

	_, err = l.History(ctx, ledger.HistoryFilter{})
	require.ErrorIs(t, err, ledger.ErrPartNotFound)
}

func TestSettleAuditsTransactions(t *testing.T) {
	store := ledgertest.New()
	audit := &recordingAudit{}
	l := ledger.NewLedger(store, audit, nil, nil, nil, ledger.Config{})
	part := store.AddPart(ledger.PartState{PartNumber: "CLT", Quantity: 1})

	_, err := l.Apply(context.Background(), ledger.ApplyInput{PartID: part.ID, Type: ledger.TypeReceived, QuantityDelta: 2, Reference: ledger.ScanInRef(), ActorID: 9})
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "stock:received", audit.logs[0].Action)
	require.EqualValues(t, 9, audit.logs[0].ActorID)
	require.Equal(t, "scan_in", audit.logs[0].Meta["reference"])
}

type keyedCheckout struct {
	ledger.ApplyInput
	key string
}

func (k keyedCheckout) IdempotencyKey() string { return k.key }

func TestKeyedProposalAppliesOnce(t *testing.T) {
	l, store, _, _ := newLedger(t)
	ctx := context.Background()
	part := store.AddPart(ledger.PartState{PartNumber: "BELT", Quantity: 5})
	p := keyedCheckout{ApplyInput: checkout(part.ID, 2), key: "count:1"}

	store.FailAfter(0, nil)
	_, err := l.Submit(ctx, part.ID, 1, p)
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailure)
	require.False(t, store.Claimed("count:1"))

	res, err := l.Submit(ctx, part.ID, 1, p)
	require.NoError(t, err)
	require.Equal(t, 3, res.Part.Quantity)
	require.True(t, store.Claimed("count:1"))

	_, err = l.Submit(ctx, part.ID, 1, p)
	require.ErrorIs(t, err, ledger.ErrAlreadyApplied)
	require.Equal(t, 3, store.Quantity(part.ID))
	require.Len(t, store.Transactions(part.ID), 1)
}
