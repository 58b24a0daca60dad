package workorders

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/ledger/ledgertest"
	"github.com/odyssey-erp/workshop/internal/shared"
)

type lineKey struct{ wo, part int64 }

type memoryRepo struct {
	store  *ledgertest.Store
	mu     sync.Mutex
	orders map[int64]WorkOrder
	lines  map[lineKey]Line
	keys   map[string]bool
	nextID int64
}

func newMemoryRepo(store *ledgertest.Store) *memoryRepo {
	return &memoryRepo{store: store, orders: map[int64]WorkOrder{}, lines: map[lineKey]Line{}, keys: map[string]bool{}}
}

type memoryTx struct {
	ledger.TxRepository
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Atomic(func(ltx ledger.TxRepository) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		orders, lines, keys := r.snapshot()
		if err := fn(ctx, &memoryTx{TxRepository: ltx, repo: r}); err != nil {
			r.orders, r.lines, r.keys = orders, lines, keys
			return err
		}
		return nil
	})
}

func (r *memoryRepo) snapshot() (map[int64]WorkOrder, map[lineKey]Line, map[string]bool) {
	orders := make(map[int64]WorkOrder, len(r.orders))
	for k, v := range r.orders {
		orders[k] = v
	}
	lines := make(map[lineKey]Line, len(r.lines))
	for k, v := range r.lines {
		lines[k] = v
	}
	keys := make(map[string]bool, len(r.keys))
	for k, v := range r.keys {
		keys[k] = v
	}
	return orders, lines, keys
}

func (r *memoryRepo) Create(_ context.Context, wo WorkOrder) (WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.Number == wo.Number {
			return WorkOrder{}, ErrDuplicateNumber
		}
	}
	r.nextID++
	wo.ID = r.nextID
	wo.CreatedAt = time.Now()
	wo.UpdatedAt = wo.CreatedAt
	r.orders[wo.ID] = wo
	return wo, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wo, ok := r.orders[id]
	if !ok {
		return WorkOrder{}, ErrWorkOrderNotFound
	}
	return wo, nil
}

func (r *memoryRepo) ListLines(_ context.Context, workOrderID int64) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Line
	for k, l := range r.lines {
		if k.wo == workOrderID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartID < out[j].PartID })
	return out, nil
}

func (t *memoryTx) LockWorkOrder(_ context.Context, id int64) (WorkOrder, error) {
	wo, ok := t.repo.orders[id]
	if !ok {
		return WorkOrder{}, ErrWorkOrderNotFound
	}
	return wo, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	wo := t.repo.orders[id]
	wo.Status = status
	t.repo.orders[id] = wo
	return nil
}

func (t *memoryTx) GetLine(_ context.Context, workOrderID, partID int64) (Line, error) {
	l, ok := t.repo.lines[lineKey{workOrderID, partID}]
	if !ok {
		return Line{}, ErrLineNotFound
	}
	return l, nil
}

func (t *memoryTx) InsertLine(_ context.Context, l Line) error {
	t.repo.lines[lineKey{l.WorkOrderID, l.PartID}] = l
	return nil
}

func (t *memoryTx) UpdateLine(_ context.Context, l Line) error {
	stored := t.repo.lines[lineKey{l.WorkOrderID, l.PartID}]
	stored.Quantity = l.Quantity
	stored.TotalPrice = l.TotalPrice
	t.repo.lines[lineKey{l.WorkOrderID, l.PartID}] = stored
	return nil
}

func (t *memoryTx) DeleteLine(_ context.Context, workOrderID, partID int64) error {
	delete(t.repo.lines, lineKey{workOrderID, partID})
	return nil
}

func (t *memoryTx) ClaimRequest(_ context.Context, key string) (bool, error) {
	if t.repo.keys[key] {
		return false, nil
	}
	t.repo.keys[key] = true
	return true, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc   *Service
	store *ledgertest.Store
	part  ledger.PartState
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledgertest.New()
	price := dec("50")
	part := store.AddPart(ledger.PartState{PartNumber: "X", Quantity: 10, ReorderThreshold: 2, SellPrice: &price})
	l := ledger.NewLedger(store, nil, nil, nil, nil, ledger.Config{})
	return fixture{svc: NewService(newMemoryRepo(store), l, nil, nil), store: store, part: part}
}

func TestConsumptionSnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)
	require.Equal(t, StatusOpen, wo.Status)
	require.NotEmpty(t, wo.Number)

	res, err := f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Line.Quantity)
	require.True(t, res.Line.TotalPrice.Equal(dec("100")))
	require.Equal(t, -2, res.Transaction.QuantityDelta)

	f.store.SetSellPrice(f.part.ID, dec("60"))

	res, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, 3, res.Line.Quantity)
	require.True(t, res.Line.UnitPrice.Equal(dec("50")))
	require.True(t, res.Line.TotalPrice.Equal(dec("150")))
	require.Equal(t, 7, f.store.Quantity(f.part.ID))

	billing, err := f.svc.BillingLines(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, billing.Lines, 1)
	require.True(t, billing.Total.Equal(dec("150")))
}

func TestConsumptionRequestIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo, err := f.svc.Create(ctx, CreateInput{Number: "WO-1"})
	require.NoError(t, err)

	in := ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 2, RequestID: "click-1"}
	first, err := f.svc.ConsumePart(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := f.svc.ConsumePart(ctx, in)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Nil(t, second.Transaction)
	require.Equal(t, 2, second.Line.Quantity)
	require.Equal(t, 8, f.store.Quantity(f.part.ID))
	require.Len(t, f.store.Transactions(f.part.ID), 1)

	_, err = f.svc.Create(ctx, CreateInput{Number: "WO-1"})
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestConsumptionRejectionsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 11, RequestID: "r"})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	current, ok := ledger.CurrentQuantity(err)
	require.True(t, ok)
	require.Equal(t, 10, current)

	// The rolled-back request id can be used again.
	res, err := f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1, RequestID: "r"})
	require.NoError(t, err)
	require.False(t, res.Replayed)

	f.store.FailAfter(0, nil)
	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1})
	require.ErrorIs(t, err, ledger.ErrLedgerWriteFailure)

	got, err := f.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, 1, got.Lines[0].Quantity)
	require.Equal(t, 9, f.store.Quantity(f.part.ID))

	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: 99, PartID: f.part.ID, Quantity: 1})
	require.ErrorIs(t, err, ErrWorkOrderNotFound)
	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: 99, Quantity: 1})
	require.ErrorIs(t, err, ledger.ErrPartNotFound)
}

func TestQuotedJobPriceOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quoted, err := f.svc.Create(ctx, CreateInput{Quoted: true})
	require.NoError(t, err)
	plain, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)

	override := dec("45")
	res, err := f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: quoted.ID, PartID: f.part.ID, Quantity: 2, UnitPrice: &override})
	require.NoError(t, err)
	require.True(t, res.Line.UnitPrice.Equal(override))
	require.True(t, res.Line.TotalPrice.Equal(dec("90")))

	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: plain.ID, PartID: f.part.ID, Quantity: 1, UnitPrice: &override})
	require.ErrorIs(t, err, ErrPriceOverride)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnpricedPartSnapshotsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bare := f.store.AddPart(ledger.PartState{PartNumber: "NOPRICE", Quantity: 3})
	wo, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)

	res, err := f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: bare.ID, Quantity: 3})
	require.NoError(t, err)
	require.True(t, res.Line.UnitPrice.IsZero())
	require.True(t, res.Line.TotalPrice.IsZero())
}

func TestClosedWorkOrderRejectsParts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, wo.ID, StatusInProgress, 1)
	require.NoError(t, err)
	checkout := ledger.ApplyInput{PartID: f.part.ID, Type: ledger.TypeUsed, QuantityDelta: -1, Reference: ledger.WorkOrderRef(wo.ID)}
	_, err = f.svc.SubmitForWorkOrder(ctx, wo.ID, f.part.ID, 1, checkout)
	require.NoError(t, err)
	require.Equal(t, 9, f.store.Quantity(f.part.ID))

	_, err = f.svc.SetStatus(ctx, wo.ID, StatusCompleted, 1)
	require.NoError(t, err)
	_, err = f.svc.SubmitForWorkOrder(ctx, wo.ID, f.part.ID, 1, checkout)
	require.ErrorIs(t, err, ErrWorkOrderClosed)
	_, err = f.svc.SubmitForWorkOrder(ctx, 999, f.part.ID, 1, checkout)
	require.ErrorIs(t, err, ErrWorkOrderNotFound)

	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1})
	require.ErrorIs(t, err, ErrWorkOrderClosed)

	_, err = f.svc.SetStatus(ctx, wo.ID, StatusOpen, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.SetStatus(ctx, wo.ID, StatusInvoiced, 1)
	require.NoError(t, err)
	require.Equal(t, 9, f.store.Quantity(f.part.ID))
	require.Len(t, f.store.Transactions(f.part.ID), 1)
}

func TestReturnPartShrinksLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo, err := f.svc.Create(ctx, CreateInput{})
	require.NoError(t, err)
	_, err = f.svc.ConsumePart(ctx, ConsumeInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 3})
	require.NoError(t, err)

	res, err := f.svc.ReturnPart(ctx, ReturnInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, ledger.TypeReturn, res.Transaction.Type)
	require.Equal(t, 1, res.Transaction.QuantityDelta)
	require.NotNil(t, res.Line)
	require.True(t, res.Line.TotalPrice.Equal(dec("100")))
	require.Equal(t, 8, f.store.Quantity(f.part.ID))

	_, err = f.svc.ReturnPart(ctx, ReturnInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 3})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	res, err = f.svc.ReturnPart(ctx, ReturnInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 2})
	require.NoError(t, err)
	require.Nil(t, res.Line)
	require.Equal(t, 10, f.store.Quantity(f.part.ID))

	_, err = f.svc.ReturnPart(ctx, ReturnInput{WorkOrderID: wo.ID, PartID: f.part.ID, Quantity: 1})
	require.ErrorIs(t, err, ErrLineNotFound)

	rec, err := ledger.NewLedger(f.store, nil, nil, nil, nil, ledger.Config{}).Reconcile(ctx, f.part.ID)
	require.NoError(t, err)
	require.True(t, rec.Balanced)
}

func TestLineReprice(t *testing.T) {
	l := NewLine(1, 2, 2, dec("12.50"))
	require.True(t, l.TotalPrice.Equal(dec("25")))
	l = l.Reprice(5)
	require.True(t, l.UnitPrice.Equal(dec("12.50")))
	require.True(t, l.TotalPrice.Equal(dec("62.5")))
}

func TestLineTotalsMatchStoredPrecision(t *testing.T) {
	l := NewLine(1, 2, 3, dec("10.005"))
	require.True(t, l.UnitPrice.Equal(dec("10.01")))
	require.True(t, l.TotalPrice.Equal(dec("30.03")))
	require.True(t, l.TotalPrice.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))))

	l = l.Reprice(7)
	require.True(t, l.TotalPrice.Equal(dec("70.07")))
}
