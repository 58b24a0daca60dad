package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/ledger/ledgertest"
	"github.com/odyssey-erp/workshop/internal/parts"
	"github.com/odyssey-erp/workshop/internal/shared"
)

type scanTable map[string]int64

func (s scanTable) ResolveScan(_ context.Context, code string) (parts.Part, error) {
	id, ok := s[code]
	if !ok {
		return parts.Part{}, parts.ErrPartNotFound
	}
	return parts.Part{ID: id}, nil
}

var errClosed = shared.NewError(shared.ErrConflict, "workorders: work order not open")

// lockedOrders decides the work order status inside the same unit of work as
// the movement, the way the work order service does under its row lock.
type lockedOrders struct {
	store *ledgertest.Store
	l     *ledger.Ledger
	open  map[int64]bool
}

func (o *lockedOrders) SubmitForWorkOrder(ctx context.Context, workOrderID, partID, actorID int64, p ledger.Proposal) (ledger.Result, error) {
	var res ledger.Result
	err := o.store.Atomic(func(tx ledger.TxRepository) error {
		if !o.open[workOrderID] {
			return errClosed
		}
		var err error
		res, err = o.l.SubmitTx(ctx, tx, partID, actorID, p)
		return err
	})
	return res, err
}

func setup(t *testing.T) (*Service, *ledgertest.Store, int64) {
	t.Helper()
	store := ledgertest.New()
	part := store.AddPart(ledger.PartState{PartNumber: "BRK-01", Quantity: 10, ReorderThreshold: 5})
	l := ledger.NewLedger(store, nil, nil, nil, nil, ledger.Config{})
	orders := &lockedOrders{store: store, l: l, open: map[int64]bool{7: true, 8: false}}
	svc := NewService(l, scanTable{"8991": part.ID, "BRK-01": part.ID}, orders)
	return svc, store, part.ID
}

func TestManualAdjustmentUsesLockedQuantity(t *testing.T) {
	svc, store, partID := setup(t)
	ctx := context.Background()

	res, err := svc.Adjust(ctx, AdjustInput{PartID: partID, NewQuantity: 12, ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, 2, res.Transaction.QuantityDelta)
	require.Equal(t, ledger.TypeAdjustment, res.Transaction.Type)
	require.Equal(t, ledger.RefManual, res.Transaction.Reference.Type)

	res, err = svc.Adjust(ctx, AdjustInput{PartID: partID, NewQuantity: 0})
	require.NoError(t, err)
	require.Equal(t, -12, res.Transaction.QuantityDelta)
	require.Zero(t, store.Quantity(partID))

	_, err = svc.Adjust(ctx, AdjustInput{PartID: partID, NewQuantity: 0})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	current, ok := ledger.CurrentQuantity(err)
	require.True(t, ok)
	require.Zero(t, current)

	_, err = svc.Adjust(ctx, AdjustInput{PartID: partID, NewQuantity: -1})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

func TestCheckInCreditsScannedPart(t *testing.T) {
	svc, store, partID := setup(t)
	ctx := context.Background()

	res, err := svc.CheckIn(ctx, CheckInInput{Code: "8991", Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, ledger.TypeReceived, res.Transaction.Type)
	require.Equal(t, "scan_in", res.Transaction.Reference.String())
	require.Equal(t, 13, store.Quantity(partID))

	_, err = svc.CheckIn(ctx, CheckInInput{Code: "8991", Quantity: 0})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	_, err = svc.CheckIn(ctx, CheckInInput{Code: "nope", Quantity: 1})
	require.ErrorIs(t, err, parts.ErrPartNotFound)
}

func TestCheckOutScenario(t *testing.T) {
	svc, store, partID := setup(t)
	ctx := context.Background()

	res, err := svc.CheckOut(ctx, CheckOutInput{Code: "BRK-01", Quantity: 7, WorkOrderID: 7})
	require.NoError(t, err)
	require.Equal(t, 3, res.Part.Quantity)
	require.Equal(t, "work_order:7", res.Transaction.Reference.String())

	_, err = svc.CheckOut(ctx, CheckOutInput{Code: "BRK-01", Quantity: 5, WorkOrderID: 7})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	current, _ := ledger.CurrentQuantity(err)
	require.Equal(t, 3, current)
	require.Equal(t, 3, store.Quantity(partID))

	_, err = svc.CheckOut(ctx, CheckOutInput{Code: "BRK-01", Quantity: 1, WorkOrderID: 8})
	require.True(t, errors.Is(err, errClosed))
	require.Len(t, store.Transactions(partID), 1)
}

func TestCheckOutProposalRejectsOverdraw(t *testing.T) {
	_, err := CheckOut{Quantity: 4, WorkOrderID: 1}.Propose(ledger.PartState{ID: 1, Quantity: 3})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	d, err := CheckOut{Quantity: 3, WorkOrderID: 1}.Propose(ledger.PartState{ID: 1, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, -3, d.Quantity)
}
