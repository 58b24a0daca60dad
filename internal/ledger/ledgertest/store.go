// Package ledgertest provides an in-memory ledger store for package tests.
package ledgertest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/workshop/internal/ledger"
)

// ErrInjected is returned by InsertTransaction when a failure is armed.
var ErrInjected = errors.New("ledgertest: injected failure")

// Store keeps parts and transactions in memory. Units of work are serialized
// by a single mutex and rolled back on error.
type Store struct {
	mu        sync.Mutex
	parts     map[int64]ledger.PartState
	txns      []ledger.Transaction
	keys      map[string]bool
	nextPart  int64
	nextTxn   int64
	failAfter int
	failErr   error
}

// New builds an empty store.
func New() *Store {
	return &Store{parts: make(map[int64]ledger.PartState), keys: make(map[string]bool), failAfter: -1}
}

// AddPart seeds a part; its current quantity becomes the reconciliation seed.
func (s *Store) AddPart(p ledger.PartState) ledger.PartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextPart++
		p.ID = s.nextPart
	} else if p.ID > s.nextPart {
		s.nextPart = p.ID
	}
	p.InitialQuantity = p.Quantity
	s.parts[p.ID] = p
	return p
}

// SetSellPrice changes the catalog price of a part.
func (s *Store) SetSellPrice(partID int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.parts[partID]
	p.SellPrice = &price
	s.parts[partID] = p
}

// FailAfter makes InsertTransaction fail with err once n more inserts succeeded.
func (s *Store) FailAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	s.failAfter = n
	s.failErr = err
}

// Claimed reports whether a movement key was committed.
func (s *Store) Claimed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// Part returns the current state of a part.
func (s *Store) Part(id int64) (ledger.PartState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	return p, ok
}

// Quantity returns the current quantity of a part.
func (s *Store) Quantity(id int64) int {
	p, _ := s.Part(id)
	return p.Quantity
}

// Transactions returns the transactions of a part in insertion order.
func (s *Store) Transactions(partID int64) []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Transaction
	for _, txn := range s.txns {
		if txn.PartID == partID {
			out = append(out, txn)
		}
	}
	return out
}

// Atomic runs fn as one unit of work. State changes are discarded when fn
// returns an error. Callers with their own in-memory state snapshot it inside fn.
func (s *Store) Atomic(fn func(tx ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make(map[int64]ledger.PartState, len(s.parts))
	for id, p := range s.parts {
		parts[id] = p
	}
	keys := make(map[string]bool, len(s.keys))
	for k := range s.keys {
		keys[k] = true
	}
	txns := len(s.txns)
	nextTxn := s.nextTxn
	if err := fn(&memoryTx{store: s}); err != nil {
		s.parts = parts
		s.keys = keys
		s.txns = s.txns[:txns]
		s.nextTxn = nextTxn
		return err
	}
	return nil
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.Atomic(func(tx ledger.TxRepository) error {
		return fn(ctx, tx)
	})
}

// ListTransactions implements ledger.RepositoryPort.
func (s *Store) ListTransactions(_ context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	txns := s.Transactions(filter.PartID)
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].ID > txns[j].ID })
	if filter.Offset >= len(txns) {
		return nil, nil
	}
	txns = txns[filter.Offset:]
	if filter.Limit > 0 && len(txns) > filter.Limit {
		txns = txns[:filter.Limit]
	}
	return txns, nil
}

// Reconcile implements ledger.RepositoryPort.
func (s *Store) Reconcile(_ context.Context, partID int64) (ledger.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[partID]
	if !ok {
		return ledger.Reconciliation{}, ledger.ErrPartNotFound
	}
	return s.reconcileLocked(p), nil
}

// ReconcileAll implements ledger.RepositoryPort.
func (s *Store) ReconcileAll(_ context.Context) ([]ledger.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Reconciliation, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, s.reconcileLocked(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartID < out[j].PartID })
	return out, nil
}

// Corrupt sets a quantity without a transaction, breaking reconciliation.
func (s *Store) Corrupt(partID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.parts[partID]
	p.Quantity = quantity
	s.parts[partID] = p
}

func (s *Store) reconcileLocked(p ledger.PartState) ledger.Reconciliation {
	sum := 0
	for _, txn := range s.txns {
		if txn.PartID == p.ID {
			sum += txn.QuantityDelta
		}
	}
	return ledger.NewReconciliation(p.ID, p.PartNumber, p.Quantity, p.InitialQuantity, sum)
}

type memoryTx struct {
	store *Store
}

func (tx *memoryTx) LockPart(_ context.Context, partID int64) (ledger.PartState, error) {
	p, ok := tx.store.parts[partID]
	if !ok {
		return ledger.PartState{}, ledger.ErrPartNotFound
	}
	return p, nil
}

func (tx *memoryTx) ApplyDelta(_ context.Context, partID int64, delta int) (int, error) {
	p, ok := tx.store.parts[partID]
	if !ok || p.Quantity+delta < 0 {
		return 0, ledger.ErrInsufficientStock
	}
	p.Quantity += delta
	tx.store.parts[partID] = p
	return p.Quantity, nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, txn ledger.Transaction) (ledger.Transaction, error) {
	s := tx.store
	if s.failAfter == 0 {
		s.failAfter = -1
		return ledger.Transaction{}, s.failErr
	}
	if s.failAfter > 0 {
		s.failAfter--
	}
	s.nextTxn++
	txn.ID = s.nextTxn
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	s.txns = append(s.txns, txn)
	return txn, nil
}

func (tx *memoryTx) ClaimKey(_ context.Context, key string) (bool, error) {
	if tx.store.keys[key] {
		return false, nil
	}
	tx.store.keys[key] = true
	return true, nil
}
