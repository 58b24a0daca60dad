package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/workshop/internal/ledger"
	"github.com/odyssey-erp/workshop/internal/parts"
)

// SessionStore persists sessions and serializes writers per session.
type SessionStore interface {
	Load(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, sess Session) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (Lease, error)
}

// Lease is a held session lock. Refresh extends it and fails once the lock
// has been lost.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// LedgerPort applies one adjustment per call.
type LedgerPort interface {
	Submit(ctx context.Context, partID, actorID int64, p ledger.Proposal) (ledger.Result, error)
}

// PartReader loads catalog entries for the snapshot.
type PartReader interface {
	Get(ctx context.Context, id int64) (parts.Part, error)
}

// Service runs stocktake sessions.
type Service struct {
	store  SessionStore
	ledger LedgerPort
	parts  PartReader
	logger *slog.Logger
}

// NewService builds Service.
func NewService(store SessionStore, ledger LedgerPort, parts PartReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ledger: ledger, parts: parts, logger: logger}
}

// Begin snapshots the current quantity of each part into a new session.
func (s *Service) Begin(ctx context.Context, in BeginInput) (Session, error) {
	seen := make(map[int64]bool, len(in.PartIDs))
	ids := make([]int64, 0, len(in.PartIDs))
	for _, id := range in.PartIDs {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Session{}, ErrEmptySession
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := time.Now().UTC()
	sess := Session{ID: uuid.NewString(), Notes: in.Notes, CreatedBy: in.ActorID, CreatedAt: now, UpdatedAt: now}
	for _, id := range ids {
		p, err := s.parts.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		sess.Items = append(sess.Items, Item{PartID: p.ID, PartNumber: p.PartNumber, Name: p.Name, SystemQuantity: p.Quantity})
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrSessionNotFound
	}
	return s.store.Load(ctx, id)
}

// RecordCounts stores counted quantities. A later count for the same part
// replaces the earlier one.
func (s *Service) RecordCounts(ctx context.Context, id string, counts []Count) (Session, error) {
	for _, c := range counts {
		if c.Counted < 0 {
			return Session{}, fmt.Errorf("%w: part %d counted below zero", ledger.ErrInvalidQuantity, c.PartID)
		}
	}
	var sess Session
	err := s.locked(ctx, id, func(ctx context.Context, _ Lease) error {
		var err error
		sess, err = s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range counts {
			it, ok := sess.item(c.PartID)
			if !ok {
				return ErrUnknownItem
			}
			counted := c.Counted
			it.CountedQuantity = &counted
		}
		sess.UpdatedAt = time.Now().UTC()
		return s.store.Save(ctx, sess)
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Discard drops a session without touching stock.
func (s *Service) Discard(ctx context.Context, id string) error {
	return s.locked(ctx, id, func(ctx context.Context, _ Lease) error {
		if _, err := s.store.Load(ctx, id); err != nil {
			return err
		}
		return s.store.Delete(ctx, id)
	})
}

// Save turns every differing count into one adjustment. Each part is applied
// on its own; a rejected part is reported and the rest still proceed. The
// session is removed once every item is settled, otherwise it keeps only the
// failed and uncounted items. Failed items take the current quantity as their
// new system quantity and must be counted again. Parts already adjusted by an
// earlier save of the same session are reported as unchanged.
func (s *Service) Save(ctx context.Context, id string, actorID int64) (SaveReport, error) {
	report := SaveReport{
		SessionID: id,
		Applied:   []ledger.Transaction{},
		Unchanged: []int64{},
		Uncounted: []int64{},
		Failed:    []ItemFailure{},
	}
	err := s.locked(ctx, id, func(ctx context.Context, lease Lease) error {
		sess, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		var remaining []Item
		for _, it := range sess.Items {
			switch {
			case !it.Counted():
				report.Uncounted = append(report.Uncounted, it.PartID)
				remaining = append(remaining, it)
				continue
			case !it.Differs():
				report.Unchanged = append(report.Unchanged, it.PartID)
				continue
			}
			if err := lease.Refresh(ctx); err != nil {
				return err
			}
			res, err := s.ledger.Submit(ctx, it.PartID, actorID, Recount{
				SessionID: sess.ID,
				PartID:    it.PartID,
				System:    it.SystemQuantity,
				Counted:   *it.CountedQuantity,
			})
			if errors.Is(err, ledger.ErrAlreadyApplied) {
				report.Unchanged = append(report.Unchanged, it.PartID)
				continue
			}
			if err != nil {
				failure := ItemFailure{PartID: it.PartID, PartNumber: it.PartNumber, Error: err.Error()}
				if current, ok := ledger.CurrentQuantity(err); ok {
					failure.Current = &current
					it.SystemQuantity = current
					it.CountedQuantity = nil
				}
				report.Failed = append(report.Failed, failure)
				remaining = append(remaining, it)
				s.logger.Warn("stocktake adjustment failed",
					slog.String("session_id", id), slog.Int64("part_id", it.PartID), slog.Any("error", err))
				continue
			}
			report.Applied = append(report.Applied, res.Transaction)
		}
		if report.Complete() {
			return s.store.Delete(ctx, id)
		}
		sess.Items = remaining
		sess.UpdatedAt = time.Now().UTC()
		return s.store.Save(ctx, sess)
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) && len(report.Applied) > 0 {
		s.logger.Error("stocktake session bookkeeping failed after adjustments",
			slog.String("session_id", id), slog.Int("applied", len(report.Applied)), slog.Any("error", err))
	}
	if err != nil {
		return report, err
	}
	s.logger.Info("stocktake saved", slog.String("session_id", id),
		slog.Int("applied", len(report.Applied)), slog.Int("failed", len(report.Failed)))
	return report, nil
}

func (s *Service) locked(ctx context.Context, id string, fn func(context.Context, Lease) error) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrSessionNotFound
	}
	lease, err := s.store.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("stocktake lock release failed", slog.String("session_id", id), slog.Any("error", err))
		}
	}()
	return fn(ctx, lease)
}
