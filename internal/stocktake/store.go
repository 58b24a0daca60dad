package stocktake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/workshop/internal/shared"
)

const lockTTL = 30 * time.Second

// Store keeps sessions as JSON in redis with a sliding expiry.
type Store struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

// NewStore constructs Store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{client: client, locker: redislock.New(client), ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("stocktake:session:%s", id)
}

// Load fetches a session.
func (s *Store) Load(ctx context.Context, id string) (Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("stocktake: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("stocktake: decode session: %w", err)
	}
	return sess, nil
}

// Save writes a session and refreshes its expiry.
func (s *Store) Save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("stocktake: save session: %w", err)
	}
	return nil
}

// Delete discards a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

// Lock takes the session lock, retrying briefly before giving up with
// ErrSessionBusy.
func (s *Store) Lock(ctx context.Context, id string) (Lease, error) {
	lock, err := s.locker.Obtain(ctx, shared.StocktakeLockKey(id), lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 5),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrSessionBusy
	}
	if err != nil {
		return nil, fmt.Errorf("stocktake: obtain lock: %w", err)
	}
	return redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

// Refresh pushes the lock expiry out by another lockTTL.
func (l redisLease) Refresh(ctx context.Context) error {
	err := l.lock.Refresh(ctx, lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockLost
	}
	if err != nil {
		return fmt.Errorf("stocktake: refresh lock: %w", err)
	}
	return nil
}

func (l redisLease) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}
