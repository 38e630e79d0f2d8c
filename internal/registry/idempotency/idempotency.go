// Package idempotency replays the stored response of a request that was
// already handled under the same Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/platform/sentinel"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultLockTTL = 30 * time.Second
)

// Record is a completed response.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// Store persists completed responses. Get returns sentinel.ErrNotFound for
// unknown or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// Locker serializes requests sharing a key. Obtain returns sentinel.ErrConflict
// when another holder has the lock.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Guard runs a handler at most once per key.
type Guard struct {
	store   Store
	locker  Locker
	ttl     time.Duration
	lockTTL time.Duration
}

type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.lockTTL = ttl
		}
	}
}

func NewGuard(store Store, locker Locker, opts ...Option) *Guard {
	g := &Guard{store: store, locker: locker, ttl: DefaultTTL, lockTTL: DefaultLockTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do returns the stored record for key when one exists, reporting replayed
// as true. Otherwise it runs fn and stores its record unless the status is a
// server error, which leaves the key free for a retry.
//
// A key reused with a different fingerprint, or held by a concurrent
// request, yields a conflict.
func (g *Guard) Do(ctx context.Context, key, fingerprint string, fn func(ctx context.Context) Record) (rec Record, replayed bool, err error) {
	release, err := g.locker.Obtain(ctx, "lock:"+key, g.lockTTL)
	if errors.Is(err, sentinel.ErrConflict) {
		return Record{}, false, dErrors.New(dErrors.CodeConflict, "a request with this idempotency key is in progress")
	}
	if err != nil {
		return Record{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock idempotency key")
	}
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()

	stored, err := g.store.Get(ctx, key)
	switch {
	case err == nil:
		if stored.Fingerprint != fingerprint {
			return Record{}, false, dErrors.New(dErrors.CodeConflict, "idempotency key was used for a different request")
		}
		return *stored, true, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return Record{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read idempotency record")
	}

	rec = fn(ctx)
	rec.Fingerprint = fingerprint
	if rec.Status >= 500 {
		return rec, false, nil
	}
	if err := g.store.Put(context.WithoutCancel(ctx), key, rec, g.ttl); err != nil {
		return rec, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store idempotency record")
	}
	return rec, false, nil
}
