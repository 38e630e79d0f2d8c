package idempotency

import (
	"context"
	"sync"
	"time"

	"propledger/pkg/platform/sentinel"
)

// InMemoryStore is a single-process Store for development and tests.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]entry
	now     func() time.Time
}

type entry struct {
	rec     Record
	expires time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]entry), now: time.Now}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[key]
	if !ok || !s.now().Before(e.expires) {
		delete(s.records, key)
		return nil, sentinel.ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = entry{rec: rec, expires: s.now().Add(ttl)}
	return nil
}

// InMemoryLocker is a single-process Locker. Lock TTLs are not enforced;
// holders always release.
type InMemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: make(map[string]struct{})}
}

func (l *InMemoryLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, sentinel.ErrConflict
	}
	l.held[key] = struct{}{}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
