package service

import (
	"context"

	"propledger/internal/registry/ports"
)

// Keys are scoped to a Service so that two registries in one process do not
// see each other's guard.
type guardKey struct{ svc *Service }

type activeStoreKey struct{ svc *Service }

// guarded reports whether ctx descends from a running mutation of s.
func (s *Service) guarded(ctx context.Context) bool {
	return ctx.Value(guardKey{s}) != nil
}

func (s *Service) enterGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{s}, true)
}

func (s *Service) withActiveStore(ctx context.Context, store ports.Store) context.Context {
	return context.WithValue(ctx, activeStoreKey{s}, store)
}

// activeStore returns the store of the unit of work ctx runs inside.
func (s *Service) activeStore(ctx context.Context) (ports.Store, bool) {
	store, ok := ctx.Value(activeStoreKey{s}).(ports.Store)
	return store, ok
}
