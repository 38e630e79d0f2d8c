package service

import (
	"context"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// GrantExplicitAccess adds principal to the explicit allow-list. Requires
// the backend role. Granting twice is a no-op that still emits an event.
func (s *Service) GrantExplicitAccess(ctx context.Context, principal id.PrincipalID) error {
	return s.setExplicitAccess(ctx, "grant_explicit_access", principal, true)
}

// RevokeExplicitAccess removes principal from the explicit allow-list.
// Requires the backend role.
func (s *Service) RevokeExplicitAccess(ctx context.Context, principal id.PrincipalID) error {
	return s.setExplicitAccess(ctx, "revoke_explicit_access", principal, false)
}

func (s *Service) setExplicitAccess(ctx context.Context, op string, principal id.PrincipalID, allowed bool) error {
	if err := requirePrincipal(principal, "principal"); err != nil {
		return err
	}
	return s.mutate(ctx, op, func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireRole(ctx, store, models.RoleBackend, caller); err != nil {
			return err
		}
		if err := store.SetExplicitAccess(ctx, principal, allowed); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update explicit access")
		}
		eventType := models.EventAccessGranted
		if !allowed {
			eventType = models.EventAccessRevoked
		}
		return s.emit(ctx, store, models.Event{
			Type:    eventType,
			Actor:   caller,
			Subject: &principal,
		})
	})
}

// IsAuthorized evaluates the capability predicate for principal. It is the
// only read that needs no caller identity.
func (s *Service) IsAuthorized(ctx context.Context, principal id.PrincipalID) (bool, error) {
	m, err := s.Membership(ctx, principal)
	if err != nil {
		return false, err
	}
	return m.Authorized(), nil
}

// Membership returns the grants principal holds.
func (s *Service) Membership(ctx context.Context, principal id.PrincipalID) (models.Membership, error) {
	var m models.Membership
	err := s.view(ctx, func(ctx context.Context, store ports.Store) error {
		var err error
		m, err = store.Membership(ctx, principal)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load membership")
		}
		return nil
	})
	return m, err
}

// GrantBackendRole grants the backend role to principal. Admin only.
func (s *Service) GrantBackendRole(ctx context.Context, principal id.PrincipalID) error {
	return s.grantRole(ctx, "grant_backend_role", models.RoleBackend, principal)
}

// GrantAppRole grants the app role to principal. Admin only.
func (s *Service) GrantAppRole(ctx context.Context, principal id.PrincipalID) error {
	return s.grantRole(ctx, "grant_app_role", models.RoleApp, principal)
}

func (s *Service) grantRole(ctx context.Context, op string, role models.Role, principal id.PrincipalID) error {
	if err := requirePrincipal(principal, "principal"); err != nil {
		return err
	}
	return s.mutate(ctx, op, func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAdmin(ctx, store, caller); err != nil {
			return err
		}
		if err := store.GrantRole(ctx, role, principal); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant role")
		}
		return s.emit(ctx, store, models.Event{
			Type:       models.EventRoleGranted,
			Actor:      caller,
			Subject:    &principal,
			Attributes: map[string]string{"role": role.String()},
		})
	})
}

// TransferOwnership hands the privileged owner principal to newOwner.
// Only the current owner may call it.
func (s *Service) TransferOwnership(ctx context.Context, newOwner id.PrincipalID) error {
	if err := requirePrincipal(newOwner, "new owner"); err != nil {
		return err
	}
	return s.mutate(ctx, "transfer_ownership", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		prev, err := requireRegistryOwner(ctx, store, caller)
		if err != nil {
			return err
		}
		if err := store.SetOwner(ctx, newOwner); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer ownership")
		}
		return s.emit(ctx, store, models.Event{
			Type:       models.EventOwnershipTransferred,
			Actor:      caller,
			Subject:    &newOwner,
			Attributes: map[string]string{"previous_owner": prev.Owner.String()},
		})
	})
}

// Principals returns the current admin and owner. Authorization required.
func (s *Service) Principals(ctx context.Context) (models.Principals, error) {
	var p models.Principals
	err := s.read(ctx, "get_principals", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		var err error
		p, err = store.Principals(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principals")
		}
		return nil
	})
	return p, err
}
