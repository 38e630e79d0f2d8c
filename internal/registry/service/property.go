package service

import (
	"context"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/requestcontext"
)

// CreateProperty registers a property owned by the caller.
func (s *Service) CreateProperty(ctx context.Context, fields models.PropertyFields) (*models.Property, error) {
	fields, err := fields.Normalize()
	if err != nil {
		return nil, err
	}

	var created *models.Property
	err = s.mutate(ctx, "create_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		propertyID, err := store.NextPropertyID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate property id")
		}
		p, err := models.NewProperty(propertyID, caller, fields, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := store.CreateProperty(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save property")
		}
		created = p
		return s.emit(ctx, store, models.Event{
			Type:       models.EventPropertyCreated,
			Actor:      caller,
			PropertyID: p.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateProperty replaces the descriptive fields of a property. Only its
// owner may call it.
func (s *Service) UpdateProperty(ctx context.Context, propertyID id.PropertyID, fields models.PropertyFields) (*models.Property, error) {
	fields, err := fields.Normalize()
	if err != nil {
		return nil, err
	}

	var updated *models.Property
	err = s.mutate(ctx, "update_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		p, err := loadProperty(ctx, store, propertyID)
		if err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		if !p.IsOwnedBy(caller) {
			return dErrors.New(dErrors.CodeOwnershipViolation, "only the property owner may update it")
		}
		p.ApplyUpdate(fields, requestcontext.Now(ctx))
		if err := store.UpdateProperty(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save property")
		}
		updated = p
		return s.emit(ctx, store, models.Event{
			Type:       models.EventPropertyUpdated,
			Actor:      caller,
			PropertyID: p.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// VerifyProperty marks a property verified. Only the registry owner may
// call it. Verifying an already verified property succeeds without change.
func (s *Service) VerifyProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error) {
	var verified *models.Property
	err := s.mutate(ctx, "verify_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		p, err := loadProperty(ctx, store, propertyID)
		if err != nil {
			return err
		}
		if _, err := requireRegistryOwner(ctx, store, caller); err != nil {
			return err
		}
		verified = p
		if !p.Verify(requestcontext.Now(ctx)) {
			return nil
		}
		if err := store.UpdateProperty(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save property")
		}
		return s.emit(ctx, store, models.Event{
			Type:       models.EventPropertyVerified,
			Actor:      caller,
			PropertyID: p.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return verified, nil
}

func (s *Service) GetProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error) {
	var found *models.Property
	err := s.read(ctx, "get_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		p, err := loadProperty(ctx, store, propertyID)
		if err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		found = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetPropertiesByOwner lists the ids of the properties owner created, in
// creation order.
func (s *Service) GetPropertiesByOwner(ctx context.Context, owner id.PrincipalID) ([]id.PropertyID, error) {
	var ids []id.PropertyID
	err := s.read(ctx, "get_properties_by_owner", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		var err error
		ids, err = store.ListPropertyIDsByOwner(ctx, owner)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list properties")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []id.PropertyID{}
	}
	return ids, nil
}
