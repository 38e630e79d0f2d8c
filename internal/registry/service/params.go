package service

import (
	"context"
	"strconv"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// UpdatePaymentDistribution atomically replaces the three share percentages.
// Registry owner only.
func (s *Service) UpdatePaymentDistribution(ctx context.Context, dao, author, owner int) (*models.Parameters, error) {
	return s.updateParameters(ctx, "update_payment_distribution", func(p *models.Parameters) (models.Event, error) {
		dist, err := models.NewDistribution(dao, author, owner)
		if err != nil {
			return models.Event{}, err
		}
		p.Distribution = dist
		return models.Event{
			Type: models.EventPaymentDistributionUpdated,
			Attributes: map[string]string{
				"dao":    strconv.Itoa(dao),
				"author": strconv.Itoa(author),
				"owner":  strconv.Itoa(owner),
			},
		}, nil
	})
}

// UpdateMinimumReportPrice sets the floor for future report prices.
// Registry owner only.
func (s *Service) UpdateMinimumReportPrice(ctx context.Context, amount id.Amount) (*models.Parameters, error) {
	return s.updateParameters(ctx, "update_minimum_report_price", func(p *models.Parameters) (models.Event, error) {
		p.MinimumReportPrice = amount
		return models.Event{
			Type:   models.EventMinimumReportPriceUpdated,
			Amount: &amount,
		}, nil
	})
}

// UpdateVerificationRequired toggles the purchase verification gate.
// Registry owner only.
func (s *Service) UpdateVerificationRequired(ctx context.Context, required bool) (*models.Parameters, error) {
	return s.updateParameters(ctx, "update_verification_required", func(p *models.Parameters) (models.Event, error) {
		p.VerificationRequired = required
		return models.Event{
			Type:       models.EventVerificationRequiredUpdated,
			Attributes: map[string]string{"required": strconv.FormatBool(required)},
		}, nil
	})
}

func (s *Service) updateParameters(ctx context.Context, op string, apply func(*models.Parameters) (models.Event, error)) (*models.Parameters, error) {
	var updated *models.Parameters
	err := s.mutate(ctx, op, func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if _, err := requireRegistryOwner(ctx, store, caller); err != nil {
			return err
		}
		params, err := loadParameters(ctx, store)
		if err != nil {
			return err
		}
		event, err := apply(params)
		if err != nil {
			return err
		}
		if err := store.SaveParameters(ctx, params); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save parameters")
		}
		updated = params
		event.Actor = caller
		return s.emit(ctx, store, event)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetParameters returns the parameters in force. Authorization required.
func (s *Service) GetParameters(ctx context.Context) (*models.Parameters, error) {
	var params *models.Parameters
	err := s.read(ctx, "get_parameters", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		var err error
		params, err = loadParameters(ctx, store)
		return err
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}
