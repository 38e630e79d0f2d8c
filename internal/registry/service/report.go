package service

import (
	"context"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/requestcontext"
)

// CreateReport attaches a report to an existing property. The price is
// checked against the minimum in force at creation.
func (s *Service) CreateReport(ctx context.Context, draft models.ReportDraft) (*models.Report, error) {
	draft, err := draft.Normalize()
	if err != nil {
		return nil, err
	}

	var created *models.Report
	err = s.mutate(ctx, "create_report", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if _, err := loadProperty(ctx, store, draft.PropertyID); err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		params, err := loadParameters(ctx, store)
		if err != nil {
			return err
		}
		if !params.AcceptsPrice(draft.Price) {
			return dErrors.New(dErrors.CodePriceBelowMinimum,
				"report price "+draft.Price.String()+" is below the minimum of "+params.MinimumReportPrice.String()+" wei")
		}
		reportID, err := store.NextReportID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate report id")
		}
		r, err := models.NewReport(reportID, draft, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := store.CreateReport(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save report")
		}
		created = r
		price := r.Price
		return s.emit(ctx, store, models.Event{
			Type:       models.EventReportCreated,
			Actor:      caller,
			PropertyID: r.PropertyID,
			ReportID:   r.ID,
			Amount:     &price,
			Attributes: map[string]string{"report_type": r.ReportType},
		})
	})
	if err != nil {
		return nil, err
	}
	return redact(created), nil
}

// VerifyReport marks a report verified. Only the registry owner may call it.
func (s *Service) VerifyReport(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	var verified *models.Report
	err := s.mutate(ctx, "verify_report", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		r, err := loadReport(ctx, store, reportID)
		if err != nil {
			return err
		}
		if _, err := requireRegistryOwner(ctx, store, caller); err != nil {
			return err
		}
		verified = r
		if !r.Verify() {
			return nil
		}
		if err := store.UpdateReport(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save report")
		}
		return s.emit(ctx, store, models.Event{
			Type:       models.EventReportVerified,
			Actor:      caller,
			PropertyID: r.PropertyID,
			ReportID:   r.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return redact(verified), nil
}

// GetReport returns report metadata. The content pointer is withheld; use
// GetReportContent.
func (s *Service) GetReport(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	var found *models.Report
	err := s.read(ctx, "get_report", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		r, err := loadReport(ctx, store, reportID)
		if err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		found = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redact(found), nil
}

// GetReportsByProperty lists the report ids of a property in creation order.
func (s *Service) GetReportsByProperty(ctx context.Context, propertyID id.PropertyID) ([]id.ReportID, error) {
	var ids []id.ReportID
	err := s.read(ctx, "get_reports_by_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		var err error
		ids, err = reportIDs(ctx, store, caller, propertyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListReportsByProperty is GetReportsByProperty with the records expanded.
func (s *Service) ListReportsByProperty(ctx context.Context, propertyID id.PropertyID) ([]*models.Report, error) {
	var reports []*models.Report
	err := s.read(ctx, "list_reports_by_property", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		ids, err := reportIDs(ctx, store, caller, propertyID)
		if err != nil {
			return err
		}
		reports, err = store.FindReports(ctx, ids)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reports")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, redact(r))
	}
	return out, nil
}

func reportIDs(ctx context.Context, store ports.Store, caller id.PrincipalID, propertyID id.PropertyID) ([]id.ReportID, error) {
	if _, err := loadProperty(ctx, store, propertyID); err != nil {
		return nil, err
	}
	if err := requireAuthorized(ctx, store, caller); err != nil {
		return nil, err
	}
	ids, err := store.ListReportIDsByProperty(ctx, propertyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reports")
	}
	if ids == nil {
		ids = []id.ReportID{}
	}
	return ids, nil
}

// redact returns a copy of r without its content pointer.
func redact(r *models.Report) *models.Report {
	if r == nil {
		return nil
	}
	out := *r
	out.ContentPointer = ""
	return &out
}
