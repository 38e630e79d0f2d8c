package service

import (
	"context"
	"errors"
	"fmt"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/platform/sentinel"
	"propledger/pkg/requestcontext"
)

// PurchaseReport pays for a report and distributes paid between the registry
// owner, the report author and the report owner.
//
// The purchase flag is recorded before any transfer runs. A transfer that
// calls back into the registry with the same context is rejected as
// reentrant, and reads it makes observe the flag already set. Any transfer
// failure rolls the whole purchase back, flag included.
func (s *Service) PurchaseReport(ctx context.Context, reportID id.ReportID, paid id.Amount) (*models.Receipt, error) {
	var receipt *models.Receipt
	err := s.mutate(ctx, "purchase_report", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		report, err := loadReport(ctx, store, reportID)
		if err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		if !report.CoversPayment(paid) {
			return dErrors.New(dErrors.CodeInsufficientPayment,
				fmt.Sprintf("paid %s wei, report costs %s wei", paid, report.Price))
		}
		purchased, err := store.HasPurchased(ctx, caller, reportID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchase")
		}
		if purchased {
			return errAlreadyPurchased()
		}
		params, err := loadParameters(ctx, store)
		if err != nil {
			return err
		}
		if params.VerificationRequired && !report.IsVerified {
			return dErrors.New(dErrors.CodeNotVerified, "report must be verified before purchase")
		}

		now := requestcontext.Now(ctx)
		err = store.RecordPurchase(ctx, &models.Purchase{
			Buyer:       caller,
			ReportID:    reportID,
			Amount:      paid,
			PurchasedAt: now,
		})
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return errAlreadyPurchased()
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record purchase")
		}

		principals, err := store.Principals(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principals")
		}
		transfers := models.Settlement(report, paid, params.Distribution, principals.Owner)
		for _, t := range transfers {
			if err := s.transferer.Transfer(ctx, store, t.Recipient, t.Amount); err != nil {
				return dErrors.Wrap(err, dErrors.CodeTransferFailed,
					fmt.Sprintf("transfer of %s share to %s failed", t.Share, t.Recipient))
			}
		}

		receipt = &models.Receipt{
			ReportID:    reportID,
			Buyer:       caller,
			Paid:        paid,
			Transfers:   transfers,
			PurchasedAt: now,
		}
		return s.emit(ctx, store, models.Event{
			Type:       models.EventReportPurchased,
			Actor:      caller,
			Subject:    &caller,
			PropertyID: report.PropertyID,
			ReportID:   reportID,
			Amount:     &paid,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSettlement(receipt.Transfers)
	return receipt, nil
}

func errAlreadyPurchased() error {
	return dErrors.New(dErrors.CodeAlreadyPurchased, "caller has already purchased this report")
}

// HasPurchased reports whether principal bought reportID.
func (s *Service) HasPurchased(ctx context.Context, principal id.PrincipalID, reportID id.ReportID) (bool, error) {
	var purchased bool
	err := s.read(ctx, "has_purchased", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		var err error
		purchased, err = store.HasPurchased(ctx, principal, reportID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchase")
		}
		return nil
	})
	return purchased, err
}

// GetReportContent returns the content pointer of a report to a caller who
// bought it, wrote it, commissioned it, owns the registry or holds the
// backend role.
func (s *Service) GetReportContent(ctx context.Context, reportID id.ReportID) (string, error) {
	var content string
	err := s.read(ctx, "get_report_content", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		report, err := loadReport(ctx, store, reportID)
		if err != nil {
			return err
		}
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		access, err := contentAccess(ctx, store, caller, reportID)
		if err != nil {
			return err
		}
		if !report.ContentVisibleTo(caller, access) {
			return dErrors.New(dErrors.CodeNoAccess, "caller may not read this report's content")
		}
		content = report.ContentPointer
		return nil
	})
	return content, err
}

func contentAccess(ctx context.Context, store ports.Store, caller id.PrincipalID, reportID id.ReportID) (models.ContentAccess, error) {
	var access models.ContentAccess
	var err error
	if access.Purchased, err = store.HasPurchased(ctx, caller, reportID); err != nil {
		return access, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchase")
	}
	principals, err := store.Principals(ctx)
	if err != nil {
		return access, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principals")
	}
	access.IsOwner = principals.Owner == caller
	if access.BackendRole, err = store.HasRole(ctx, models.RoleBackend, caller); err != nil {
		return access, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load role")
	}
	return access, nil
}

// GetBalance returns the value credited to principal by settlements.
func (s *Service) GetBalance(ctx context.Context, principal id.PrincipalID) (id.Amount, error) {
	var balance id.Amount
	err := s.read(ctx, "get_balance", func(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
		if err := requireAuthorized(ctx, store, caller); err != nil {
			return err
		}
		var err error
		balance, err = store.Balance(ctx, principal)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
		}
		return nil
	})
	return balance, err
}
