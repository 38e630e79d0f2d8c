// Package ports defines the interfaces the registry service depends on.
// Ledger stores (in-memory, Postgres) and value transferers implement them.
package ports

//go:generate mockgen -destination=mocks/mocks.go -package=mocks propledger/internal/registry/ports Transferer,Outbox

import (
	"context"

	"github.com/google/uuid"

	"propledger/internal/registry/models"
	id "propledger/pkg/domain"
)

// Store is the view of the ledger available inside a unit of work. All reads
// observe writes made earlier in the same unit of work.
type Store interface {
	// NextPropertyID allocates the next property id. Ids start at 1.
	NextPropertyID(ctx context.Context) (id.PropertyID, error)
	// NextReportID allocates the next report id. Ids start at 1.
	NextReportID(ctx context.Context) (id.ReportID, error)

	// CreateProperty stores a new property and appends it to its owner's index.
	CreateProperty(ctx context.Context, p *models.Property) error
	UpdateProperty(ctx context.Context, p *models.Property) error
	FindProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error)
	ListPropertyIDsByOwner(ctx context.Context, owner id.PrincipalID) ([]id.PropertyID, error)

	// CreateReport stores a new report and appends it to its property's index.
	CreateReport(ctx context.Context, r *models.Report) error
	UpdateReport(ctx context.Context, r *models.Report) error
	FindReport(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	// FindReports returns the reports in ids order, skipping missing ones.
	FindReports(ctx context.Context, ids []id.ReportID) ([]*models.Report, error)
	ListReportIDsByProperty(ctx context.Context, propertyID id.PropertyID) ([]id.ReportID, error)

	HasPurchased(ctx context.Context, buyer id.PrincipalID, reportID id.ReportID) (bool, error)
	// RecordPurchase sets the purchase flag. Returns sentinel.ErrAlreadyUsed
	// when the flag is already set.
	RecordPurchase(ctx context.Context, p *models.Purchase) error

	Membership(ctx context.Context, principal id.PrincipalID) (models.Membership, error)
	SetExplicitAccess(ctx context.Context, principal id.PrincipalID, allowed bool) error
	GrantRole(ctx context.Context, role models.Role, principal id.PrincipalID) error
	HasRole(ctx context.Context, role models.Role, principal id.PrincipalID) (bool, error)
	Principals(ctx context.Context) (models.Principals, error)
	SetOwner(ctx context.Context, owner id.PrincipalID) error

	Parameters(ctx context.Context) (*models.Parameters, error)
	SaveParameters(ctx context.Context, params *models.Parameters) error

	BalanceLedger

	// AppendEvent writes an event to the outbox.
	AppendEvent(ctx context.Context, event models.Event) error
}

// BalanceLedger holds per-principal credited value.
type BalanceLedger interface {
	Credit(ctx context.Context, principal id.PrincipalID, amount id.Amount) error
	Balance(ctx context.Context, principal id.PrincipalID) (id.Amount, error)
}

// Ledger runs units of work against the registry state.
type Ledger interface {
	// RunInTx runs fn atomically. Mutations made through store are discarded
	// when fn returns an error or panics. Units of work are totally ordered;
	// a caller that cannot get its turn before ctx ends fails with
	// CodeTimeout.
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Transferer moves value to a recipient during settlement. Implementations
// may call back into the registry; those calls see the in-flight unit of work.
type Transferer interface {
	Transfer(ctx context.Context, ledger BalanceLedger, to id.PrincipalID, amount id.Amount) error
}

// Outbox exposes undelivered events to the delivery worker.
type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
