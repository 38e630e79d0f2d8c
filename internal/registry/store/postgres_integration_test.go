//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	"propledger/pkg/platform/sentinel"
	txctx "propledger/pkg/platform/tx"
	"propledger/pkg/testutil/containers"
)

// =============================================================================
// Postgres Ledger Integration Suite
// =============================================================================

type PostgresLedgerSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	ledger *Postgres
	ctx    context.Context
}

func TestPostgresLedgerSuite(t *testing.T) {
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.ctx = context.Background()
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.pg.Reset(s.ctx))
	s.ledger = NewPostgres(s.pg.DB, WithTxTimeout(5*time.Second))
	genesis, err := models.NewGenesis(admin, owner, models.DefaultParameters())
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.Bootstrap(s.ctx, genesis))
}

func (s *PostgresLedgerSuite) tx(fn func(store ports.Store) error) error {
	return s.ledger.RunInTx(s.ctx, func(_ context.Context, store ports.Store) error {
		return fn(store)
	})
}

func (s *PostgresLedgerSuite) view(fn func(store ports.Store)) {
	s.Require().NoError(s.ledger.View(s.ctx, func(_ context.Context, store ports.Store) error {
		fn(store)
		return nil
	}))
}

func (s *PostgresLedgerSuite) newReport(store ports.Store, propertyID id.PropertyID) *models.Report {
	rid, err := store.NextReportID(s.ctx)
	s.Require().NoError(err)
	r, err := models.NewReport(rid, models.ReportDraft{
		PropertyID: propertyID, ReportType: "roof", ContentPointer: "bafy", Author: bob, Owner: alice, Price: id.MustEther("0.1"),
	}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(store.CreateReport(s.ctx, r))
	return r
}

func (s *PostgresLedgerSuite) TestBootstrapIsIdempotent() {
	genesis, err := models.NewGenesis(bob, bob, models.DefaultParameters())
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.Bootstrap(s.ctx, genesis))

	s.view(func(store ports.Store) {
		p, err := store.Principals(s.ctx)
		s.Require().NoError(err)
		s.Equal(admin, p.Admin)
		s.Equal(owner, p.Owner)
	})
}

func (s *PostgresLedgerSuite) TestPropertiesAndReports() {
	var reports []id.ReportID
	s.Require().NoError(s.tx(func(store ports.Store) error {
		pid, err := store.NextPropertyID(s.ctx)
		s.Require().NoError(err)
		p, err := models.NewProperty(pid, alice, models.PropertyFields{Address: "1 Main St", City: "Austin", State: "TX", Zip: "78701"}, time.Now())
		s.Require().NoError(err)
		s.Require().NoError(store.CreateProperty(s.ctx, p))
		reports = append(reports, s.newReport(store, pid).ID, s.newReport(store, pid).ID)
		return nil
	}))

	s.view(func(store ports.Store) {
		ids, err := store.ListPropertyIDsByOwner(s.ctx, alice)
		s.Require().NoError(err)
		s.Equal([]id.PropertyID{1}, ids)

		rids, err := store.ListReportIDsByProperty(s.ctx, 1)
		s.Require().NoError(err)
		s.Equal(reports, rids)

		found, err := store.FindReports(s.ctx, []id.ReportID{reports[1], 99, reports[0]})
		s.Require().NoError(err)
		s.Require().Len(found, 2)
		s.Equal(reports[1], found[0].ID)
		s.True(id.MustEther("0.1").Equal(found[0].Price))

		_, err = store.FindProperty(s.ctx, 42)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresLedgerSuite) TestRollback() {
	err := s.tx(func(store ports.Store) error {
		_, _ = store.NextPropertyID(s.ctx)
		s.Require().NoError(store.SetExplicitAccess(s.ctx, bob, true))
		s.Require().NoError(store.Credit(s.ctx, alice, id.NewAmount(10)))
		s.Require().NoError(store.AppendEvent(s.ctx, models.Event{ID: uuid.New(), Type: models.EventAccessGranted, Actor: admin}))
		return errBoom
	})
	s.Require().ErrorIs(err, errBoom)

	s.view(func(store ports.Store) {
		m, _ := store.Membership(s.ctx, bob)
		s.False(m.Authorized())
		bal, _ := store.Balance(s.ctx, alice)
		s.True(bal.IsZero())
	})
	pending, err := s.ledger.PendingEvents(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	s.Require().NoError(s.tx(func(store ports.Store) error {
		next, err := store.NextPropertyID(s.ctx)
		s.Equal(id.PropertyID(1), next)
		return err
	}))
}

func (s *PostgresLedgerSuite) TestPurchaseFlagAndBalances() {
	s.Require().NoError(s.tx(func(store ports.Store) error {
		s.Require().NoError(store.RecordPurchase(s.ctx, &models.Purchase{Buyer: bob, ReportID: 1, Amount: id.NewAmount(5), PurchasedAt: time.Now()}))
		s.ErrorIs(store.RecordPurchase(s.ctx, &models.Purchase{Buyer: bob, ReportID: 1, Amount: id.NewAmount(5), PurchasedAt: time.Now()}), sentinel.ErrAlreadyUsed)
		s.Require().NoError(store.Credit(s.ctx, alice, id.MustEther("1")))
		return store.Credit(s.ctx, alice, id.NewAmount(1))
	}))

	s.view(func(store ports.Store) {
		ok, _ := store.HasPurchased(s.ctx, bob, 1)
		s.True(ok)
		bal, err := store.Balance(s.ctx, alice)
		s.Require().NoError(err)
		s.Equal("1000000000000000001", bal.String())
	})
}

func (s *PostgresLedgerSuite) TestParametersAndRoles() {
	s.Require().NoError(s.tx(func(store ports.Store) error {
		params := &models.Parameters{
			Distribution:         models.Distribution{DAO: 33, Author: 33, Owner: 34},
			MinimumReportPrice:   id.MustEther("0.01"),
			VerificationRequired: true,
		}
		s.Require().NoError(store.SaveParameters(s.ctx, params))
		s.Require().NoError(store.GrantRole(s.ctx, models.RoleBackend, bob))
		s.Require().NoError(store.GrantRole(s.ctx, models.RoleBackend, bob))
		return store.SetOwner(s.ctx, alice)
	}))

	s.view(func(store ports.Store) {
		params, err := store.Parameters(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint8(34), params.Owner)
		s.True(params.VerificationRequired)
		s.True(id.MustEther("0.01").Equal(params.MinimumReportPrice))

		ok, _ := store.HasRole(s.ctx, models.RoleBackend, bob)
		s.True(ok)
		m, _ := store.Membership(s.ctx, alice)
		s.Equal([]string{"owner"}, m.Sources())
	})
}

func (s *PostgresLedgerSuite) TestViewIsReadOnly() {
	err := s.ledger.View(s.ctx, func(ctx context.Context, store ports.Store) error {
		return store.Credit(ctx, alice, id.NewAmount(1))
	})
	s.ErrorIs(err, sentinel.ErrReadOnly)
}

func (s *PostgresLedgerSuite) TestViewReadsOneSnapshot() {
	err := s.ledger.View(s.ctx, func(ctx context.Context, store ports.Store) error {
		_, inTx := txctx.From(ctx)
		s.True(inTx)
		before, err := store.Balance(ctx, alice)
		s.Require().NoError(err)

		// committed by another unit of work after the snapshot was taken
		s.Require().NoError(s.tx(func(store ports.Store) error {
			return store.Credit(s.ctx, alice, id.NewAmount(5))
		}))

		after, err := store.Balance(ctx, alice)
		s.Require().NoError(err)
		s.True(before.Equal(after))
		return nil
	})
	s.Require().NoError(err)
}

func (s *PostgresLedgerSuite) TestOutboxOrdering() {
	first, second := uuid.New(), uuid.New()
	amount := id.NewAmount(7)
	s.Require().NoError(s.tx(func(store ports.Store) error {
		s.Require().NoError(store.AppendEvent(s.ctx, models.Event{ID: first, Type: models.EventReportPurchased, ReportID: 1, Amount: &amount, Attributes: map[string]string{"k": "v"}}))
		return store.AppendEvent(s.ctx, models.Event{ID: second, Type: models.EventReportVerified, ReportID: 1})
	}))

	pending, err := s.ledger.PendingEvents(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(first, pending[0].ID)
	s.Equal("v", pending[0].Attributes["k"])
	s.Require().NotNil(pending[0].Amount)
	s.True(amount.Equal(*pending[0].Amount))

	s.Require().NoError(s.ledger.MarkPublished(s.ctx, []uuid.UUID{first}))
	pending, err = s.ledger.PendingEvents(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second, pending[0].ID)
}
