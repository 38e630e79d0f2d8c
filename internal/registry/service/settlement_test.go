package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/mock/gomock"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	"propledger/internal/registry/ports/mocks"
	"propledger/internal/registry/store"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// =============================================================================
// Settlement Engine
// =============================================================================

// amountMatcher compares amounts by value; big.Int internals are not
// comparable with reflect.DeepEqual.
type amountMatcher struct{ want id.Amount }

func amountOf(wei uint64) gomock.Matcher { return amountMatcher{want: id.NewAmount(wei)} }

func (m amountMatcher) Matches(x any) bool {
	a, ok := x.(id.Amount)
	return ok && a.Equal(m.want)
}

func (m amountMatcher) String() string { return "is " + m.want.String() + " wei" }

func (s *RegistryServiceSuite) balance(p id.PrincipalID) id.Amount {
	b, err := s.service.GetBalance(s.as(owner), p)
	s.Require().NoError(err)
	return b
}

func (s *RegistryServiceSuite) TestPurchaseEndToEnd() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.MustEther("0.1"))

	receipt, err := s.service.PurchaseReport(s.as(customer), r.ID, id.MustEther("0.1"))
	s.Require().NoError(err)

	s.Equal(customer, receipt.Buyer)
	s.Equal(id.MustEther("0.1"), receipt.Paid)
	s.Require().Len(receipt.Transfers, 3)
	s.Equal(models.Transfer{Share: models.ShareDAO, Recipient: owner, Amount: id.MustEther("0.01")}, receipt.Transfers[0])
	s.Equal(models.Transfer{Share: models.ShareAuthor, Recipient: author, Amount: id.MustEther("0.07")}, receipt.Transfers[1])
	s.Equal(models.Transfer{Share: models.ShareOwner, Recipient: alice, Amount: id.MustEther("0.02")}, receipt.Transfers[2])

	s.Equal(id.MustEther("0.01"), s.balance(owner))
	s.Equal(id.MustEther("0.07"), s.balance(author))
	s.Equal(id.MustEther("0.02"), s.balance(alice))

	purchased, err := s.service.HasPurchased(s.as(alice), customer, r.ID)
	s.Require().NoError(err)
	s.True(purchased)

	content, err := s.service.GetReportContent(s.as(customer), r.ID)
	s.Require().NoError(err)
	s.Equal("ipfs://QmReport", content)

	events := s.pendingEvents()
	last := events[len(events)-1]
	s.Equal(models.EventReportPurchased, last.Type)
	s.Equal(customer, last.Actor)
	s.Equal(r.ID, last.ReportID)
	s.Require().NotNil(last.Amount)
	s.Equal(id.MustEther("0.1"), *last.Amount)
}

func (s *RegistryServiceSuite) TestPurchaseChecks() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))

	s.Run("missing report", func() {
		_, err := s.service.PurchaseReport(s.as(stranger), 31, id.NewAmount(1000))
		s.assertCode(err, dErrors.CodeNotFound)
	})

	s.Run("unauthorized buyer", func() {
		_, err := s.service.PurchaseReport(s.as(stranger), r.ID, id.NewAmount(1000))
		s.assertCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("underpayment", func() {
		_, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(999))
		s.assertCode(err, dErrors.CodeInsufficientPayment)
	})

	s.Run("overpayment is distributed in full", func() {
		receipt, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1500))
		s.Require().NoError(err)
		s.Equal(id.NewAmount(150), receipt.Transfers[0].Amount)
		s.Equal(id.NewAmount(1050), receipt.Transfers[1].Amount)
		s.Equal(id.NewAmount(300), receipt.Transfers[2].Amount)
	})

	s.Run("second purchase by the same buyer", func() {
		_, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
		s.assertCode(err, dErrors.CodeAlreadyPurchased)
		s.Equal(id.NewAmount(1050), s.balance(author), "no second settlement")
	})

	s.Run("another buyer may still purchase", func() {
		_, err := s.service.PurchaseReport(s.as(author), r.ID, id.NewAmount(1000))
		s.Require().NoError(err)
	})
}

func (s *RegistryServiceSuite) TestPurchaseRoundingRemainderGoesToOwner() {
	_, err := s.service.UpdatePaymentDistribution(s.as(owner), 33, 33, 34)
	s.Require().NoError(err)
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(101))

	receipt, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(101))
	s.Require().NoError(err)
	s.Equal(id.NewAmount(33), receipt.Transfers[0].Amount)
	s.Equal(id.NewAmount(33), receipt.Transfers[1].Amount)
	s.Equal(id.NewAmount(35), receipt.Transfers[2].Amount)
}

func (s *RegistryServiceSuite) TestPurchaseConservesValue() {
	rng := rand.New(rand.NewPCG(42, 7))
	p := s.createProperty(alice)

	total := id.NewAmount(0)
	for i := range 40 {
		dao := rng.IntN(101)
		auth := rng.IntN(101 - dao)
		_, err := s.service.UpdatePaymentDistribution(s.as(owner), dao, auth, 100-dao-auth)
		s.Require().NoError(err)

		price := id.NewAmount(rng.Uint64N(1_000_000_000_000))
		r := s.createReport(p.ID, price)
		paid := price.Add(id.NewAmount(uint64(i)))
		_, err = s.service.PurchaseReport(s.as(customer), r.ID, paid)
		s.Require().NoError(err)
		total = total.Add(paid)
	}

	sum := s.balance(owner).Add(s.balance(author)).Add(s.balance(alice))
	s.Equal(total, sum)
}

func (s *RegistryServiceSuite) TestVerificationGate() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(500))
	_, err := s.service.UpdateVerificationRequired(s.as(owner), true)
	s.Require().NoError(err)

	_, err = s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(500))
	s.assertCode(err, dErrors.CodeNotVerified)

	purchased, err := s.service.HasPurchased(s.as(customer), customer, r.ID)
	s.Require().NoError(err)
	s.False(purchased)

	_, err = s.service.VerifyReport(s.as(owner), r.ID)
	s.Require().NoError(err)
	_, err = s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(500))
	s.Require().NoError(err)
}

func (s *RegistryServiceSuite) TestZeroPriceReportStillSettlesThreeTransfers() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(0))

	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	gomock.InOrder(
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), owner, amountOf(0)).Return(nil),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), author, amountOf(0)).Return(nil),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), alice, amountOf(0)).Return(nil),
	)
	svc := s.newService(WithTransferer(transferer))

	_, err := svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(0))
	s.Require().NoError(err)
}

func (s *RegistryServiceSuite) TestTransferFailureRollsBackEverything() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))
	eventsBefore := len(s.pendingEvents())

	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	credit := CreditTransferer{}
	gomock.InOrder(
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), owner, amountOf(100)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), author, amountOf(700)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), alice, amountOf(200)).
			Return(errors.New("recipient rejected value")),
	)
	svc := s.newService(WithTransferer(transferer))

	_, err := svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	s.assertCode(err, dErrors.CodeTransferFailed)

	purchased, err := s.service.HasPurchased(s.as(customer), customer, r.ID)
	s.Require().NoError(err)
	s.False(purchased, "purchase flag rolled back")
	s.True(s.balance(owner).IsZero(), "earlier credits rolled back")
	s.True(s.balance(author).IsZero())
	s.Len(s.pendingEvents(), eventsBefore, "no event for a failed purchase")

	receipt, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	s.Require().NoError(err, "the buyer may retry")
	s.Len(receipt.Transfers, 3)
}

func (s *RegistryServiceSuite) TestTransferPanicRollsBackEverything() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))
	eventsBefore := len(s.pendingEvents())

	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	credit := CreditTransferer{}
	gomock.InOrder(
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), owner, amountOf(100)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), author, amountOf(700)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), alice, amountOf(200)).
			DoAndReturn(func(context.Context, ports.BalanceLedger, id.PrincipalID, id.Amount) error {
				panic("recipient exploded")
			}),
	)
	svc := s.newService(WithTransferer(transferer))

	s.PanicsWithValue("recipient exploded", func() {
		_, _ = svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	})

	purchased, err := s.service.HasPurchased(s.as(customer), customer, r.ID)
	s.Require().NoError(err)
	s.False(purchased, "purchase flag rolled back")
	s.True(s.balance(owner).IsZero(), "earlier credits rolled back")
	s.True(s.balance(author).IsZero())
	s.True(s.balance(alice).IsZero())
	s.Len(s.pendingEvents(), eventsBefore, "no event for a failed purchase")

	receipt, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	s.Require().NoError(err, "the ledger is usable after the panic")
	s.Len(receipt.Transfers, 3)
}

// =============================================================================
// Reentrancy
// =============================================================================

// hostileRecipient calls back into the registry from inside a transfer.
type hostileRecipient struct {
	svc       *Service
	target    id.PrincipalID
	reportID  id.ReportID
	fail      bool
	reentered error
	sawFlag   bool
	readErr   error
}

func (h *hostileRecipient) Transfer(ctx context.Context, ledger ports.BalanceLedger, to id.PrincipalID, amount id.Amount) error {
	if to == h.target {
		_, h.reentered = h.svc.PurchaseReport(ctx, h.reportID, amount)
		h.sawFlag, h.readErr = h.svc.HasPurchased(ctx, h.buyer(ctx), h.reportID)
		if h.fail {
			return h.reentered
		}
	}
	return ledger.Credit(ctx, to, amount)
}

func (h *hostileRecipient) buyer(ctx context.Context) id.PrincipalID {
	p, _ := requireCaller(ctx)
	return p
}

func (s *RegistryServiceSuite) TestReentrantRecipientIsRejected() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))

	hostile := &hostileRecipient{target: author, reportID: r.ID}
	hostile.svc = s.newService(WithTransferer(hostile))

	receipt, err := hostile.svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	s.Require().NoError(err)
	s.NotNil(receipt)

	s.assertCode(hostile.reentered, dErrors.CodeReentrantCall)
	s.Require().NoError(hostile.readErr)
	s.True(hostile.sawFlag, "flag is set before value moves")

	s.Equal(id.NewAmount(700), s.balance(author), "paid exactly once")
	s.Equal(id.NewAmount(100), s.balance(owner))
	s.Equal(id.NewAmount(200), s.balance(alice))
}

func (s *RegistryServiceSuite) TestReentrantFailureAbortsPurchase() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))

	hostile := &hostileRecipient{target: alice, reportID: r.ID, fail: true}
	hostile.svc = s.newService(WithTransferer(hostile))

	_, err := hostile.svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
	s.assertCode(err, dErrors.CodeTransferFailed)
	s.True(dErrors.HasCode(errors.Unwrap(err), dErrors.CodeReentrantCall))

	purchased, err := s.service.HasPurchased(s.as(customer), customer, r.ID)
	s.Require().NoError(err)
	s.False(purchased)
	s.True(s.balance(owner).IsZero())
	s.True(s.balance(author).IsZero())
}

func (s *RegistryServiceSuite) TestNestedMutationFromAnyOperationIsRejected() {
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(10))

	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	var nested error
	svc := s.newService(WithTransferer(transferer))
	transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), owner, gomock.Any()).
		DoAndReturn(func(ctx context.Context, ledger ports.BalanceLedger, to id.PrincipalID, amount id.Amount) error {
			_, nested = svc.CreateProperty(ctx, mainStreet())
			return ledger.Credit(ctx, to, amount)
		})
	transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(CreditTransferer{}.Transfer)

	_, err := svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(10))
	s.Require().NoError(err)
	s.assertCode(nested, dErrors.CodeReentrantCall)

	ids, err := s.service.GetPropertiesByOwner(s.as(customer), customer)
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *RegistryServiceSuite) TestReentryOnFreshContextTimesOut() {
	s.resetLedger(store.WithInMemoryTxTimeout(50 * time.Millisecond))
	p := s.createProperty(alice)
	r := s.createReport(p.ID, id.NewAmount(1000))
	eventsBefore := len(s.pendingEvents())

	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	svc := s.newService(WithTransferer(transferer))
	credit := CreditTransferer{}
	var nested error
	gomock.InOrder(
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), owner, amountOf(100)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), author, amountOf(700)).
			DoAndReturn(credit.Transfer),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), alice, amountOf(200)).
			DoAndReturn(func(context.Context, ports.BalanceLedger, id.PrincipalID, id.Amount) error {
				// a recipient that drops the caller's context
				_, nested = svc.PurchaseReport(s.as(customer), r.ID, id.NewAmount(1000))
				return nested
			}),
	)

	ctx, cancel := context.WithTimeout(s.as(customer), time.Minute)
	defer cancel()
	_, err := svc.PurchaseReport(ctx, r.ID, id.NewAmount(1000))

	s.assertCode(nested, dErrors.CodeTimeout)
	s.assertCode(err, dErrors.CodeTransferFailed)
	s.True(dErrors.HasCode(errors.Unwrap(err), dErrors.CodeTimeout))

	purchased, err := s.service.HasPurchased(s.as(customer), customer, r.ID)
	s.Require().NoError(err)
	s.False(purchased)
	s.True(s.balance(owner).IsZero())
	s.True(s.balance(author).IsZero())
	s.True(s.balance(alice).IsZero())
	s.Len(s.pendingEvents(), eventsBefore)
}

// =============================================================================
// Content Access
// =============================================================================

func (s *RegistryServiceSuite) TestGetReportContentAccess() {
	p := s.createProperty(alice)
	r, err := s.service.CreateReport(s.as(author), models.ReportDraft{
		PropertyID: p.ID, ReportType: "pest", ContentPointer: "ipfs://QmSecret",
		Author: author, Owner: bob, Price: id.NewAmount(10),
	})
	s.Require().NoError(err)
	s.Require().NoError(s.service.GrantExplicitAccess(s.as(backend), bob))
	s.Require().NoError(s.service.GrantExplicitAccess(s.as(backend), backend))

	for _, tc := range []struct {
		name   string
		caller id.PrincipalID
		code   dErrors.Code
	}{
		{"author", author, ""},
		{"report owner", bob, ""},
		{"registry owner", owner, ""},
		{"backend role", backend, ""},
		{"property owner who did not buy", alice, dErrors.CodeNoAccess},
		{"authorized non-buyer", customer, dErrors.CodeNoAccess},
		{"unauthorized caller", stranger, dErrors.CodeUnauthorized},
	} {
		s.Run(tc.name, func() {
			content, err := s.service.GetReportContent(s.as(tc.caller), r.ID)
			if tc.code != "" {
				s.assertCode(err, tc.code)
				s.Empty(content)
				return
			}
			s.Require().NoError(err)
			s.Equal("ipfs://QmSecret", content)
		})
	}

	s.Run("buyer gains access", func() {
		_, err := s.service.PurchaseReport(s.as(customer), r.ID, id.NewAmount(10))
		s.Require().NoError(err)
		content, err := s.service.GetReportContent(s.as(customer), r.ID)
		s.Require().NoError(err)
		s.Equal("ipfs://QmSecret", content)
	})

	s.Run("missing report", func() {
		_, err := s.service.GetReportContent(s.as(customer), 1234)
		s.assertCode(err, dErrors.CodeNotFound)
	})
}

func (s *RegistryServiceSuite) TestGetBalanceRequiresAuthorization() {
	_, err := s.service.GetBalance(s.as(stranger), owner)
	s.assertCode(err, dErrors.CodeUnauthorized)
}
