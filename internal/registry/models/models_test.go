package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

var (
	alice = id.MustPrincipalID("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob   = id.MustPrincipalID("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	carol = id.MustPrincipalID("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
)

func TestPropertyFields_Normalize(t *testing.T) {
	t.Run("trims fields", func(t *testing.T) {
		f, err := PropertyFields{Address: " 1 Main St ", City: "Austin", State: "TX", Zip: " 78701"}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, "1 Main St", f.Address)
		assert.Equal(t, "78701", f.Zip)
	})

	t.Run("blank field rejected", func(t *testing.T) {
		_, err := PropertyFields{Address: "1 Main St", City: "  ", State: "TX", Zip: "78701"}.Normalize()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("oversized field rejected", func(t *testing.T) {
		_, err := PropertyFields{Address: strings.Repeat("a", 257), City: "Austin", State: "TX", Zip: "78701"}.Normalize()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestProperty_Lifecycle(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewProperty(1, alice, PropertyFields{Address: "1 Main St", City: "Austin", State: "TX", Zip: "78701"}, created)
	require.NoError(t, err)
	assert.True(t, p.IsOwnedBy(alice))
	assert.False(t, p.IsOwnedBy(bob))

	later := created.Add(time.Hour)
	p.ApplyUpdate(PropertyFields{Address: "2 Main St", City: "Austin", State: "TX", Zip: "78701"}, later)
	assert.Equal(t, "2 Main St", p.Address)
	assert.Equal(t, later, p.UpdatedAt)
	assert.Equal(t, alice, p.Owner)

	verifiedAt := later.Add(time.Hour)
	assert.True(t, p.Verify(verifiedAt))
	assert.False(t, p.Verify(verifiedAt.Add(time.Hour)))
	assert.True(t, p.IsVerified)
	assert.Equal(t, verifiedAt, p.UpdatedAt)

	_, err = NewProperty(0, alice, PropertyFields{}, created)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestReportDraft_Normalize(t *testing.T) {
	valid := ReportDraft{PropertyID: 1, ReportType: "roof", ContentPointer: "bafy123", Author: bob, Owner: alice, Price: id.MustEther("0.1")}

	d, err := valid.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "roof", d.ReportType)

	for name, mutate := range map[string]func(*ReportDraft){
		"missing property": func(d *ReportDraft) { d.PropertyID = 0 },
		"missing type":     func(d *ReportDraft) { d.ReportType = " " },
		"missing pointer":  func(d *ReportDraft) { d.ContentPointer = "" },
		"missing author":   func(d *ReportDraft) { d.Author = id.PrincipalID{} },
		"missing owner":    func(d *ReportDraft) { d.Owner = id.PrincipalID{} },
	} {
		t.Run(name, func(t *testing.T) {
			d := valid
			mutate(&d)
			_, err := d.Normalize()
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestReport_ContentVisibleTo(t *testing.T) {
	r := &Report{Author: bob, Owner: alice}

	assert.True(t, r.ContentVisibleTo(bob, ContentAccess{}))
	assert.True(t, r.ContentVisibleTo(alice, ContentAccess{}))
	assert.False(t, r.ContentVisibleTo(carol, ContentAccess{}))
	assert.True(t, r.ContentVisibleTo(carol, ContentAccess{Purchased: true}))
	assert.True(t, r.ContentVisibleTo(carol, ContentAccess{IsOwner: true}))
	assert.True(t, r.ContentVisibleTo(carol, ContentAccess{BackendRole: true}))
}

func TestReport_VerifyIsOneWay(t *testing.T) {
	r, err := NewReport(3, ReportDraft{PropertyID: 1}, time.Now())
	require.NoError(t, err)
	assert.True(t, r.Verify())
	assert.False(t, r.Verify())
	assert.True(t, r.IsVerified)
}

func TestNewDistribution(t *testing.T) {
	d, err := NewDistribution(33, 33, 34)
	require.NoError(t, err)
	assert.Equal(t, Distribution{DAO: 33, Author: 33, Owner: 34}, d)

	for _, triple := range [][3]int{{33, 33, 33}, {50, 50, 1}, {0, 0, 0}, {-10, 60, 50}, {101, 0, -1}} {
		_, err := NewDistribution(triple[0], triple[1], triple[2])
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidDistribution), "%v", triple)
	}
}

func TestParameters_AcceptsPrice(t *testing.T) {
	p := DefaultParameters()
	p.MinimumReportPrice = id.MustEther("0.05")

	assert.True(t, p.AcceptsPrice(id.MustEther("0.05")))
	assert.True(t, p.AcceptsPrice(id.MustEther("1")))
	assert.False(t, p.AcceptsPrice(id.MustEther("0.049999999999999999")))
}

func TestNewGenesis(t *testing.T) {
	g, err := NewGenesis(alice, bob, DefaultParameters())
	require.NoError(t, err)
	assert.Equal(t, alice, g.Principals.Admin)
	assert.Equal(t, bob, g.Principals.Owner)

	_, err = NewGenesis(id.PrincipalID{}, bob, DefaultParameters())
	assert.Error(t, err)

	bad := DefaultParameters()
	bad.DAO = 50
	_, err = NewGenesis(alice, bob, bad)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidDistribution))
}

func TestEvent_AggregateKey(t *testing.T) {
	assert.Equal(t, "report/4", Event{ReportID: 4, PropertyID: 2}.AggregateKey())
	assert.Equal(t, "property/2", Event{PropertyID: 2}.AggregateKey())
	assert.Equal(t, "principal/"+carol.String(), Event{Subject: &carol}.AggregateKey())
	assert.Equal(t, "registry", Event{}.AggregateKey())
}
