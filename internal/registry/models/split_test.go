package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "propledger/pkg/domain"
)

func TestSplitPayment(t *testing.T) {
	cases := []struct {
		name                       string
		total                      uint64
		dao, author                uint8
		wantDAO, wantAuth, wantRem uint64
	}{
		{"remainder absorbs rounding", 101, 33, 33, 33, 33, 35},
		{"even split", 100, 10, 70, 10, 70, 20},
		{"zero total", 0, 10, 70, 0, 0, 0},
		{"all to owner", 999, 0, 0, 0, 0, 999},
		{"all to dao", 999, 100, 0, 999, 0, 0},
		{"tiny amount", 1, 50, 49, 0, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dao, author, rem := SplitPayment(id.NewAmount(tc.total), tc.dao, tc.author)
			assert.Equal(t, id.NewAmount(tc.wantDAO).String(), dao.String())
			assert.Equal(t, id.NewAmount(tc.wantAuth).String(), author.String())
			assert.Equal(t, id.NewAmount(tc.wantRem).String(), rem.String())
		})
	}
}

// TestSplitPayment_Conservation checks over random inputs that the three
// shares always sum to the total and that floored shares never exceed
// their exact percentage.
func TestSplitPayment_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		total := id.NewAmount(rng.Uint64())
		if i%3 == 0 {
			total = total.Add(id.MustEther("1000000"))
		}
		dao := uint8(rng.Intn(101))
		author := uint8(rng.Intn(101 - int(dao)))

		d, a, r := SplitPayment(total, dao, author)
		require.True(t, d.Add(a).Add(r).Equal(total), "total=%s dao=%d author=%d", total, dao, author)
		require.True(t, d.MulDiv(100, 1).Cmp(total.MulDiv(uint64(dao), 1)) <= 0)
		require.True(t, a.MulDiv(100, 1).Cmp(total.MulDiv(uint64(author), 1)) <= 0)
	}
}

func TestSettlement(t *testing.T) {
	dao := id.MustPrincipalID("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	report := &Report{
		Author: id.MustPrincipalID("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"),
		Owner:  id.MustPrincipalID("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"),
	}

	transfers := Settlement(report, id.MustEther("0.1"), Distribution{DAO: 10, Author: 70, Owner: 20}, dao)

	require.Len(t, transfers, 3)
	assert.Equal(t, ShareDAO, transfers[0].Share)
	assert.Equal(t, dao, transfers[0].Recipient)
	assert.Equal(t, "0.01", transfers[0].Amount.Ether())
	assert.Equal(t, report.Author, transfers[1].Recipient)
	assert.Equal(t, "0.07", transfers[1].Amount.Ether())
	assert.Equal(t, report.Owner, transfers[2].Recipient)
	assert.Equal(t, "0.02", transfers[2].Amount.Ether())
}
