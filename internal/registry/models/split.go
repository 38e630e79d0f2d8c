package models

import (
	id "propledger/pkg/domain"
)

// SplitPayment divides total into the DAO share, the author share and the
// remainder. The first two are floored; the remainder absorbs rounding so the
// three always sum to total.
//
// daoPct + authorPct must not exceed 100.
func SplitPayment(total id.Amount, daoPct, authorPct uint8) (dao, author, remainder id.Amount) {
	dao = total.MulDiv(uint64(daoPct), 100)
	author = total.MulDiv(uint64(authorPct), 100)
	remainder = total.Sub(dao).Sub(author)
	return dao, author, remainder
}

// Share identifies the recipient class of a transfer.
type Share string

const (
	ShareDAO    Share = "dao"
	ShareAuthor Share = "author"
	ShareOwner  Share = "owner"
)

// Transfer is one leg of a settlement.
type Transfer struct {
	Share     Share          `json:"share"`
	Recipient id.PrincipalID `json:"recipient"`
	Amount    id.Amount      `json:"amount_wei"`
}

// Settlement returns the ordered transfers for paying total for report
// under dist, with daoRecipient receiving the DAO share.
func Settlement(report *Report, total id.Amount, dist Distribution, daoRecipient id.PrincipalID) []Transfer {
	dao, author, owner := SplitPayment(total, dist.DAO, dist.Author)
	return []Transfer{
		{Share: ShareDAO, Recipient: daoRecipient, Amount: dao},
		{Share: ShareAuthor, Recipient: report.Author, Amount: author},
		{Share: ShareOwner, Recipient: report.Owner, Amount: owner},
	}
}
