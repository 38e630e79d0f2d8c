package models

import (
	"time"

	id "propledger/pkg/domain"
)

// Purchase is the permanent record that Buyer paid for ReportID. Its
// existence is the purchase flag; it is written once and never removed.
type Purchase struct {
	Buyer       id.PrincipalID `json:"buyer"`
	ReportID    id.ReportID    `json:"report_id"`
	Amount      id.Amount      `json:"amount_wei"`
	PurchasedAt time.Time      `json:"purchased_at"`
}

// Receipt summarizes a settled purchase.
type Receipt struct {
	ReportID    id.ReportID    `json:"report_id"`
	Buyer       id.PrincipalID `json:"buyer"`
	Paid        id.Amount      `json:"paid_wei"`
	Transfers   []Transfer     `json:"transfers"`
	PurchasedAt time.Time      `json:"purchased_at"`
}
