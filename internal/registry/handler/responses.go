package handler

import (
	"propledger/internal/registry/models"
	id "propledger/pkg/domain"
)

// AuthorizationResponse is returned by GET /access/{principal}.
type AuthorizationResponse struct {
	Principal  id.PrincipalID `json:"principal"`
	Authorized bool           `json:"authorized"`
	Sources    []string       `json:"sources"`
}

func FromMembership(p id.PrincipalID, m models.Membership) *AuthorizationResponse {
	sources := m.Sources()
	if sources == nil {
		sources = []string{}
	}
	return &AuthorizationResponse{Principal: p, Authorized: m.Authorized(), Sources: sources}
}

// PropertyIDsResponse lists a principal's properties.
type PropertyIDsResponse struct {
	Owner       id.PrincipalID  `json:"owner"`
	PropertyIDs []id.PropertyID `json:"property_ids"`
}

// ReportIDsResponse lists a property's reports. Reports is set when the
// listing was expanded.
type ReportIDsResponse struct {
	PropertyID id.PropertyID    `json:"property_id"`
	ReportIDs  []id.ReportID    `json:"report_ids"`
	Reports    []*models.Report `json:"reports,omitempty"`
}

// ReceiptResponse is returned by a successful purchase.
type ReceiptResponse struct {
	ReportID    id.ReportID        `json:"report_id"`
	Buyer       id.PrincipalID     `json:"buyer"`
	PaidWei     id.Amount          `json:"paid_wei"`
	PaidEth     string             `json:"paid_eth"`
	Transfers   []TransferResponse `json:"transfers"`
	PurchasedAt string             `json:"purchased_at"`
}

type TransferResponse struct {
	Share     models.Share   `json:"share"`
	Recipient id.PrincipalID `json:"recipient"`
	AmountWei id.Amount      `json:"amount_wei"`
	AmountEth string         `json:"amount_eth"`
}

func FromReceipt(r *models.Receipt) *ReceiptResponse {
	resp := &ReceiptResponse{
		ReportID:    r.ReportID,
		Buyer:       r.Buyer,
		PaidWei:     r.Paid,
		PaidEth:     r.Paid.Ether(),
		PurchasedAt: r.PurchasedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, t := range r.Transfers {
		resp.Transfers = append(resp.Transfers, TransferResponse{
			Share:     t.Share,
			Recipient: t.Recipient,
			AmountWei: t.Amount,
			AmountEth: t.Amount.Ether(),
		})
	}
	return resp
}

type PurchasedResponse struct {
	Principal id.PrincipalID `json:"principal"`
	ReportID  id.ReportID    `json:"report_id"`
	Purchased bool           `json:"purchased"`
}

type ContentResponse struct {
	ReportID       id.ReportID `json:"report_id"`
	ContentPointer string      `json:"content_pointer"`
}

type BalanceResponse struct {
	Principal  id.PrincipalID `json:"principal"`
	BalanceWei id.Amount      `json:"balance_wei"`
	BalanceEth string         `json:"balance_eth"`
}

// ParametersResponse mirrors models.Parameters with an ether rendering of
// the minimum price.
type ParametersResponse struct {
	models.Distribution
	MinimumReportPriceWei id.Amount `json:"minimum_report_price_wei"`
	MinimumReportPriceEth string    `json:"minimum_report_price_eth"`
	VerificationRequired  bool      `json:"verification_required"`
}

func FromParameters(p *models.Parameters) *ParametersResponse {
	return &ParametersResponse{
		Distribution:          p.Distribution,
		MinimumReportPriceWei: p.MinimumReportPrice,
		MinimumReportPriceEth: p.MinimumReportPrice.Ether(),
		VerificationRequired:  p.VerificationRequired,
	}
}
