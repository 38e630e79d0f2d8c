package models

import (
	"strings"
	"time"

	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// ReportDraft is the caller-supplied part of a new report.
type ReportDraft struct {
	PropertyID     id.PropertyID
	ReportType     string
	ContentPointer string
	Author         id.PrincipalID
	Owner          id.PrincipalID
	Price          id.Amount
}

// Normalize trims text fields and checks required values. It does not check
// the minimum price, which depends on the current parameters.
func (d ReportDraft) Normalize() (ReportDraft, error) {
	d.ReportType = strings.TrimSpace(d.ReportType)
	d.ContentPointer = strings.TrimSpace(d.ContentPointer)
	if d.PropertyID.IsNil() {
		return ReportDraft{}, dErrors.New(dErrors.CodeInvalidInput, "property id is required")
	}
	if err := requireText("report type", d.ReportType); err != nil {
		return ReportDraft{}, err
	}
	if err := requireText("content pointer", d.ContentPointer); err != nil {
		return ReportDraft{}, err
	}
	if d.Author.IsNil() {
		return ReportDraft{}, dErrors.New(dErrors.CodeInvalidInput, "author is required")
	}
	if d.Owner.IsNil() {
		return ReportDraft{}, dErrors.New(dErrors.CodeInvalidInput, "report owner is required")
	}
	return d, nil
}

// Report is an inspection report attached to a property.
//
// Invariants:
//   - PropertyID referenced an existing property at creation
//   - Price was at least the minimum report price at creation
//   - Author and Owner never change
//   - IsVerified only moves from false to true
type Report struct {
	ID             id.ReportID    `json:"id"`
	PropertyID     id.PropertyID  `json:"property_id"`
	ReportType     string         `json:"report_type"`
	ContentPointer string         `json:"-"`
	Author         id.PrincipalID `json:"author"`
	Owner          id.PrincipalID `json:"owner"`
	Price          id.Amount      `json:"price_wei"`
	IsVerified     bool           `json:"is_verified"`
	CreatedAt      time.Time      `json:"created_at"`
}

func NewReport(reportID id.ReportID, d ReportDraft, now time.Time) (*Report, error) {
	if reportID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "report id must be positive")
	}
	return &Report{
		ID:             reportID,
		PropertyID:     d.PropertyID,
		ReportType:     d.ReportType,
		ContentPointer: d.ContentPointer,
		Author:         d.Author,
		Owner:          d.Owner,
		Price:          d.Price,
		CreatedAt:      now,
	}, nil
}

// Verify marks the report verified. It returns false when it already was.
func (r *Report) Verify() bool {
	if r.IsVerified {
		return false
	}
	r.IsVerified = true
	return true
}

// CoversPayment reports whether paid meets the report price.
func (r *Report) CoversPayment(paid id.Amount) bool {
	return paid.Cmp(r.Price) >= 0
}

// ContentVisibleTo decides whether caller may read the content pointer: a
// buyer, the author, the report owner, the privileged owner or a backend
// role holder.
func (r *Report) ContentVisibleTo(caller id.PrincipalID, access ContentAccess) bool {
	return access.Purchased ||
		r.Author == caller ||
		r.Owner == caller ||
		access.IsOwner ||
		access.BackendRole
}
