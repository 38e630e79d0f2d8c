package handler

import (
	"strings"

	"propledger/internal/registry/models"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// PrincipalRequest is the body of the access and role grant endpoints.
type PrincipalRequest struct {
	Principal string `json:"principal" validate:"required"`

	parsed id.PrincipalID
}

func (r *PrincipalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	p, err := id.ParsePrincipalID(r.Principal)
	if err != nil {
		return err
	}
	r.parsed = p
	return nil
}

func (r *PrincipalRequest) ParsedPrincipal() id.PrincipalID {
	return r.parsed
}

// PropertyRequest is the body of POST /properties and PUT /properties/{id}.
type PropertyRequest struct {
	Address string `json:"address" validate:"required,max=256"`
	City    string `json:"city" validate:"required,max=256"`
	State   string `json:"state" validate:"required,max=256"`
	Zip     string `json:"zip" validate:"required,max=256"`

	fields models.PropertyFields
}

func (r *PropertyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	fields, err := models.PropertyFields{
		Address: r.Address,
		City:    r.City,
		State:   r.State,
		Zip:     r.Zip,
	}.Normalize()
	if err != nil {
		return err
	}
	r.fields = fields
	return nil
}

func (r *PropertyRequest) Fields() models.PropertyFields {
	return r.fields
}

// AmountFields carry a value either in wei or in ether. Exactly one must be
// set.
type AmountFields struct {
	AmountWei string `json:"amount_wei,omitempty" validate:"omitempty,numeric,max=78"`
	AmountEth string `json:"amount_eth,omitempty" validate:"omitempty,max=96"`
}

func (a AmountFields) parse(field string) (id.Amount, error) {
	wei := strings.TrimSpace(a.AmountWei)
	eth := strings.TrimSpace(a.AmountEth)
	switch {
	case wei != "" && eth != "":
		return id.Amount{}, dErrors.New(dErrors.CodeValidation, field+": set only one of amount_wei and amount_eth")
	case wei != "":
		return id.ParseAmount(wei)
	case eth != "":
		return id.ParseEther(eth)
	default:
		return id.Amount{}, dErrors.New(dErrors.CodeValidation, field+" is required")
	}
}

// CreateReportRequest is the body of POST /reports.
type CreateReportRequest struct {
	PropertyID     uint64       `json:"property_id" validate:"required"`
	ReportType     string       `json:"report_type" validate:"required,max=256"`
	ContentPointer string       `json:"content_pointer" validate:"required,max=256"`
	Author         string       `json:"author" validate:"required"`
	Owner          string       `json:"owner" validate:"required"`
	Price          AmountFields `json:"price"`

	draft models.ReportDraft
}

func (r *CreateReportRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	author, err := id.ParsePrincipalID(r.Author)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "author: "+dErrors.MessageOf(err))
	}
	owner, err := id.ParsePrincipalID(r.Owner)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "owner: "+dErrors.MessageOf(err))
	}
	price, err := r.Price.parse("price")
	if err != nil {
		return err
	}
	draft, err := models.ReportDraft{
		PropertyID:     id.PropertyID(r.PropertyID),
		ReportType:     r.ReportType,
		ContentPointer: r.ContentPointer,
		Author:         author,
		Owner:          owner,
		Price:          price,
	}.Normalize()
	if err != nil {
		return err
	}
	r.draft = draft
	return nil
}

func (r *CreateReportRequest) Draft() models.ReportDraft {
	return r.draft
}

// PurchaseRequest is the body of POST /reports/{id}/purchase.
type PurchaseRequest struct {
	AmountFields

	amount id.Amount
}

func (r *PurchaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	amount, err := r.parse("amount")
	if err != nil {
		return err
	}
	r.amount = amount
	return nil
}

func (r *PurchaseRequest) Amount() id.Amount {
	return r.amount
}

// DistributionRequest is the body of PUT /parameters/distribution.
type DistributionRequest struct {
	DAO    *int `json:"dao_share_percentage" validate:"required"`
	Author *int `json:"author_share_percentage" validate:"required"`
	Owner  *int `json:"owner_share_percentage" validate:"required"`
}

func (r *DistributionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// MinimumPriceRequest is the body of PUT /parameters/minimum-price.
type MinimumPriceRequest struct {
	AmountFields

	amount id.Amount
}

func (r *MinimumPriceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	amount, err := r.parse("amount")
	if err != nil {
		return err
	}
	r.amount = amount
	return nil
}

func (r *MinimumPriceRequest) Amount() id.Amount {
	return r.amount
}

// VerificationRequiredRequest is the body of PUT /parameters/verification-required.
type VerificationRequiredRequest struct {
	Required *bool `json:"required" validate:"required"`
}

func (r *VerificationRequiredRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}
