package models

import (
	"fmt"
	"strings"
	"time"

	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

const maxFieldLength = 256

// PropertyFields are the descriptive, owner-editable fields of a property.
type PropertyFields struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
}

// Normalize trims whitespace and validates each field.
func (f PropertyFields) Normalize() (PropertyFields, error) {
	out := PropertyFields{
		Address: strings.TrimSpace(f.Address),
		City:    strings.TrimSpace(f.City),
		State:   strings.TrimSpace(f.State),
		Zip:     strings.TrimSpace(f.Zip),
	}
	for _, field := range []struct{ name, value string }{
		{"address", out.Address},
		{"city", out.City},
		{"state", out.State},
		{"zip", out.Zip},
	} {
		if err := requireText(field.name, field.value); err != nil {
			return PropertyFields{}, err
		}
	}
	return out, nil
}

func requireText(name, value string) error {
	if value == "" {
		return dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	if len(value) > maxFieldLength {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s must be at most %d characters", name, maxFieldLength))
	}
	return nil
}

// Property is a registered real-estate record.
//
// Invariants:
//   - ID is positive and never reused
//   - Owner is the creating principal and never changes
//   - IsVerified only moves from false to true
//   - Records are never deleted
type Property struct {
	ID         id.PropertyID  `json:"id"`
	Owner      id.PrincipalID `json:"owner"`
	IsVerified bool           `json:"is_verified"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	PropertyFields
}

// NewProperty creates a property owned by owner. Fields must already be
// normalized.
func NewProperty(propertyID id.PropertyID, owner id.PrincipalID, fields PropertyFields, now time.Time) (*Property, error) {
	if propertyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "property id must be positive")
	}
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "property owner is required")
	}
	return &Property{
		ID:             propertyID,
		Owner:          owner,
		CreatedAt:      now,
		UpdatedAt:      now,
		PropertyFields: fields,
	}, nil
}

// IsOwnedBy reports whether p is the property's owner.
func (p *Property) IsOwnedBy(principal id.PrincipalID) bool {
	return p.Owner == principal
}

// ApplyUpdate replaces the descriptive fields and bumps UpdatedAt.
func (p *Property) ApplyUpdate(fields PropertyFields, now time.Time) {
	p.PropertyFields = fields
	p.UpdatedAt = now
}

// Verify marks the property verified. It returns false when the property
// was already verified; the record is then left untouched.
func (p *Property) Verify(now time.Time) bool {
	if p.IsVerified {
		return false
	}
	p.IsVerified = true
	p.UpdatedAt = now
	return true
}
