package models

import (
	"fmt"

	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// Distribution is the three-way payment split in whole percent.
//
// Invariant: DAO + Author + Owner == 100.
type Distribution struct {
	DAO    uint8 `json:"dao_share_percentage"`
	Author uint8 `json:"author_share_percentage"`
	Owner  uint8 `json:"owner_share_percentage"`
}

// NewDistribution validates a percentage triple.
func NewDistribution(dao, author, owner int) (Distribution, error) {
	for _, pct := range []int{dao, author, owner} {
		if pct < 0 || pct > 100 {
			return Distribution{}, dErrors.New(dErrors.CodeInvalidDistribution, "share percentages must be between 0 and 100")
		}
	}
	if dao+author+owner != 100 {
		return Distribution{}, dErrors.New(dErrors.CodeInvalidDistribution,
			fmt.Sprintf("share percentages must sum to 100, got %d", dao+author+owner))
	}
	return Distribution{DAO: uint8(dao), Author: uint8(author), Owner: uint8(owner)}, nil
}

// Parameters are the governance-settable knobs of the registry.
type Parameters struct {
	Distribution
	MinimumReportPrice   id.Amount `json:"minimum_report_price_wei"`
	VerificationRequired bool      `json:"verification_required"`
}

// AcceptsPrice reports whether price meets the minimum report price.
func (p *Parameters) AcceptsPrice(price id.Amount) bool {
	return price.Cmp(p.MinimumReportPrice) >= 0
}

// DefaultParameters returns the genesis parameters: a 10/70/20 split, no
// minimum price and no verification gate.
func DefaultParameters() Parameters {
	return Parameters{
		Distribution: Distribution{DAO: 10, Author: 70, Owner: 20},
	}
}

// Genesis is the initial state a ledger is bootstrapped with.
type Genesis struct {
	Principals Principals
	Parameters Parameters
}

// NewGenesis validates the genesis principals.
func NewGenesis(admin, owner id.PrincipalID, params Parameters) (Genesis, error) {
	if admin.IsNil() || owner.IsNil() {
		return Genesis{}, dErrors.New(dErrors.CodeInvariantViolation, "genesis admin and owner are required")
	}
	if _, err := NewDistribution(int(params.DAO), int(params.Author), int(params.Owner)); err != nil {
		return Genesis{}, err
	}
	return Genesis{
		Principals: Principals{Admin: admin, Owner: owner},
		Parameters: params,
	}, nil
}
