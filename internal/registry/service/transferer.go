package service

import (
	"context"

	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
)

// CreditTransferer settles a share by crediting the recipient's balance in
// the same unit of work, so a failed purchase rolls the credit back too.
type CreditTransferer struct{}

func (CreditTransferer) Transfer(ctx context.Context, ledger ports.BalanceLedger, to id.PrincipalID, amount id.Amount) error {
	return ledger.Credit(ctx, to, amount)
}
