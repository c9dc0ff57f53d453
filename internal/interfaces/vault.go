package interfaces

import (
	"context"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/shopspring/decimal"
)

// Vault is the surface a custodial ledger exposes to its depositors.
type Vault interface {
	Address() models.Identity
	Deposit(ctx context.Context, caller models.Identity, amount decimal.Decimal) error
	Withdraw(ctx context.Context, caller models.Identity, amount decimal.Decimal) error
	PooledFunds() decimal.Decimal
	CreditedBalance(id models.Identity) decimal.Decimal
}
