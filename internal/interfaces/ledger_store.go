package interfaces

import (
	"context"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
)

// LedgerStore journals every value movement as a transfer plus its
// debit and credit entries.
type LedgerStore interface {
	SaveTransfer(ctx context.Context, transfer models.Transfer, debit, credit models.LedgerEntry) error
	GetEntriesByAccount(accountId models.Identity) ([]models.LedgerEntry, error)
	GetLedgerEntries() ([]models.LedgerEntry, error)
	GetTransfers() ([]models.Transfer, error)
}
