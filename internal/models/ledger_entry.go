package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry represents a single journal record for an account
type LedgerEntry struct {
	ID         string          // unique identifier
	TransferID string          // transfer this entry belongs to
	AccountID  Identity        // which account this entry belongs to
	Amount     decimal.Decimal // in smallest units (positive or negative)
	CreatedAt  time.Time
}
