package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferKind tells how value moved between two accounts.
type TransferKind string

const (
	// TransferMint funds an account from Genesis.
	TransferMint TransferKind = "mint"
	// TransferPlain moves value without notifying the recipient.
	TransferPlain TransferKind = "transfer"
	// TransferCall moves value and hands control to the recipient's receiver.
	TransferCall TransferKind = "call"
)

// Transfer represents a completed movement of native value
type Transfer struct {
	ID          string
	Kind        TransferKind
	FromAccount Identity
	ToAccount   Identity
	Amount      decimal.Decimal
	Depth       int // call depth at which the transfer happened
	CreatedAt   time.Time
}
