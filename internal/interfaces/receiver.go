package interfaces

import (
	"context"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/shopspring/decimal"
)

// Receiver is implemented by programs that react to incoming value. The
// chain invokes Receive synchronously, after the value has been credited and
// before the sender's call returns, so the receiver may call back into the
// sender.
type Receiver interface {
	Receive(ctx context.Context, from models.Identity, amount decimal.Decimal)
}
