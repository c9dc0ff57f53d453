package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicTransferCompleted is the default topic transfer events are published on.
const TopicTransferCompleted = "transfer_completed"

type TransferCompleted struct {
	TransferID  string          `json:"transfer_id"`
	Kind        string          `json:"kind"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Depth       int             `json:"depth"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
