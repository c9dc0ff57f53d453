// Package chain models the execution environment's native balances. It is the
// only place value moves, and it is where control passes from a sender to a
// receiving program.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models/events"
)

// DefaultMaxCallDepth bounds nested Calls.
const DefaultMaxCallDepth = 1024

var (
	ErrInvalidAmount       = errors.New("amount must be a positive whole number")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCallDepthExceeded   = errors.New("call depth exceeded")
	ErrSelfTransfer        = errors.New("sender and recipient are the same identity")
)

type depthKey struct{}

// Depth reports how many Calls are on the stack for ctx.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

type (
	// An Option configures a Chain.
	Option func(*Chain)

	// Chain holds the held balance of every identity.
	Chain struct {
		store     interfaces.LedgerStore
		publisher interfaces.EventPublisher
		topic     string
		logger    *zap.Logger
		maxDepth  int
		now       func() time.Time

		mu        sync.Mutex
		balances  map[models.Identity]decimal.Decimal
		receivers map[models.Identity]interfaces.Receiver
	}
)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(c *Chain) { c.publisher = p }
}

// WithEventTopic overrides the topic transfer events are published on.
func WithEventTopic(topic string) Option {
	return func(c *Chain) { c.topic = topic }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

func WithMaxCallDepth(n int) Option {
	return func(c *Chain) { c.maxDepth = n }
}

// New creates an empty chain journaling into store.
func New(store interfaces.LedgerStore, opts ...Option) *Chain {
	c := &Chain{
		store:     store,
		topic:     events.TopicTransferCompleted,
		logger:    zap.NewNop(),
		maxDepth:  DefaultMaxCallDepth,
		now:       func() time.Time { return time.Now().UTC() },
		balances:  make(map[models.Identity]decimal.Decimal),
		receivers: make(map[models.Identity]interfaces.Receiver),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("chain")
	return c
}

// Register makes r the program that receives value sent to id via Call.
func (c *Chain) Register(id models.Identity, r interfaces.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers[id] = r
}

// BalanceOf returns the held balance of id.
func (c *Chain) BalanceOf(id models.Identity) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[id]
}

// JournalBalance recomputes the balance of id from the ledger store.
func (c *Chain) JournalBalance(id models.Identity) (decimal.Decimal, error) {
	entries, err := c.store.GetEntriesByAccount(id)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(entry.Amount)
	}
	return balance, nil
}

// Mint credits amount to the held balance of to.
func (c *Chain) Mint(ctx context.Context, to models.Identity, amount decimal.Decimal) error {
	return c.move(ctx, models.TransferMint, models.Genesis, to, amount)
}

// Transfer moves amount from one held balance to another without notifying
// the recipient.
func (c *Chain) Transfer(ctx context.Context, from, to models.Identity, amount decimal.Decimal) error {
	return c.move(ctx, models.TransferPlain, from, to, amount)
}

// Call moves amount like Transfer and then, if to has a registered receiver,
// runs its hook before returning. The hook runs without any chain lock held
// and may issue further Calls.
func (c *Chain) Call(ctx context.Context, from, to models.Identity, amount decimal.Decimal) error {
	depth := Depth(ctx) + 1
	if depth > c.maxDepth {
		return fmt.Errorf("%w: %d", ErrCallDepthExceeded, depth)
	}
	if err := c.move(ctx, models.TransferCall, from, to, amount); err != nil {
		return err
	}

	c.mu.Lock()
	r, ok := c.receivers[to]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	r.Receive(context.WithValue(ctx, depthKey{}, depth), from, amount)
	return nil
}

func (c *Chain) move(ctx context.Context, kind models.TransferKind, from, to models.Identity, amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from)
	}

	tr, err := c.commit(ctx, kind, from, to, amount)
	if err != nil {
		return err
	}

	c.logger.Debug("value moved",
		zap.String("kind", string(kind)),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("amount", amount),
		zap.Int("depth", tr.Depth))

	if c.publisher != nil {
		event := events.TransferCompleted{
			TransferID:  tr.ID,
			Kind:        string(kind),
			FromAccount: from.String(),
			ToAccount:   to.String(),
			Amount:      amount,
			Depth:       tr.Depth,
			OccurredAt:  tr.CreatedAt,
		}
		// the transfer is final once journaled
		if err := c.publisher.Publish(ctx, c.topic, event); err != nil {
			c.logger.Warn("failed to publish transfer event", zap.String("transfer", tr.ID), zap.Error(err))
		}
	}
	return nil
}

// commit checks the sender's balance, journals the transfer and applies it
// under the chain lock.
func (c *Chain) commit(ctx context.Context, kind models.TransferKind, from, to models.Identity, amount decimal.Decimal) (models.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind != models.TransferMint {
		if have := c.balances[from]; have.LessThan(amount) {
			return models.Transfer{}, fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, have, amount)
		}
	}

	tr := models.Transfer{
		ID:          uuid.New().String(),
		Kind:        kind,
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Depth:       Depth(ctx),
		CreatedAt:   c.now(),
	}
	debit := models.LedgerEntry{
		ID:         tr.ID + "-debit",
		TransferID: tr.ID,
		AccountID:  from,
		Amount:     amount.Neg(),
		CreatedAt:  tr.CreatedAt,
	}
	credit := models.LedgerEntry{
		ID:         tr.ID + "-credit",
		TransferID: tr.ID,
		AccountID:  to,
		Amount:     amount,
		CreatedAt:  tr.CreatedAt,
	}
	if err := c.store.SaveTransfer(ctx, tr, debit, credit); err != nil {
		return models.Transfer{}, fmt.Errorf("failed to journal transfer: %w", err)
	}

	if kind != models.TransferMint {
		c.balances[from] = c.balances[from].Sub(amount)
	}
	c.balances[to] = c.balances[to].Add(amount)
	return tr, nil
}
