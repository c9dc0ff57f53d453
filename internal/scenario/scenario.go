// Package scenario wires a vault and a drainer onto one chain and drives the
// one-shot demo: fund the vault, attack it, collect the proceeds.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/chain"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/drainer"
	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/ledger"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/storage/memory"
)

const (
	StageBeforeAttack = "BEFORE ATTACK"
	StageAfterAttack  = "AFTER ATTACK (before collect)"
	StageAfterCollect = "AFTER COLLECT"
)

var ErrUnknownIdentity = errors.New("unknown identity")

// Setup holds the amounts the world is created with.
type Setup struct {
	UserFunds     decimal.Decimal
	UserDeposit   decimal.Decimal
	AttackerFunds decimal.Decimal
}

// DefaultSetup mirrors the classic demo: the user deposits 5 units.
func DefaultSetup() Setup {
	return Setup{
		UserFunds:     decimal.NewFromInt(10),
		UserDeposit:   decimal.NewFromInt(5),
		AttackerFunds: decimal.NewFromInt(10),
	}
}

// An Option configures a World.
type Option func(*worldOptions)

type worldOptions struct {
	logger     *zap.Logger
	publisher  interfaces.EventPublisher
	topic      string
	ledgerOpts []ledger.Option
}

func WithLogger(l *zap.Logger) Option {
	return func(o *worldOptions) { o.logger = l }
}

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(o *worldOptions) { o.publisher = p }
}

func WithEventTopic(topic string) Option {
	return func(o *worldOptions) { o.topic = topic }
}

func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(o *worldOptions) { o.ledgerOpts = append(o.ledgerOpts, opts...) }
}

// World is one chain with a funded vault and a drainer deployed against it.
type World struct {
	Store   *memory.MemoryLedgerStore
	Chain   *chain.Chain
	Vault   *ledger.Ledger
	Drainer *drainer.Drainer

	Deployer models.Identity
	Attacker models.Identity // owner of the drainer
	User     models.Identity // funds the vault

	logger *zap.Logger
}

// NewWorld funds the user and the attacker, deploys the vault, lets the user
// deposit and deploys the drainer owned by the attacker.
func NewWorld(ctx context.Context, setup Setup, opts ...Option) (*World, error) {
	o := worldOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	chainOpts := []chain.Option{chain.WithLogger(o.logger)}
	if o.publisher != nil {
		chainOpts = append(chainOpts, chain.WithPublisher(o.publisher))
	}
	if o.topic != "" {
		chainOpts = append(chainOpts, chain.WithEventTopic(o.topic))
	}
	store := memory.NewMemoryLedgerStore()
	c := chain.New(store, chainOpts...)

	w := &World{
		Store:    store,
		Chain:    c,
		Deployer: models.NewIdentity(),
		Attacker: models.NewIdentity(),
		User:     models.NewIdentity(),
		logger:   o.logger.Named("scenario"),
	}

	for id, amount := range map[models.Identity]decimal.Decimal{w.User: setup.UserFunds, w.Attacker: setup.AttackerFunds} {
		if !amount.IsPositive() {
			continue
		}
		if err := c.Mint(ctx, id, amount); err != nil {
			return nil, fmt.Errorf("failed to fund %s: %w", id, err)
		}
	}

	w.Vault = ledger.New(c, append([]ledger.Option{ledger.WithLogger(o.logger)}, o.ledgerOpts...)...)
	w.logger.Info("vault deployed", zap.Stringer("vault", w.Vault.Address()), zap.Stringer("ordering", w.Vault.Ordering()))

	if setup.UserDeposit.IsPositive() {
		if err := w.Vault.Deposit(ctx, w.User, setup.UserDeposit); err != nil {
			return nil, fmt.Errorf("user deposit: %w", err)
		}
		w.logger.Info("user deposited", zap.Stringer("amount", setup.UserDeposit), zap.Stringer("pooled", w.Vault.PooledFunds()))
	}

	w.Drainer = drainer.New(c, w.Vault, w.Attacker, drainer.WithLogger(o.logger))
	w.logger.Info("drainer deployed", zap.Stringer("drainer", w.Drainer.Address()), zap.Stringer("owner", w.Drainer.Owner()))
	return w, nil
}

// Snapshot is the set of balances the demo prints at each stage.
type Snapshot struct {
	Stage           string          `json:"stage"`
	Vault           decimal.Decimal `json:"vault"`
	VaultCredited   decimal.Decimal `json:"vault_credited"`
	UserCredited    decimal.Decimal `json:"user_credited"`
	DrainerCredited decimal.Decimal `json:"drainer_credited"`
	Drainer         decimal.Decimal `json:"drainer"`
	Owner           decimal.Decimal `json:"owner"`
}

func (w *World) Snapshot(stage string) Snapshot {
	return Snapshot{
		Stage:           stage,
		Vault:           w.Vault.PooledFunds(),
		VaultCredited:   w.Vault.TotalCredited(),
		UserCredited:    w.Vault.CreditedBalance(w.User),
		DrainerCredited: w.Vault.CreditedBalance(w.Drainer.Address()),
		Drainer:         w.Drainer.Held(),
		Owner:           w.Chain.BalanceOf(w.Attacker),
	}
}

// Run is the outcome of RunOneShot.
type Run struct {
	Stages []Snapshot
	Report drainer.AttackReport
	Swept  decimal.Decimal
}

// RunOneShot attacks the vault as the drainer's owner and then sweeps the
// proceeds to the owner.
func (w *World) RunOneShot(ctx context.Context, recursionLimit int, seed decimal.Decimal) (Run, error) {
	run := Run{Stages: []Snapshot{w.Snapshot(StageBeforeAttack)}}
	w.log(run.Stages[0])

	report, err := w.Drainer.Attack(ctx, w.Attacker, recursionLimit, seed)
	if err != nil {
		return run, fmt.Errorf("attack: %w", err)
	}
	run.Report = report
	run.Stages = append(run.Stages, w.Snapshot(StageAfterAttack))
	w.log(run.Stages[1])

	swept, err := w.Drainer.WithdrawToOwner(ctx, w.Attacker)
	if err != nil {
		return run, fmt.Errorf("collect: %w", err)
	}
	run.Swept = swept
	run.Stages = append(run.Stages, w.Snapshot(StageAfterCollect))
	w.log(run.Stages[2])
	return run, nil
}

// Resolve maps a role name or a raw address to an identity.
func (w *World) Resolve(name string) (models.Identity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "deployer":
		return w.Deployer, nil
	case "attacker", "owner":
		return w.Attacker, nil
	case "user":
		return w.User, nil
	case "vault":
		return w.Vault.Address(), nil
	case "drainer":
		return w.Drainer.Address(), nil
	}
	if strings.HasPrefix(name, "0x") && len(name) > 2 {
		return models.Identity(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIdentity, name)
}

func (w *World) log(s Snapshot) {
	w.logger.Info(s.Stage,
		zap.Stringer("vault", s.Vault),
		zap.Stringer("vaultCredited", s.VaultCredited),
		zap.Stringer("drainer", s.Drainer),
		zap.Stringer("owner", s.Owner))
}
