package ledger

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
	ErrInvalidAmount     = errors.New("amount must be a positive whole number")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReentrantCall     = errors.New("reentrant call")
)

// Ordering decides when Withdraw commits the caller's debit relative to the
// outbound transfer.
type Ordering int

const (
	// InteractionsFirst transfers first and debits afterwards. A receiver
	// that re-enters Withdraw during the transfer is checked against the
	// balance it held before the withdrawal.
	InteractionsFirst Ordering = iota
	// ChecksEffectsInteractions debits before transferring.
	ChecksEffectsInteractions
)

func (o Ordering) String() string {
	switch o {
	case InteractionsFirst:
		return "interactions-first"
	case ChecksEffectsInteractions:
		return "checks-effects-interactions"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// ParseOrdering is the inverse of Ordering.String. "vulnerable" and "fixed"
// are accepted as aliases.
func ParseOrdering(s string) (Ordering, error) {
	switch s {
	case "interactions-first", "vulnerable":
		return InteractionsFirst, nil
	case "checks-effects-interactions", "fixed":
		return ChecksEffectsInteractions, nil
	default:
		return 0, fmt.Errorf("unknown ordering %q", s)
	}
}

// Transferer moves held value and hands control to the recipient.
type Transferer interface {
	Transfer(ctx context.Context, from, to models.Identity, amount decimal.Decimal) error
	Call(ctx context.Context, from, to models.Identity, amount decimal.Decimal) error
	BalanceOf(id models.Identity) decimal.Decimal
}

// An Option configures a Ledger.
type Option func(*Ledger)

func WithOrdering(o Ordering) Option {
	return func(l *Ledger) { l.ordering = o }
}

// WithReentrancyGuard rejects a Withdraw by an identity that already has a
// Withdraw in flight.
func WithReentrancyGuard() Option {
	return func(l *Ledger) { l.guarded = true }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is a custodial vault. Depositors are credited with what they pay in
// and may withdraw up to their credited balance. The pooled funds are the
// vault's own held balance on the chain.
type Ledger struct {
	chain    Transferer
	address  models.Identity
	ordering Ordering
	guarded  bool
	logger   *zap.Logger

	mu       sync.Mutex // protects balances
	balances map[models.Identity]decimal.Decimal

	muMap map[models.Identity]*sync.Mutex // in-flight withdraw per account
	mapMu sync.Mutex                      // protects the muMap itself
}

// New deploys an empty vault on c at a fresh address.
func New(c Transferer, opts ...Option) *Ledger {
	l := &Ledger{
		chain:    c,
		address:  models.NewIdentity(),
		ordering: InteractionsFirst,
		logger:   zap.NewNop(),
		balances: make(map[models.Identity]decimal.Decimal),
		muMap:    make(map[models.Identity]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("ledger").With(zap.Stringer("vault", l.address), zap.Stringer("ordering", l.ordering))
	return l
}

func (l *Ledger) Address() models.Identity { return l.address }

func (l *Ledger) Ordering() Ordering { return l.ordering }

// PooledFunds is the value the vault actually holds.
func (l *Ledger) PooledFunds() decimal.Decimal {
	return l.chain.BalanceOf(l.address)
}

// CreditedBalance is what the vault believes it owes id.
func (l *Ledger) CreditedBalance(id models.Identity) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

// TotalCredited sums every credited balance. Outside a withdrawal it equals
// PooledFunds unless the vault has been drained.
func (l *Ledger) TotalCredited() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}

// Deposit moves amount from the caller's held balance into the vault and
// credits it to the caller.
func (l *Ledger) Deposit(ctx context.Context, caller models.Identity, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if err := l.chain.Transfer(ctx, caller, l.address, amount); err != nil {
		if errors.Is(err, chain.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return fmt.Errorf("deposit: %w", err)
	}
	l.credit(caller, amount)

	l.logger.Debug("deposit", zap.Stringer("caller", caller), zap.Stringer("amount", amount))
	return nil
}

// Withdraw pays amount out to the caller. Paying out hands control to the
// caller when it is a program; see Ordering for when the debit is committed.
func (l *Ledger) Withdraw(ctx context.Context, caller models.Identity, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	if l.guarded {
		accountMu := l.getAccountLock(caller)
		if !accountMu.TryLock() {
			l.logger.Info("rejected reentrant withdraw", zap.Stringer("caller", caller))
			return fmt.Errorf("%w: withdraw by %s already in flight", ErrReentrantCall, caller)
		}
		defer accountMu.Unlock()
	}

	log := l.logger.With(zap.Stringer("caller", caller), zap.Stringer("amount", amount), zap.Int("depth", chain.Depth(ctx)))
	switch l.ordering {
	case ChecksEffectsInteractions:
		if err := l.reserve(caller, amount); err != nil {
			return err
		}
		if err := l.payOut(ctx, caller, amount); err != nil {
			l.credit(caller, amount)
			return err
		}
	default:
		if credited := l.CreditedBalance(caller); amount.GreaterThan(credited) {
			return fmt.Errorf("%w: %s is credited %s, requested %s", ErrInsufficientFunds, caller, credited, amount)
		}
		if err := l.payOut(ctx, caller, amount); err != nil {
			return err
		}
		l.settle(caller, amount)
	}
	log.Debug("withdraw", zap.Stringer("credited", l.CreditedBalance(caller)), zap.Stringer("pooled", l.PooledFunds()))
	return nil
}

func (l *Ledger) payOut(ctx context.Context, to models.Identity, amount decimal.Decimal) error {
	if err := l.chain.Call(ctx, l.address, to, amount); err != nil {
		if errors.Is(err, chain.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

func (l *Ledger) getAccountLock(accountId models.Identity) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountId]; !exists {
		l.muMap[accountId] = &sync.Mutex{}
	}
	return l.muMap[accountId]
}

func (l *Ledger) credit(id models.Identity, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[id] = l.balances[id].Add(amount)
}

// reserve checks and debits the caller's credit in one step.
func (l *Ledger) reserve(id models.Identity, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	credited := l.balances[id]
	if amount.GreaterThan(credited) {
		return fmt.Errorf("%w: %s is credited %s, requested %s", ErrInsufficientFunds, id, credited, amount)
	}
	l.balances[id] = credited.Sub(amount)
	return nil
}

// settle commits a debit after the payout and floors at zero: frames
// unwinding after a nested withdrawal find the entry already emptied.
func (l *Ledger) settle(id models.Identity, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.balances[id].Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	l.balances[id] = next
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.IsInteger()
}

var _ interfaces.Vault = (*Ledger)(nil)
