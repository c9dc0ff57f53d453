package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/chain"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/storage/memory"
)

func units(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type receiverFunc func(ctx context.Context, from models.Identity, amount decimal.Decimal)

func (f receiverFunc) Receive(ctx context.Context, from models.Identity, amount decimal.Decimal) {
	f(ctx, from, amount)
}

func newTestLedger(t *testing.T, opts ...Option) (*chain.Chain, *Ledger) {
	t.Helper()
	c := chain.New(memory.NewMemoryLedgerStore(), chain.WithLogger(zap.NewNop()))
	return c, New(c, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func fund(t *testing.T, c *chain.Chain, id models.Identity, n int64) {
	t.Helper()
	if err := c.Mint(context.Background(), id, units(n)); err != nil {
		t.Fatal(err)
	}
}

func TestDepositCreditsCallerAndPool(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t)
	user := models.NewIdentity()
	fund(t, c, user, 10)

	if err := l.Deposit(ctx, user, units(5)); err != nil {
		t.Fatal(err)
	}
	if got := l.CreditedBalance(user); !got.Equal(units(5)) {
		t.Fatalf("credited = %s, want 5", got)
	}
	if got := l.PooledFunds(); !got.Equal(units(5)) {
		t.Fatalf("pooled = %s, want 5", got)
	}
	if got := c.BalanceOf(user); !got.Equal(units(5)) {
		t.Fatalf("held = %s, want 5", got)
	}
}

func TestDepositRejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t)
	user := models.NewIdentity()
	fund(t, c, user, 10)

	for _, amount := range []decimal.Decimal{decimal.Zero, units(-3), decimal.RequireFromString("1.5")} {
		if err := l.Deposit(ctx, user, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Deposit(%s) = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if !l.PooledFunds().IsZero() || !l.CreditedBalance(user).IsZero() {
		t.Fatal("rejected deposits must not change state")
	}
}

func TestDepositWithoutHeldFunds(t *testing.T) {
	_, l := newTestLedger(t)
	user := models.NewIdentity()

	err := l.Deposit(context.Background(), user, units(1))
	if !errors.Is(err, ErrInsufficientFunds) || !errors.Is(err, chain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !l.CreditedBalance(user).IsZero() {
		t.Fatal("nothing should be credited")
	}
}

func TestWithdrawByPlainAccount(t *testing.T) {
	for _, ordering := range []Ordering{InteractionsFirst, ChecksEffectsInteractions} {
		t.Run(ordering.String(), func(t *testing.T) {
			ctx := context.Background()
			c, l := newTestLedger(t, WithOrdering(ordering))
			user := models.NewIdentity()
			fund(t, c, user, 10)
			_ = l.Deposit(ctx, user, units(6))

			if err := l.Withdraw(ctx, user, units(4)); err != nil {
				t.Fatal(err)
			}
			if got := l.CreditedBalance(user); !got.Equal(units(2)) {
				t.Fatalf("credited = %s, want 2", got)
			}
			if got := l.PooledFunds(); !got.Equal(units(2)) {
				t.Fatalf("pooled = %s, want 2", got)
			}
			if got := c.BalanceOf(user); !got.Equal(units(8)) {
				t.Fatalf("held = %s, want 8", got)
			}

			if err := l.Withdraw(ctx, user, units(3)); !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("overdraw = %v, want ErrInsufficientFunds", err)
			}
			if err := l.Withdraw(ctx, user, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("zero withdraw = %v, want ErrInvalidAmount", err)
			}
			if got := l.CreditedBalance(user); !got.Equal(units(2)) {
				t.Fatalf("failed withdraws changed credited to %s", got)
			}
		})
	}
}

func TestZeroBalanceEntryPersists(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t)
	user := models.NewIdentity()
	fund(t, c, user, 1)
	_ = l.Deposit(ctx, user, units(1))
	_ = l.Withdraw(ctx, user, units(1))

	l.mu.Lock()
	got, ok := l.balances[user]
	l.mu.Unlock()
	if !ok || !got.IsZero() {
		t.Fatalf("expected a zero entry, got %s (present=%v)", got, ok)
	}
}

// reenterOnce installs a receiver at id that withdraws amount again the first
// time it is paid, and returns a pointer to the nested call's result.
func reenterOnce(c *chain.Chain, l *Ledger, id models.Identity, amount decimal.Decimal) (*error, *decimal.Decimal) {
	var nestedErr error
	var seen decimal.Decimal
	done := false
	c.Register(id, receiverFunc(func(ctx context.Context, from models.Identity, _ decimal.Decimal) {
		if done || from != l.Address() {
			return
		}
		done = true
		seen = l.CreditedBalance(id)
		nestedErr = l.Withdraw(ctx, id, amount)
	}))
	return &nestedErr, &seen
}

func TestInteractionsFirstExposesStaleBalance(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t)
	user, program := models.NewIdentity(), models.NewIdentity()
	fund(t, c, user, 5)
	fund(t, c, program, 1)
	_ = l.Deposit(ctx, user, units(5))
	_ = l.Deposit(ctx, program, units(1))

	nestedErr, seen := reenterOnce(c, l, program, units(1))
	if err := l.Withdraw(ctx, program, units(1)); err != nil {
		t.Fatal(err)
	}
	if *nestedErr != nil {
		t.Fatalf("nested withdraw failed: %v", *nestedErr)
	}
	if !seen.Equal(units(1)) {
		t.Fatalf("hook saw credited %s, want the undecremented 1", seen)
	}
	if got := c.BalanceOf(program); !got.Equal(units(2)) {
		t.Fatalf("program holds %s, want 2", got)
	}
	if got := l.CreditedBalance(program); !got.IsZero() {
		t.Fatalf("credited = %s, want 0", got)
	}
	if got := l.PooledFunds(); !got.Equal(units(4)) {
		t.Fatalf("pooled = %s, want 4", got)
	}
	// the user is still credited 5 against a pool of 4
	if got := l.TotalCredited(); !got.Equal(units(5)) {
		t.Fatalf("total credited = %s, want 5", got)
	}
}

func TestChecksEffectsInteractionsRejectsReentry(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t, WithOrdering(ChecksEffectsInteractions))
	user, program := models.NewIdentity(), models.NewIdentity()
	fund(t, c, user, 5)
	fund(t, c, program, 1)
	_ = l.Deposit(ctx, user, units(5))
	_ = l.Deposit(ctx, program, units(1))

	nestedErr, seen := reenterOnce(c, l, program, units(1))
	if err := l.Withdraw(ctx, program, units(1)); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(*nestedErr, ErrInsufficientFunds) {
		t.Fatalf("nested withdraw = %v, want ErrInsufficientFunds", *nestedErr)
	}
	if !seen.IsZero() {
		t.Fatalf("hook saw credited %s, want 0", seen)
	}
	if got := c.BalanceOf(program); !got.Equal(units(1)) {
		t.Fatalf("program holds %s, want 1", got)
	}
	if !l.TotalCredited().Equal(l.PooledFunds()) {
		t.Fatalf("total credited %s != pooled %s", l.TotalCredited(), l.PooledFunds())
	}
}

func TestReentrancyGuardRejectsNestedWithdraw(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t, WithReentrancyGuard())
	user, program := models.NewIdentity(), models.NewIdentity()
	fund(t, c, user, 5)
	fund(t, c, program, 1)
	_ = l.Deposit(ctx, user, units(5))
	_ = l.Deposit(ctx, program, units(1))

	nestedErr, _ := reenterOnce(c, l, program, units(1))
	if err := l.Withdraw(ctx, program, units(1)); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(*nestedErr, ErrReentrantCall) {
		t.Fatalf("nested withdraw = %v, want ErrReentrantCall", *nestedErr)
	}
	if got := c.BalanceOf(program); !got.Equal(units(1)) {
		t.Fatalf("program holds %s, want 1", got)
	}

	// the guard is released once the outer call returns
	if err := l.Withdraw(ctx, user, units(5)); err != nil {
		t.Fatalf("later withdraw failed: %v", err)
	}
}

func TestWithdrawFromEmptyPoolLeavesCreditUntouched(t *testing.T) {
	for _, ordering := range []Ordering{InteractionsFirst, ChecksEffectsInteractions} {
		t.Run(ordering.String(), func(t *testing.T) {
			ctx := context.Background()
			c, l := newTestLedger(t, WithOrdering(ordering))
			user, program := models.NewIdentity(), models.NewIdentity()
			fund(t, c, user, 2)
			fund(t, c, program, 2)
			_ = l.Deposit(ctx, user, units(2))
			_ = l.Deposit(ctx, program, units(2))

			// the program drains the pool by re-entering with its stale balance
			reenterOnce(c, l, program, units(2))
			_ = l.Withdraw(ctx, program, units(2))

			if ordering == ChecksEffectsInteractions {
				if got := l.PooledFunds(); !got.Equal(units(2)) {
					t.Fatalf("pooled = %s, want 2", got)
				}
				return
			}

			if !l.PooledFunds().IsZero() {
				t.Fatalf("pooled = %s, want 0", l.PooledFunds())
			}
			err := l.Withdraw(ctx, user, units(2))
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("withdraw from empty pool = %v, want ErrInsufficientFunds", err)
			}
			if got := l.CreditedBalance(user); !got.Equal(units(2)) {
				t.Fatalf("credited = %s, want the unbacked 2", got)
			}
		})
	}
}

func TestParseOrdering(t *testing.T) {
	tests := []struct {
		in      string
		want    Ordering
		wantErr bool
	}{
		{"vulnerable", InteractionsFirst, false},
		{"interactions-first", InteractionsFirst, false},
		{"fixed", ChecksEffectsInteractions, false},
		{"checks-effects-interactions", ChecksEffectsInteractions, false},
		{"sideways", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseOrdering(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseOrdering(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseOrdering(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if err == nil && got.String() != tt.in && tt.in != "vulnerable" && tt.in != "fixed" {
			t.Fatalf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestVaultCannotDepositToItself(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t)
	user := models.NewIdentity()
	fund(t, c, user, 5)
	if err := l.Deposit(ctx, user, units(5)); err != nil {
		t.Fatal(err)
	}

	if err := l.Deposit(ctx, l.Address(), units(5)); !errors.Is(err, chain.ErrSelfTransfer) {
		t.Fatalf("self deposit = %v, want %v", err, chain.ErrSelfTransfer)
	}
	if got := l.CreditedBalance(l.Address()); !got.IsZero() {
		t.Fatalf("vault credited itself %s", got)
	}
	if got, pooled := l.TotalCredited(), l.PooledFunds(); !got.Equal(pooled) {
		t.Fatalf("total credited %s exceeds pooled %s", got, pooled)
	}
}

func TestChecksEffectsInteractionsConcurrentWithdrawals(t *testing.T) {
	ctx := context.Background()
	c, l := newTestLedger(t, WithOrdering(ChecksEffectsInteractions))
	user := models.NewIdentity()
	fund(t, c, user, 5)
	if err := l.Deposit(ctx, user, units(5)); err != nil {
		t.Fatal(err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		paid     int
		rejected int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Withdraw(ctx, user, units(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if paid != 5 || rejected != 7 {
		t.Fatalf("paid %d rejected %d, want 5 and 7", paid, rejected)
	}
	if got := l.CreditedBalance(user); !got.IsZero() {
		t.Fatalf("credited = %s, want 0", got)
	}
	if got := c.BalanceOf(user); !got.Equal(units(5)) {
		t.Fatalf("held = %s, want 5", got)
	}
}

func TestReserveRejectsOverdraft(t *testing.T) {
	_, l := newTestLedger(t, WithOrdering(ChecksEffectsInteractions))
	user := models.NewIdentity()
	l.credit(user, units(2))

	if err := l.reserve(user, units(3)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("reserve(3) = %v, want %v", err, ErrInsufficientFunds)
	}
	if got := l.CreditedBalance(user); !got.Equal(units(2)) {
		t.Fatalf("credited = %s, want 2", got)
	}
}
