package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	adapterAddr = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	aliceAddr   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func units(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000))
}

func mustWait(t *testing.T, p Pending) Receipt {
	t.Helper()
	r, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return r
}

func TestSimulated_DepositMovesFundsIntoPosition(t *testing.T) {
	l := NewSimulated(adapterAddr)
	ctx := context.Background()
	SeedBalance(l, aliceAddr, units(1_000))

	p, err := l.Approve(ctx, aliceAddr, adapterAddr, units(500))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r := mustWait(t, p); r.Status != StatusConfirmed {
		t.Fatalf("unexpected approve status: %s", r.Status)
	}

	p, err = l.Deposit(ctx, aliceAddr, units(500))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	mustWait(t, p)

	bal, _ := l.BalanceOf(ctx, aliceAddr)
	pos, _ := l.PositionOf(ctx, aliceAddr)
	total, _ := l.TotalPosition(ctx)
	allowance, _ := l.Allowance(ctx, aliceAddr, adapterAddr)

	if !bal.Eq(units(500)) {
		t.Fatalf("expected wallet balance 500, got %s", bal.Dec())
	}
	if !pos.Eq(units(500)) || !total.Eq(units(500)) {
		t.Fatalf("expected position and total 500, got %s / %s", pos.Dec(), total.Dec())
	}
	if !allowance.IsZero() {
		t.Fatalf("expected allowance to be consumed, got %s", allowance.Dec())
	}
}

func TestSimulated_DepositWithoutAllowanceReverts(t *testing.T) {
	l := NewSimulated(adapterAddr)
	ctx := context.Background()
	SeedBalance(l, aliceAddr, units(1_000))

	p, err := l.Deposit(ctx, aliceAddr, units(100))
	if err != nil {
		t.Fatalf("deposit submission: %v", err)
	}
	r, err := p.Wait(ctx)
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if r.Status != StatusFailed {
		t.Fatalf("expected failed receipt, got %s", r.Status)
	}
	if bal, _ := l.BalanceOf(ctx, aliceAddr); !bal.Eq(units(1_000)) {
		t.Fatalf("balance changed on revert: %s", bal.Dec())
	}
}

func TestSimulated_WithdrawBeyondPositionReverts(t *testing.T) {
	l := NewSimulated(adapterAddr)
	ctx := context.Background()
	SeedPosition(l, aliceAddr, units(200))

	p, err := l.Withdraw(ctx, aliceAddr, units(300))
	if err != nil {
		t.Fatalf("withdraw submission: %v", err)
	}
	if _, err := p.Wait(ctx); !errors.Is(err, ErrReverted) {
		t.Fatalf("expected revert, got %v", err)
	}

	p, err = l.Withdraw(ctx, aliceAddr, units(150))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	mustWait(t, p)
	if pos, _ := l.PositionOf(ctx, aliceAddr); !pos.Eq(units(50)) {
		t.Fatalf("expected position 50, got %s", pos.Dec())
	}
	if bal, _ := l.BalanceOf(ctx, aliceAddr); !bal.Eq(units(150)) {
		t.Fatalf("expected wallet 150, got %s", bal.Dec())
	}
}

func TestSimulated_AllowanceLag(t *testing.T) {
	l := NewSimulated(adapterAddr, WithAllowanceLag(3))
	ctx := context.Background()

	p, _ := l.Approve(ctx, aliceAddr, adapterAddr, units(10))
	mustWait(t, p)

	for i := 0; i < 3; i++ {
		a, _ := l.Allowance(ctx, aliceAddr, adapterAddr)
		if !a.IsZero() {
			t.Fatalf("read %d: expected stale zero allowance, got %s", i, a.Dec())
		}
	}
	a, _ := l.Allowance(ctx, aliceAddr, adapterAddr)
	if !a.Eq(units(10)) {
		t.Fatalf("expected allowance 10 after lag, got %s", a.Dec())
	}
}

func TestSimulated_RejectNextAndZeroAmount(t *testing.T) {
	l := NewSimulated(adapterAddr)
	ctx := context.Background()
	declined := errors.New("user rejected the request")

	l.RejectNext(KindApprove, declined)
	if _, err := l.Approve(ctx, aliceAddr, adapterAddr, units(1)); !errors.Is(err, declined) {
		t.Fatalf("expected declined, got %v", err)
	}
	if l.Writes(KindApprove) != 0 {
		t.Fatalf("rejected submission must not count as a write")
	}
	if _, err := l.Deposit(ctx, aliceAddr, new(uint256.Int)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestSimulated_ReceiptDelay(t *testing.T) {
	l := NewSimulated(adapterAddr, WithReceiptDelay(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	p, err := l.Approve(context.Background(), aliceAddr, adapterAddr, units(1))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) || r.Status != StatusPending {
		t.Fatalf("expected pending until deadline, got %s %v", r.Status, err)
	}
	mustWait(t, p)
}

func TestSimulated_ConcurrentDeposits(t *testing.T) {
	l := NewSimulated(adapterAddr)
	ctx := context.Background()
	SeedBalance(l, aliceAddr, units(100_000))
	SeedAllowance(l, aliceAddr, adapterAddr, units(100_000))

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Deposit(ctx, aliceAddr, units(500))
			if err != nil {
				t.Errorf("deposit: %v", err)
				return
			}
			if _, err := p.Wait(ctx); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, _ := l.BalanceOf(ctx, aliceAddr)
	pos, _ := l.PositionOf(ctx, aliceAddr)
	if sum := new(uint256.Int).Add(bal, pos); !sum.Eq(units(100_000)) {
		t.Fatalf("ledger not balanced after concurrency, total=%s", sum.Dec())
	}
	if l.Writes(KindDeposit) != workers {
		t.Fatalf("expected %d deposit writes, got %d", workers, l.Writes(KindDeposit))
	}
}
