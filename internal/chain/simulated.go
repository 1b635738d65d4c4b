package chain

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// staleAllowance hides a freshly approved allowance from the next reads.
type staleAllowance struct {
	value     *uint256.Int
	remaining int
}

// SimulatedOption tunes a Simulated ledger.
type SimulatedOption func(*Simulated)

// WithReceiptDelay delays the resolution of every write call.
func WithReceiptDelay(d time.Duration) SimulatedOption {
	return func(s *Simulated) { s.receiptDelay = d }
}

// WithAllowanceLag makes the first n allowance reads after an approve confirms
// still return the previous value, mimicking a lagging read replica.
func WithAllowanceLag(n int) SimulatedOption {
	return func(s *Simulated) { s.allowanceLag = n }
}

// Simulated is a concurrency-safe in-process ledger with ERC20 allowance
// semantics and a staking adapter. It is used in development and tests.
type Simulated struct {
	mu           sync.RWMutex
	adapter      common.Address
	balances     map[common.Address]*uint256.Int
	allowances   map[allowanceKey]*uint256.Int
	stale        map[allowanceKey]*staleAllowance
	positions    map[common.Address]*uint256.Int
	total        *uint256.Int
	writes       map[Kind]int
	rejectNext   map[Kind]error
	nonce        uint64
	block        uint64
	receiptDelay time.Duration
	allowanceLag int
}

// NewSimulated creates a simulated ledger whose staking adapter lives at adapter.
func NewSimulated(adapter common.Address, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		adapter:    adapter,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		stale:      make(map[allowanceKey]*staleAllowance),
		positions:  make(map[common.Address]*uint256.Int),
		total:      new(uint256.Int),
		writes:     make(map[Kind]int),
		rejectNext: make(map[Kind]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Spender() common.Address { return s.adapter }

func (s *Simulated) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return valueOf(s.balances[owner]), nil
}

func (s *Simulated) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := allowanceKey{owner: owner, spender: spender}
	if st, ok := s.stale[key]; ok {
		st.remaining--
		if st.remaining <= 0 {
			delete(s.stale, key)
		}
		return valueOf(st.value), nil
	}
	return valueOf(s.allowances[key]), nil
}

func (s *Simulated) PositionOf(_ context.Context, user common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return valueOf(s.positions[user]), nil
}

func (s *Simulated) TotalPosition(context.Context) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return valueOf(s.total), nil
}

func (s *Simulated) Approve(_ context.Context, from, spender common.Address, amount *uint256.Int) (Pending, error) {
	return s.submit(KindApprove, amount, func() error {
		key := allowanceKey{owner: from, spender: spender}
		if s.allowanceLag > 0 {
			s.stale[key] = &staleAllowance{value: valueOf(s.allowances[key]), remaining: s.allowanceLag}
		}
		s.allowances[key] = valueOf(amount)
		return nil
	})
}

func (s *Simulated) Deposit(_ context.Context, from common.Address, amount *uint256.Int) (Pending, error) {
	return s.submit(KindDeposit, amount, func() error {
		key := allowanceKey{owner: from, spender: s.adapter}
		allowance := valueOf(s.allowances[key])
		if allowance.Lt(amount) {
			return ErrInsufficientAllowance
		}
		balance := valueOf(s.balances[from])
		if balance.Lt(amount) {
			return ErrInsufficientFunds
		}

		s.allowances[key] = new(uint256.Int).Sub(allowance, amount)
		s.balances[from] = new(uint256.Int).Sub(balance, amount)
		s.balances[s.adapter] = new(uint256.Int).Add(valueOf(s.balances[s.adapter]), amount)
		s.positions[from] = new(uint256.Int).Add(valueOf(s.positions[from]), amount)
		s.total = new(uint256.Int).Add(s.total, amount)
		return nil
	})
}

func (s *Simulated) Withdraw(_ context.Context, from common.Address, amount *uint256.Int) (Pending, error) {
	return s.submit(KindWithdraw, amount, func() error {
		position := valueOf(s.positions[from])
		if position.Lt(amount) {
			return ErrInsufficientFunds
		}

		s.positions[from] = new(uint256.Int).Sub(position, amount)
		s.total = new(uint256.Int).Sub(s.total, amount)
		s.balances[s.adapter] = new(uint256.Int).Sub(valueOf(s.balances[s.adapter]), amount)
		s.balances[from] = new(uint256.Int).Add(valueOf(s.balances[from]), amount)
		return nil
	})
}

// Writes reports how many write calls of kind were accepted for submission.
func (s *Simulated) Writes(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[kind]
}

// RejectNext makes the next write call of kind fail at submission with err,
// as when the wallet holder declines to sign.
func (s *Simulated) RejectNext(kind Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext[kind] = err
}

func (s *Simulated) submit(kind Kind, amount *uint256.Int, apply func() error) (Pending, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	if err, ok := s.rejectNext[kind]; ok {
		delete(s.rejectNext, kind)
		s.mu.Unlock()
		return nil, err
	}
	s.writes[kind]++
	s.nonce++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], s.nonce)
	copy(buf[8:], kind)
	hash := crypto.Keccak256Hash(s.adapter.Bytes(), buf[:])
	s.mu.Unlock()

	p := &simulatedPending{hash: hash, done: make(chan struct{})}
	execute := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.block++
		p.receipt = Receipt{Hash: hash, Status: StatusConfirmed, BlockNumber: s.block}
		if err := apply(); err != nil {
			p.receipt.Status = StatusFailed
		}
		close(p.done)
	}

	if s.receiptDelay <= 0 {
		execute()
		return p, nil
	}
	time.AfterFunc(s.receiptDelay, execute)
	return p, nil
}

type simulatedPending struct {
	hash    common.Hash
	done    chan struct{}
	receipt Receipt
}

func (p *simulatedPending) Hash() common.Hash { return p.hash }

func (p *simulatedPending) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{Hash: p.hash, Status: StatusPending}, ctx.Err()
	case <-p.done:
	}
	if p.receipt.Status == StatusFailed {
		return p.receipt, ErrReverted
	}
	return p.receipt, nil
}

func valueOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
