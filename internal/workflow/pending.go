package workflow

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/stakeflow/stakeflow/internal/chain"
)

// PendingTransaction tracks one submitted write call from submission until its
// terminal state has been handled.
type PendingTransaction struct {
	ID          uuid.UUID
	Kind        chain.Kind
	Account     common.Address
	Amount      *uint256.Int
	SubmittedAt time.Time

	mu         sync.RWMutex
	state      State
	hash       common.Hash
	soft       bool
	err        error
	resolvedAt time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func newPending(kind chain.Kind, account common.Address, amount *uint256.Int) *PendingTransaction {
	return &PendingTransaction{
		ID:          uuid.New(),
		Kind:        kind,
		Account:     account,
		Amount:      new(uint256.Int).Set(amount),
		SubmittedAt: time.Now().UTC(),
		state:       StateIdle,
		done:        make(chan struct{}),
	}
}

// Done is closed once the transaction has been fully handled and its machine
// is back to Idle.
func (p *PendingTransaction) Done() <-chan struct{} { return p.done }

// Outcome is a read-only view of a PendingTransaction.
type Outcome struct {
	ID          uuid.UUID
	Kind        chain.Kind
	Account     common.Address
	Amount      *uint256.Int
	State       State
	Hash        common.Hash
	Err         error
	SubmittedAt time.Time
	ResolvedAt  time.Time

	// Soft marks an approve whose allowance never became visible within the
	// polling window.
	Soft bool
}

// Outcome returns the current view of the transaction.
func (p *PendingTransaction) Outcome() Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Outcome{
		ID:          p.ID,
		Kind:        p.Kind,
		Account:     p.Account,
		Amount:      new(uint256.Int).Set(p.Amount),
		State:       p.state,
		Hash:        p.hash,
		Soft:        p.soft,
		Err:         p.err,
		SubmittedAt: p.SubmittedAt,
		ResolvedAt:  p.resolvedAt,
	}
}

func (p *PendingTransaction) setState(s State) {
	p.mu.Lock()
	p.state = s
	if s == StateConfirmed || s == StateFailed {
		p.resolvedAt = time.Now().UTC()
	}
	p.mu.Unlock()
}

func (p *PendingTransaction) setHash(h common.Hash) {
	p.mu.Lock()
	p.hash = h
	p.mu.Unlock()
}

func (p *PendingTransaction) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *PendingTransaction) setSoft() {
	p.mu.Lock()
	p.soft = true
	p.mu.Unlock()
}

func (p *PendingTransaction) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}
