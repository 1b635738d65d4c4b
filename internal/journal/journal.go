package journal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/stakeflow/stakeflow/internal/chain"
)

// ErrNotFound is returned when updating an entry that was never recorded.
var ErrNotFound = errors.New("journal entry not found")

// Entry is the durable record of one PendingTransaction.
type Entry struct {
	ID          uuid.UUID
	Kind        chain.Kind
	Account     common.Address
	Amount      *uint256.Int
	Hash        common.Hash
	State       string
	Error       string
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// Journal records the lifecycle of write calls.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Update(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type inMemoryJournal struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewInMemory creates a concurrency-safe in-memory journal useful for development and tests.
func NewInMemory() Journal {
	return &inMemoryJournal{entries: make(map[uuid.UUID]Entry)}
}

func (j *inMemoryJournal) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.ID] = e
	return nil
}

func (j *inMemoryJournal) Update(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[e.ID]; !ok {
		return ErrNotFound
	}
	j.entries[e.ID] = e
	return nil
}

func (j *inMemoryJournal) Recent(_ context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SubmittedAt.After(out[b].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
