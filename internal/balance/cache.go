package balance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/metrics"
)

// Field names one mirrored ledger value.
type Field int

const (
	WalletBalance Field = iota
	Allowance
	StakedPosition
	TotalStaked
)

// Fields lists every cached field in display order.
var Fields = []Field{WalletBalance, Allowance, StakedPosition, TotalStaked}

func (f Field) String() string {
	switch f {
	case WalletBalance:
		return "wallet_balance"
	case Allowance:
		return "allowance"
	case StakedPosition:
		return "staked_position"
	case TotalStaked:
		return "total_staked"
	default:
		return "unknown"
	}
}

var errNoOwner = errors.New("no account bound")

type entry struct {
	value *uint256.Int
	asOf  time.Time
}

// binding is replaced on every Bind so in-flight reads can detect a rebind
// by pointer identity.
type binding struct {
	owner common.Address
	set   bool
}

// Cache mirrors the four ledger reads for the bound account. Reads never touch
// the network; a field that has not been refreshed yet is unknown, which is
// distinct from zero. Each field is replaced atomically.
type Cache struct {
	reader  chain.Reader
	spender common.Address
	logger  *slog.Logger
	metrics *metrics.Recorder

	// mu orders Bind against the rebind check and store in Fetch.
	mu     sync.Mutex
	bound  atomic.Pointer[binding]
	fields [4]atomic.Pointer[entry]
}

// NewCache builds a cache reading from reader. spender is the adapter whose
// allowance is mirrored.
func NewCache(reader chain.Reader, spender common.Address, logger *slog.Logger, rec *metrics.Recorder) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{reader: reader, spender: spender, logger: logger, metrics: rec}
	c.bound.Store(&binding{})
	return c
}

// Bind points the cache at owner and forgets every cached value. A nil owner
// unbinds it.
func (c *Cache) Bind(owner *common.Address) {
	b := &binding{}
	if owner != nil {
		b.owner, b.set = *owner, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound.Store(b)
	for i := range c.fields {
		c.fields[i].Store(nil)
	}
}

// Get returns a copy of the cached value and whether it is known.
func (c *Cache) Get(f Field) (*uint256.Int, bool) {
	e := c.fields[f].Load()
	if e == nil {
		return nil, false
	}
	return new(uint256.Int).Set(e.value), true
}

// AsOf returns when f was last refreshed; zero if unknown.
func (c *Cache) AsOf(f Field) time.Time {
	if e := c.fields[f].Load(); e != nil {
		return e.asOf
	}
	return time.Time{}
}

// Snapshot is a point-in-time copy of every field. Nil means unknown.
type Snapshot struct {
	WalletBalance  *uint256.Int
	Allowance      *uint256.Int
	StakedPosition *uint256.Int
	TotalStaked    *uint256.Int
}

// Snapshot copies all four fields.
func (c *Cache) Snapshot() Snapshot {
	get := func(f Field) *uint256.Int {
		v, _ := c.Get(f)
		return v
	}
	return Snapshot{
		WalletBalance:  get(WalletBalance),
		Allowance:      get(Allowance),
		StakedPosition: get(StakedPosition),
		TotalStaked:    get(TotalStaked),
	}
}

// Refresh re-reads f from the ledger. On failure the previous value is kept
// and false is returned.
func (c *Cache) Refresh(ctx context.Context, f Field) bool {
	_, ok := c.Fetch(ctx, f)
	return ok
}

// Fetch is Refresh returning the freshly read value. The value is nil when
// the read failed or the cache was rebound while it was in flight.
func (c *Cache) Fetch(ctx context.Context, f Field) (*uint256.Int, bool) {
	b := c.bound.Load()

	v, err := c.read(ctx, b, f)
	if err != nil {
		c.logger.Warn("balance refresh failed", slog.String("field", f.String()), slog.Any("error", err))
		c.metrics.RefreshFailure(f.String())
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A rebind while the read was in flight makes the result stale.
	if cur := c.bound.Load(); cur != b {
		return nil, false
	}
	c.fields[f].Store(&entry{value: v, asOf: time.Now().UTC()})
	return new(uint256.Int).Set(v), true
}

// RefreshFields refreshes each of fields in turn and reports whether all
// succeeded. A failed field keeps its previous value.
func (c *Cache) RefreshFields(ctx context.Context, fields ...Field) bool {
	ok := true
	for _, f := range fields {
		if !c.Refresh(ctx, f) {
			ok = false
		}
	}
	return ok
}

// RefreshAll refreshes every field.
func (c *Cache) RefreshAll(ctx context.Context) bool {
	return c.RefreshFields(ctx, Fields...)
}

func (c *Cache) read(ctx context.Context, b *binding, f Field) (*uint256.Int, error) {
	if f == TotalStaked {
		return c.reader.TotalPosition(ctx)
	}
	if !b.set {
		return nil, errNoOwner
	}
	switch f {
	case WalletBalance:
		return c.reader.BalanceOf(ctx, b.owner)
	case Allowance:
		return c.reader.Allowance(ctx, b.owner, c.spender)
	case StakedPosition:
		return c.reader.PositionOf(ctx, b.owner)
	default:
		return nil, errors.New("unknown field")
	}
}
