package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/logging"
)

var (
	adapter = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	owner   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type flakyReader struct {
	chain.Reader
	fail bool
}

func (r *flakyReader) BalanceOf(ctx context.Context, o common.Address) (*uint256.Int, error) {
	if r.fail {
		return nil, errors.New("rpc unavailable")
	}
	return r.Reader.BalanceOf(ctx, o)
}

func TestCacheUnknownUntilRefreshed(t *testing.T) {
	led := chain.NewSimulated(adapter)
	c := NewCache(led, adapter, logging.Discard(), nil)
	c.Bind(&owner)

	for _, f := range Fields {
		v, ok := c.Get(f)
		require.False(t, ok, f.String())
		require.Nil(t, v)
		require.True(t, c.AsOf(f).IsZero())
	}

	require.True(t, c.RefreshAll(context.Background()))
	for _, f := range Fields {
		v, ok := c.Get(f)
		require.True(t, ok, f.String())
		require.True(t, v.IsZero(), "known zero must be distinct from unknown")
	}
}

func TestCacheRefreshReplacesValue(t *testing.T) {
	led := chain.NewSimulated(adapter)
	chain.SeedBalance(led, owner, uint256.NewInt(1_000))
	chain.SeedPosition(led, owner, uint256.NewInt(200))
	chain.SeedAllowance(led, owner, adapter, uint256.NewInt(50))
	c := NewCache(led, adapter, logging.Discard(), nil)
	c.Bind(&owner)

	require.True(t, c.RefreshAll(context.Background()))
	snap := c.Snapshot()
	require.Equal(t, uint256.NewInt(1_000), snap.WalletBalance)
	require.Equal(t, uint256.NewInt(50), snap.Allowance)
	require.Equal(t, uint256.NewInt(200), snap.StakedPosition)
	require.Equal(t, uint256.NewInt(200), snap.TotalStaked)

	chain.SeedBalance(led, owner, uint256.NewInt(7))
	v, _ := c.Get(WalletBalance)
	require.Equal(t, uint256.NewInt(1_000), v, "reads must not hit the ledger")

	fresh, ok := c.Fetch(context.Background(), WalletBalance)
	require.True(t, ok)
	require.Equal(t, uint256.NewInt(7), fresh)
}

func TestCacheKeepsPreviousValueOnFailure(t *testing.T) {
	led := chain.NewSimulated(adapter)
	chain.SeedBalance(led, owner, uint256.NewInt(10))
	reader := &flakyReader{Reader: led}
	c := NewCache(reader, adapter, logging.Discard(), nil)
	c.Bind(&owner)

	require.True(t, c.Refresh(context.Background(), WalletBalance))
	reader.fail = true
	chain.SeedBalance(led, owner, uint256.NewInt(99))

	require.False(t, c.Refresh(context.Background(), WalletBalance))
	v, ok := c.Get(WalletBalance)
	require.True(t, ok)
	require.Equal(t, uint256.NewInt(10), v)

	require.False(t, c.RefreshAll(context.Background()), "one failed field fails the batch")
	_, ok = c.Get(Allowance)
	require.True(t, ok, "other fields still refresh")
}

func TestCacheUnboundOnlyKnowsTotal(t *testing.T) {
	led := chain.NewSimulated(adapter)
	c := NewCache(led, adapter, logging.Discard(), nil)

	require.False(t, c.Refresh(context.Background(), WalletBalance))
	require.True(t, c.Refresh(context.Background(), TotalStaked))

	c.Bind(&owner)
	require.True(t, c.Refresh(context.Background(), WalletBalance))
	c.Bind(nil)
	_, ok := c.Get(WalletBalance)
	require.False(t, ok, "unbinding forgets cached values")
}

type gatedReader struct {
	chain.Reader
	entered chan struct{}
	release chan struct{}
}

func (r *gatedReader) BalanceOf(ctx context.Context, o common.Address) (*uint256.Int, error) {
	close(r.entered)
	<-r.release
	return r.Reader.BalanceOf(ctx, o)
}

func TestCacheDropsReadStartedBeforeRebind(t *testing.T) {
	led := chain.NewSimulated(adapter)
	chain.SeedBalance(led, owner, uint256.NewInt(10))
	reader := &gatedReader{Reader: led, entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(reader, adapter, logging.Discard(), nil)
	c.Bind(&owner)

	type result struct {
		v  *uint256.Int
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		v, ok := c.Fetch(context.Background(), WalletBalance)
		done <- result{v, ok}
	}()

	<-reader.entered
	other := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	c.Bind(&other)
	close(reader.release)

	res := <-done
	require.False(t, res.ok)
	require.Nil(t, res.v)
	_, known := c.Get(WalletBalance)
	require.False(t, known, "a read for the previous owner must not land after a rebind")
}
