package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SeedBalance is a test helper that sets the token balance of owner when using the simulated ledger.
func SeedBalance(l Ledger, owner common.Address, amount *uint256.Int) {
	if sim, ok := l.(*Simulated); ok {
		sim.mu.Lock()
		defer sim.mu.Unlock()
		sim.balances[owner] = valueOf(amount)
	}
}

// SeedAllowance sets the allowance owner granted to spender.
func SeedAllowance(l Ledger, owner, spender common.Address, amount *uint256.Int) {
	if sim, ok := l.(*Simulated); ok {
		sim.mu.Lock()
		defer sim.mu.Unlock()
		sim.allowances[allowanceKey{owner: owner, spender: spender}] = valueOf(amount)
	}
}

// SeedPosition sets the staked position of user and adjusts the adapter total.
func SeedPosition(l Ledger, user common.Address, amount *uint256.Int) {
	if sim, ok := l.(*Simulated); ok {
		sim.mu.Lock()
		defer sim.mu.Unlock()
		prev := valueOf(sim.positions[user])
		sim.total = new(uint256.Int).Add(new(uint256.Int).Sub(sim.total, prev), amount)
		sim.positions[user] = valueOf(amount)
	}
}
