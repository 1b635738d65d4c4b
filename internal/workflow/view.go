package workflow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/balance"
	"github.com/stakeflow/stakeflow/internal/chain"
)

// ActionView is the state of one action kind.
type ActionView struct {
	State   State
	Enabled bool
	Pending *Outcome
	Last    *Outcome
}

// View is everything a page needs to render the staking form.
type View struct {
	Account       *common.Address
	Balances      balance.Snapshot
	StakeAmount   string
	UnstakeAmount string
	Actions       map[chain.Kind]ActionView
	// CanStake mirrors the stake button: an amount is entered, no deposit is
	// in flight and some allowance is granted.
	CanStake bool
}

// Snapshot captures the engine state for rendering.
func (e *Engine) Snapshot() View {
	e.mu.RLock()
	v := View{StakeAmount: e.stakeInput, UnstakeAmount: e.unstakeInput}
	if e.account != nil {
		a := *e.account
		v.Account = &a
	}
	e.mu.RUnlock()

	v.Balances = e.cache.Snapshot()
	v.Actions = make(map[chain.Kind]ActionView, len(e.machines))
	for _, kind := range chain.Kinds {
		m := e.machines[kind]
		av := ActionView{State: m.State()}
		if p := m.Pending(); p != nil {
			o := p.Outcome()
			av.Pending = &o
		}
		if l := m.Last(); l != nil {
			o := l.Outcome()
			av.Last = &o
		}
		input := v.StakeAmount
		if kind == chain.KindWithdraw {
			input = v.UnstakeAmount
		}
		av.Enabled = v.Account != nil && av.State == StateIdle && positive(input)
		v.Actions[kind] = av
	}

	allowance := v.Balances.Allowance
	v.CanStake = v.Actions[chain.KindDeposit].Enabled && allowance != nil && !allowance.IsZero()
	return v
}

func positive(s string) bool {
	v, err := amount.Parse(s)
	return err == nil && !v.IsZero()
}
