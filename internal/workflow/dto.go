package workflow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/chain"
)

// ConnectRequest binds an account.
type ConnectRequest struct {
	Address string `json:"address"`
}

// FormRequest updates the amount fields. Absent fields are left unchanged.
type FormRequest struct {
	StakeAmount   *string `json:"stake_amount"`
	UnstakeAmount *string `json:"unstake_amount"`
}

// ActionRequest optionally sets the amount field before submitting.
type ActionRequest struct {
	Amount *string `json:"amount"`
}

// BalancesResponse renders the cache. Unknown fields are null.
type BalancesResponse struct {
	WalletBalance  *string `json:"wallet_balance"`
	Allowance      *string `json:"allowance"`
	StakedPosition *string `json:"staked_position"`
	TotalStaked    *string `json:"total_staked"`
}

// TransactionResponse renders a PendingTransaction.
type TransactionResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Account     string     `json:"account"`
	Amount      string     `json:"amount"`
	State       string     `json:"state"`
	Hash        string     `json:"hash,omitempty"`
	Soft        bool       `json:"soft,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// ActionResponse renders one action kind.
type ActionResponse struct {
	State   string               `json:"state"`
	Enabled bool                 `json:"enabled"`
	Pending *TransactionResponse `json:"pending,omitempty"`
	Last    *TransactionResponse `json:"last,omitempty"`
}

// PageResponse is the full staking page.
type PageResponse struct {
	Account       *string                   `json:"account"`
	Balances      BalancesResponse          `json:"balances"`
	StakeAmount   string                    `json:"stake_amount"`
	UnstakeAmount string                    `json:"unstake_amount"`
	CanStake      bool                      `json:"can_stake"`
	Actions       map[string]ActionResponse `json:"actions"`
}

func toPageResponse(v View) PageResponse {
	resp := PageResponse{
		StakeAmount:   v.StakeAmount,
		UnstakeAmount: v.UnstakeAmount,
		CanStake:      v.CanStake,
		Balances: BalancesResponse{
			WalletBalance:  formatKnown(v.Balances.WalletBalance),
			Allowance:      formatKnown(v.Balances.Allowance),
			StakedPosition: formatKnown(v.Balances.StakedPosition),
			TotalStaked:    formatKnown(v.Balances.TotalStaked),
		},
		Actions: make(map[string]ActionResponse, len(v.Actions)),
	}
	if v.Account != nil {
		s := v.Account.Hex()
		resp.Account = &s
	}
	for kind, a := range v.Actions {
		ar := ActionResponse{State: string(a.State), Enabled: a.Enabled}
		if a.Pending != nil {
			t := toTransactionResponse(*a.Pending)
			ar.Pending = &t
		}
		if a.Last != nil {
			t := toTransactionResponse(*a.Last)
			ar.Last = &t
		}
		resp.Actions[string(kind)] = ar
	}
	return resp
}

func toTransactionResponse(o Outcome) TransactionResponse {
	resp := TransactionResponse{
		ID:          o.ID.String(),
		Kind:        string(o.Kind),
		Account:     o.Account.Hex(),
		Amount:      amount.Format(o.Amount),
		State:       string(o.State),
		Soft:        o.Soft,
		SubmittedAt: o.SubmittedAt,
	}
	if o.Hash != (common.Hash{}) {
		resp.Hash = o.Hash.Hex()
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	if !o.ResolvedAt.IsZero() {
		t := o.ResolvedAt
		resp.ResolvedAt = &t
	}
	return resp
}

func formatKnown(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := amount.Format(v)
	return &s
}

func inputFor(kind chain.Kind) string {
	if kind == chain.KindWithdraw {
		return "unstake_amount"
	}
	return "stake_amount"
}
