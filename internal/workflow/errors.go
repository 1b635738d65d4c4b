package workflow

import (
	"errors"

	"github.com/stakeflow/stakeflow/internal/chain"
)

var (
	// ErrNoAmount rejects an action whose amount field is empty or zero.
	ErrNoAmount = errors.New("enter an amount greater than zero")
	// ErrDisconnected rejects an action while no account is connected.
	ErrDisconnected = errors.New("connect a wallet first")
	// ErrNoAllowance rejects a deposit when the adapter holds no allowance.
	ErrNoAllowance = errors.New("no allowance granted")
	// ErrAllowanceBelowAmount rejects a deposit larger than the allowance.
	ErrAllowanceBelowAmount = errors.New("allowance below requested amount")
	// ErrInsufficientWallet rejects a deposit larger than the wallet balance.
	ErrInsufficientWallet = errors.New("insufficient wallet balance")
	// ErrInsufficientStaked rejects a withdraw larger than the staked position.
	ErrInsufficientStaked = errors.New("insufficient staked balance")

	// ErrBusy is returned while the same action kind has a transaction in flight.
	ErrBusy = errors.New("an action of this kind is already in progress")
	// ErrSubmission wraps a ledger error raised while submitting a write call.
	ErrSubmission = errors.New("transaction submission failed")
	// ErrAllowanceMismatch fails an approve whose observed allowance is
	// positive but below the approved amount. Only raised in strict mode.
	ErrAllowanceMismatch = errors.New("approved allowance below requested amount")
	// ErrAlreadyConnected rejects connecting a second account without a disconnect.
	ErrAlreadyConnected = errors.New("another account is already connected")
)

// Rejection is a pre-submission validation failure. No write call was made
// and no state changed.
type Rejection struct {
	Kind   chain.Kind
	Reason error
}

func (r *Rejection) Error() string { return r.Reason.Error() }

func (r *Rejection) Unwrap() error { return r.Reason }

func reject(kind chain.Kind, reason error) *Rejection {
	return &Rejection{Kind: kind, Reason: reason}
}

// reasonLabel is the metrics label of a rejection reason.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrNoAmount):
		return "no_amount"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrNoAllowance):
		return "no_allowance"
	case errors.Is(err, ErrAllowanceBelowAmount):
		return "allowance_below_amount"
	case errors.Is(err, ErrInsufficientWallet):
		return "insufficient_wallet"
	case errors.Is(err, ErrInsufficientStaked):
		return "insufficient_staked"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "other"
	}
}
