package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds occurs when the owner lacks the token balance or
	// staked position to cover a write call.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientAllowance occurs when the adapter is not authorized to pull
	// the requested amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrReverted is returned by Pending.Wait when the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")

	// ErrUnknownSigner indicates a write call on behalf of an account this
	// ledger cannot sign for.
	ErrUnknownSigner = errors.New("account is not the configured signer")

	// ErrInvalidAmount rejects zero-amount write calls.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Kind names a write call.
type Kind string

const (
	KindApprove  Kind = "approve"
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Kinds lists every write call in a stable order.
var Kinds = []Kind{KindApprove, KindDeposit, KindWithdraw}

// Status is the resolution state of a submitted transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Receipt is the terminal outcome of a write call.
type Receipt struct {
	Hash        common.Hash
	Status      Status
	BlockNumber uint64
}

// Pending is the handle returned by a write call. Wait blocks until the
// transaction resolves or ctx is done; a mined but failed transaction returns
// its receipt together with ErrReverted.
type Pending interface {
	Hash() common.Hash
	Wait(ctx context.Context) (Receipt, error)
}

// Reader exposes the four read entrypoints.
type Reader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	PositionOf(ctx context.Context, user common.Address) (*uint256.Int, error)
	TotalPosition(ctx context.Context) (*uint256.Int, error)
}

// Writer exposes the three write entrypoints. The from account is the
// connected wallet the call is signed for.
type Writer interface {
	Approve(ctx context.Context, from, spender common.Address, amount *uint256.Int) (Pending, error)
	Deposit(ctx context.Context, from common.Address, amount *uint256.Int) (Pending, error)
	Withdraw(ctx context.Context, from common.Address, amount *uint256.Int) (Pending, error)
}

// Ledger defines the contract implemented by ledger backends (an EVM node or
// the in-process simulation).
type Ledger interface {
	Reader
	Writer
	// Spender is the adapter address that deposits pull allowance for.
	Spender() common.Address
}
