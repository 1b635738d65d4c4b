package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const defaultReceiptInterval = 2 * time.Second

// Backend is the slice of an Ethereum JSON-RPC client the EVM ledger uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMConfig holds the provisioning values of a deployment.
type EVMConfig struct {
	Token           common.Address
	Adapter         common.Address
	ChainID         *big.Int
	Key             *ecdsa.PrivateKey
	ReceiptInterval time.Duration
}

// EVM reaches the stablecoin and adapter contracts over JSON-RPC and signs
// write calls with a single configured key.
type EVM struct {
	backend         Backend
	token           common.Address
	adapter         common.Address
	tokenABI        abi.ABI
	adapterABI      abi.ABI
	signer          types.Signer
	key             *ecdsa.PrivateKey
	from            common.Address
	receiptInterval time.Duration

	// serializes nonce allocation
	mu sync.Mutex
}

// NewEVM builds an EVM ledger. The token and adapter addresses are immutable
// for the lifetime of the value.
func NewEVM(backend Backend, cfg EVMConfig) (*EVM, error) {
	if backend == nil {
		return nil, fmt.Errorf("ethereum backend is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("signer key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.Adapter == (common.Address{}) || cfg.Token == (common.Address{}) {
		return nil, fmt.Errorf("token and adapter addresses are required")
	}

	tokenDef, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	adapterDef, err := abi.JSON(strings.NewReader(adapterABI))
	if err != nil {
		return nil, fmt.Errorf("parse adapter abi: %w", err)
	}

	interval := cfg.ReceiptInterval
	if interval <= 0 {
		interval = defaultReceiptInterval
	}

	return &EVM{
		backend:         backend,
		token:           cfg.Token,
		adapter:         cfg.Adapter,
		tokenABI:        tokenDef,
		adapterABI:      adapterDef,
		signer:          types.LatestSignerForChainID(cfg.ChainID),
		key:             cfg.Key,
		from:            crypto.PubkeyToAddress(cfg.Key.PublicKey),
		receiptInterval: interval,
	}, nil
}

// Signer returns the only account this ledger can submit write calls for.
func (e *EVM) Signer() common.Address { return e.from }

func (e *EVM) Spender() common.Address { return e.adapter }

func (e *EVM) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return e.call(ctx, e.token, e.tokenABI, methodBalanceOf, owner)
}

func (e *EVM) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return e.call(ctx, e.token, e.tokenABI, methodAllowance, owner, spender)
}

func (e *EVM) PositionOf(ctx context.Context, user common.Address) (*uint256.Int, error) {
	return e.call(ctx, e.adapter, e.adapterABI, methodViewBalance, user)
}

func (e *EVM) TotalPosition(ctx context.Context) (*uint256.Int, error) {
	return e.call(ctx, e.adapter, e.adapterABI, methodTotalStaked)
}

func (e *EVM) Approve(ctx context.Context, from, spender common.Address, amount *uint256.Int) (Pending, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	data, err := e.tokenABI.Pack(methodApprove, spender, amount.ToBig())
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return e.transact(ctx, from, e.token, data)
}

func (e *EVM) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) (Pending, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	data, err := e.adapterABI.Pack(methodStake, amount.ToBig())
	if err != nil {
		return nil, fmt.Errorf("pack stake: %w", err)
	}
	return e.transact(ctx, from, e.adapter, data)
}

func (e *EVM) Withdraw(ctx context.Context, from common.Address, amount *uint256.Int) (Pending, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	data, err := e.adapterABI.Pack(methodUnstake, amount.ToBig())
	if err != nil {
		return nil, fmt.Errorf("pack unstake: %w", err)
	}
	return e.transact(ctx, from, e.adapter, data)
}

func (e *EVM) call(ctx context.Context, to common.Address, def abi.ABI, method string, args ...any) (*uint256.Int, error) {
	data, err := def.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := def.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("unpack %s: value overflows uint256", method)
	}
	return v, nil
}

func (e *EVM) transact(ctx context.Context, from, to common.Address, data []byte) (Pending, error) {
	if from != e.from {
		return nil, ErrUnknownSigner
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})
	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	return &evmPending{backend: e.backend, hash: signed.Hash(), interval: e.receiptInterval}, nil
}

type evmPending struct {
	backend  Backend
	hash     common.Hash
	interval time.Duration
	lastErr  error
}

func (p *evmPending) Hash() common.Hash { return p.hash }

// Wait polls for the transaction receipt. Lookup errors other than "not found"
// are treated as transient, the same way go-ethereum's WaitMined does.
func (p *evmPending) Wait(ctx context.Context) (Receipt, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, p.hash)
		if err == nil && receipt != nil {
			out := Receipt{Hash: p.hash, Status: StatusConfirmed}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				out.Status = StatusFailed
				return out, ErrReverted
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			p.lastErr = err
		}

		select {
		case <-ctx.Done():
			if p.lastErr != nil {
				return Receipt{Hash: p.hash, Status: StatusPending}, fmt.Errorf("%w (last receipt lookup error: %v)", ctx.Err(), p.lastErr)
			}
			return Receipt{Hash: p.hash, Status: StatusPending}, ctx.Err()
		case <-ticker.C:
		}
	}
}
