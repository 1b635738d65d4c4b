package infra

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/config"
)

// DialEthereum connects to the JSON-RPC endpoint and checks that it serves
// the expected chain.
func DialEthereum(ctx context.Context, url string, chainID int64) (*ethclient.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum: %w", err)
	}

	idCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	got, err := client.ChainID(idCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if got.Cmp(big.NewInt(chainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("rpc serves chain %s, want %d", got, chainID)
	}
	return client, nil
}

// NewEVMLedger builds the JSON-RPC ledger from configuration.
func NewEVMLedger(backend chain.Backend, cfg config.LedgerConfig) (*chain.EVM, error) {
	key, err := crypto.HexToECDSA(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return chain.NewEVM(backend, chain.EVMConfig{
		Token:           cfg.TokenAddress,
		Adapter:         cfg.AdapterAddress,
		ChainID:         big.NewInt(cfg.ChainID),
		Key:             key,
		ReceiptInterval: cfg.ReceiptPollInterval,
	})
}
