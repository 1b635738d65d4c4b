package infra

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stakeflow/stakeflow/internal/config"
)

func TestConstructorsRequireURL(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPostgresPool(ctx, "", "stakeflow"); err == nil {
		t.Fatal("expected postgres error")
	}
	if _, err := NewRedisClient(ctx, ""); err == nil {
		t.Fatal("expected redis error")
	}
	if _, err := DialEthereum(ctx, "", 84532); err == nil {
		t.Fatal("expected ethereum error")
	}
}

func TestNewEVMLedgerDerivesSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := config.LedgerConfig{
		ChainID:        84532,
		SignerKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		TokenAddress:   common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		AdapterAddress: common.HexToAddress("0x000000000000000000000000000000000000ada9"),
	}

	// An unreachable endpoint is fine: the ledger does not dial until used.
	client, err := ethclient.Dial("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ledger, err := NewEVMLedger(client, cfg)
	if err != nil {
		t.Fatalf("build ledger: %v", err)
	}
	if ledger.Signer() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("signer = %s", ledger.Signer().Hex())
	}
	if ledger.Spender() != cfg.AdapterAddress {
		t.Fatalf("spender = %s", ledger.Spender().Hex())
	}

	cfg.SignerKey = "zz"
	if _, err := NewEVMLedger(client, cfg); err == nil {
		t.Fatal("expected invalid key error")
	}
}
