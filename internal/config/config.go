package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	defaultAppName         = "StakeFlow"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultChainID         = 84532
	defaultTokenAddress    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	defaultSimAdapter      = "0x000000000000000000000000000000000000ada9"
	defaultTokenDecimals   = 6
	defaultApproveInterval = time.Second
	defaultApproveAttempts = 10
	defaultConfirmDelay    = time.Second
	defaultReceiptInterval = 2 * time.Second
	defaultSubmitRateLimit = 10

	BackendSimulated = "simulated"
	BackendEVM       = "evm"
)

// Config captures application runtime configuration loaded from environment
// variables, optionally layered over a YAML file named by CONFIG_FILE.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	LogFormat       string
	DatabaseURL     string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	APIKeyHash      string
	SubmitRateLimit int
	Ledger          LedgerConfig
	Workflow        WorkflowConfig
}

// LedgerConfig selects and addresses the ledger backend.
type LedgerConfig struct {
	Backend             string
	RPCURL              string
	ChainID             int64
	SignerKey           string
	TokenAddress        common.Address
	AdapterAddress      common.Address
	TokenDecimals       int
	ReceiptPollInterval time.Duration
}

// WorkflowConfig tunes the confirmation pipeline.
type WorkflowConfig struct {
	ApprovePollInterval time.Duration
	ApprovePollAttempts int
	ConfirmDelay        time.Duration
	StrictAllowance     bool
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	return load(src)
}

func load(src source) (Config, error) {
	cfg := Config{
		AppName:     src.get("APP_NAME", defaultAppName),
		AppEnv:      src.get("APP_ENV", defaultAppEnv),
		Port:        src.get("PORT", defaultPort),
		LogLevel:    strings.ToLower(src.get("LOG_LEVEL", defaultLogLevel)),
		LogFormat:   strings.ToLower(src.get("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL: src.get("DATABASE_URL", ""),
		RedisURL:    src.get("REDIS_URL", ""),
		APIKeyHash:  src.get("API_KEY_HASH", ""),
	}

	var err error
	if cfg.ShutdownPeriod, err = src.duration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = src.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SubmitRateLimit, err = src.integer("SUBMIT_RATE_LIMIT", defaultSubmitRateLimit); err != nil {
		return Config{}, err
	}

	if cfg.Ledger, err = loadLedger(src); err != nil {
		return Config{}, err
	}
	if cfg.Workflow, err = loadWorkflow(src); err != nil {
		return Config{}, err
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

func loadLedger(src source) (LedgerConfig, error) {
	lc := LedgerConfig{
		Backend:   strings.ToLower(src.get("LEDGER_BACKEND", BackendSimulated)),
		RPCURL:    src.get("RPC_URL", ""),
		SignerKey: strings.TrimPrefix(src.get("SIGNER_KEY", ""), "0x"),
	}

	chainID, err := src.integer("CHAIN_ID", defaultChainID)
	if err != nil {
		return LedgerConfig{}, err
	}
	lc.ChainID = int64(chainID)

	if lc.TokenDecimals, err = src.integer("TOKEN_DECIMALS", defaultTokenDecimals); err != nil {
		return LedgerConfig{}, err
	}
	if lc.TokenDecimals != defaultTokenDecimals {
		return LedgerConfig{}, fmt.Errorf("TOKEN_DECIMALS must be %d, got %d", defaultTokenDecimals, lc.TokenDecimals)
	}
	if lc.ReceiptPollInterval, err = src.duration("RECEIPT_POLL_INTERVAL", defaultReceiptInterval); err != nil {
		return LedgerConfig{}, err
	}

	if lc.TokenAddress, err = src.address("TOKEN_ADDRESS", defaultTokenAddress); err != nil {
		return LedgerConfig{}, err
	}

	switch lc.Backend {
	case BackendSimulated:
		if lc.AdapterAddress, err = src.address("ADAPTER_ADDRESS", defaultSimAdapter); err != nil {
			return LedgerConfig{}, err
		}
	case BackendEVM:
		if lc.AdapterAddress, err = src.address("ADAPTER_ADDRESS", ""); err != nil {
			return LedgerConfig{}, err
		}
		if lc.RPCURL == "" {
			return LedgerConfig{}, fmt.Errorf("RPC_URL must be set when LEDGER_BACKEND=evm")
		}
		if lc.SignerKey == "" {
			return LedgerConfig{}, fmt.Errorf("SIGNER_KEY must be set when LEDGER_BACKEND=evm")
		}
	default:
		return LedgerConfig{}, fmt.Errorf("unknown LEDGER_BACKEND %q", lc.Backend)
	}
	return lc, nil
}

func loadWorkflow(src source) (WorkflowConfig, error) {
	var (
		wc  WorkflowConfig
		err error
	)
	if wc.ApprovePollInterval, err = src.duration("APPROVE_POLL_INTERVAL", defaultApproveInterval); err != nil {
		return WorkflowConfig{}, err
	}
	if wc.ApprovePollAttempts, err = src.integer("APPROVE_POLL_ATTEMPTS", defaultApproveAttempts); err != nil {
		return WorkflowConfig{}, err
	}
	if wc.ApprovePollAttempts < 1 {
		return WorkflowConfig{}, fmt.Errorf("APPROVE_POLL_ATTEMPTS must be at least 1")
	}
	if wc.ConfirmDelay, err = src.duration("CONFIRM_DELAY", defaultConfirmDelay); err != nil {
		return WorkflowConfig{}, err
	}
	if wc.StrictAllowance, err = src.boolean("STRICT_ALLOWANCE", false); err != nil {
		return WorkflowConfig{}, err
	}
	return wc, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local environment where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// source resolves keys from the environment first, then from the YAML file.
type source struct {
	file   map[string]string
	lookup func(string) string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}, lookup: os.Getenv}
	if path == "" {
		return src, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config file: %w", err)
	}
	if src.file, err = parseFile(raw); err != nil {
		return source{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return src, nil
}

// parseFile flattens a YAML mapping into env-style keys: approve_poll_interval
// becomes APPROVE_POLL_INTERVAL.
func parseFile(raw []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("key %s: nested values are not supported", k)
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) get(key, fallback string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	if value := s.file[key]; value != "" {
		return value
	}
	return fallback
}

// duration accepts KEY_SECONDS as an integer or KEY as a Go duration.
func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	if v := s.get(key+"_SECONDS", ""); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := s.get(key, ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := s.get(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func (s source) address(key, fallback string) (common.Address, error) {
	v := s.get(key, fallback)
	if v == "" {
		return common.Address{}, fmt.Errorf("%s must be set", key)
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", key, v)
	}
	return common.HexToAddress(v), nil
}
