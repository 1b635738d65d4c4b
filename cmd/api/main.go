package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/config"
	"github.com/stakeflow/stakeflow/internal/infra"
	"github.com/stakeflow/stakeflow/internal/journal"
	"github.com/stakeflow/stakeflow/internal/logging"
	"github.com/stakeflow/stakeflow/internal/metrics"
	"github.com/stakeflow/stakeflow/internal/notification"
	"github.com/stakeflow/stakeflow/internal/routes"
	"github.com/stakeflow/stakeflow/internal/server"
	"github.com/stakeflow/stakeflow/internal/workflow"
)

const feedCapacity = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	opts := workflow.Options{
		ApprovePollInterval: cfg.Workflow.ApprovePollInterval,
		ApprovePollAttempts: cfg.Workflow.ApprovePollAttempts,
		ConfirmDelay:        cfg.Workflow.ConfirmDelay,
		StrictAllowance:     cfg.Workflow.StrictAllowance,
	}

	var ledger chain.Ledger
	switch cfg.Ledger.Backend {
	case config.BackendEVM:
		client, err := infra.DialEthereum(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ChainID)
		if err != nil {
			logger.Error("connect ethereum", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		evm, err := infra.NewEVMLedger(client, cfg.Ledger)
		if err != nil {
			logger.Error("build evm ledger", "error", err)
			os.Exit(1)
		}
		signer := evm.Signer()
		opts.Authorize = func(addr common.Address) error {
			if addr != signer {
				return chain.ErrUnknownSigner
			}
			return nil
		}
		ledger = evm
		logger.Info("evm ledger ready", "chain_id", cfg.Ledger.ChainID, "signer", signer.Hex(),
			"token", cfg.Ledger.TokenAddress.Hex(), "adapter", cfg.Ledger.AdapterAddress.Hex())
	default:
		ledger = chain.NewSimulated(cfg.Ledger.AdapterAddress)
		logger.Warn("using simulated ledger", "adapter", cfg.Ledger.AdapterAddress.Hex())
	}

	var store journal.Journal = journal.NewInMemory()
	if db != nil {
		pg := journal.NewPostgresJournal(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("prepare journal", "error", err)
			os.Exit(1)
		}
		store = pg
	}

	rec := metrics.New()
	feed := notification.NewFeed(feedCapacity)
	engine, err := workflow.NewEngine(workflow.Deps{
		Ledger:   ledger,
		Notifier: notification.Multi{notification.NewLoggerNotifier(logger), feed},
		Journal:  store,
		Metrics:  rec,
		Logger:   logger,
	}, opts)
	if err != nil {
		logger.Error("build workflow engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Ledger:  ledger,
		Engine:  engine,
		Feed:    feed,
		Metrics: rec,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
