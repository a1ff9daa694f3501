package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbScope/internal/arbitrage"
	"arbScope/internal/chain"
	"arbScope/internal/config"
	"arbScope/internal/dex"
	"arbScope/internal/indexer"
	"arbScope/internal/metrics"
	"arbScope/internal/storage"
	"arbScope/internal/storage/postgres"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("pool list is required")
	}
	if len(cfg.Cycles) == 0 {
		return fmt.Errorf("cycle list is required")
	}
	minRate, err := config.ParseRate(cfg.MinRate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	var (
		store     *postgres.Store
		snapshots indexer.SnapshotStore
		state     indexer.StateStore
	)
	sinks := storage.Multi{storage.NewJsonlStorage(cfg.Out)}
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		snapshots = store
		sinks = append(sinks, store)
		state = &indexer.DBStateStore{Store: store, Name: "watch"}
	} else if cfg.StateEnabled {
		state = &indexer.FileStateStore{Path: cfg.StateFile}
	}

	start, err := startBlock(ctx, cfg.FromBlock, state, chainClient)
	if err != nil {
		return err
	}

	poolMeta := dex.NewPoolMetaCache()
	tokens := dex.NewTokenMetaCache()
	pools, err := indexer.BuildPools(ctx, cfg.Pools, indexer.BuildOptions{
		ChainID:   chainID.Uint64(),
		Caller:    chainClient,
		Snapshots: snapshots,
		PoolMeta:  poolMeta,
		Tokens:    tokens,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if cfg.Bootstrap && start > 0 {
		logger.Info("bootstrap pools", zap.Int("pools", len(pools)), zap.Uint64("block", start-1))
		if err := indexer.Bootstrap(ctx, pools, start-1, int(cfg.Workers), logger); err != nil {
			return err
		}
	}
	if store != nil {
		if err := store.UpsertPools(ctx, indexer.PoolRecords(chainID.Uint64(), pools, start)); err != nil {
			return err
		}
	}

	cycles, err := indexer.BuildCycles(cfg.Cycles, pools, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range cycles {
			c.Close()
		}
	}()

	v3Decoder, err := dex.NewV3PoolDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}
	v2Decoder, err := dex.NewV2PairDecoder()
	if err != nil {
		return err
	}

	var executor arbitrage.Executor = arbitrage.NewGoroutineExecutor(cfg.Workers)
	if cfg.Isolated {
		executor = arbitrage.NewIsolatedExecutor(cfg.Workers)
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		if m, err = metrics.New(nil, "arbscope"); err != nil {
			return err
		}
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	deps := indexer.Dependencies{
		Source:   chainClient,
		Decoders: dex.Decoders{v3Decoder, v2Decoder},
		Decode: dex.DecodeContext{
			Chain:          chainClient,
			PoolMetaCache:  poolMeta,
			TokenMetaCache: tokens,
			Logger:         logger,
		},
		Pools:     pools,
		Cycles:    cycles,
		Executor:  executor,
		Sink:      sinks,
		Snapshots: snapshots,
		State:     state,
		Tokens:    tokens,
		Metrics:   m,
		Logger:    logger,
	}
	if cfg.LogsOut != "" {
		deps.Logs = storage.NewJsonlStorage(cfg.LogsOut)
	}

	runner, err := indexer.NewRunner(indexer.RunConfig{
		FromBlock:         start,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		ArchiveDepth:      cfg.ArchiveDepth,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		MinRateOfExchange: minRate,
	}, deps)
	if err != nil {
		return err
	}
	defer runner.Close()

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.Uint64("from", start),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("pools", len(pools)),
		zap.Int("cycles", len(cycles)),
		zap.Bool("isolated", cfg.Isolated),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", store != nil),
	)

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("watch stopped")
		return nil
	}
	return err
}

// startBlock resolves the first block to process from the flag, the saved
// state and the chain head.
func startBlock(ctx context.Context, from uint64, state indexer.StateStore, chainClient *chain.Client) (uint64, error) {
	if state != nil {
		last, ok, err := state.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("load state: %w", err)
		}
		if ok && last >= from {
			return last + 1, nil
		}
	}
	if from != 0 {
		return from, nil
	}
	latest, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return latest + 1, nil
}
