package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbScope/internal/arbitrage"
	"arbScope/internal/chain"
	"arbScope/internal/config"
	"arbScope/internal/dex"
	"arbScope/internal/indexer"
	"arbScope/internal/model"
	"arbScope/internal/pool"
)

type payloadOutput struct {
	Target   string `json:"target"`
	Calldata string `json:"calldata"`
	Value    string `json:"value"`
}

type calculateOutput struct {
	Opportunity model.Opportunity `json:"opportunity"`
	Payloads    []payloadOutput   `json:"payloads,omitempty"`
}

func runCalculate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCalculate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Snapshots) < 2 {
		return fmt.Errorf("at least two snapshots are required")
	}
	input, err := indexer.ParseAddress(cfg.Input)
	if err != nil {
		return fmt.Errorf("input token: %w", err)
	}
	maxInput, err := config.ParseAmount(cfg.MaxInput)
	if err != nil {
		return err
	}
	minRate, err := config.ParseRate(cfg.MinRate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := pool.SnapshotOptions{Logger: logger}
	var chainClient *chain.Client
	if cfg.RPCURL != "" {
		if chainClient, err = chain.NewClient(ctx, cfg.RPCURL); err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		reader := dex.NewChainReader(chainClient, logger)
		opts.Reader, opts.Fetcher = reader, reader
	}

	pools := make([]pool.Pool, 0, len(cfg.Snapshots))
	var block uint64
	for _, path := range cfg.Snapshots {
		snap, err := pool.LoadSnapshot(path)
		if err != nil {
			return err
		}
		p, err := pool.FromSnapshot(snap, opts)
		if err != nil {
			return err
		}
		if snap.Block > block {
			block = snap.Block
		}
		pools = append(pools, p)
	}

	cycle, err := arbitrage.NewCycle("calculate", input, pools, maxInput, logger)
	if err != nil {
		return err
	}
	defer cycle.Close()

	started := time.Now()
	res, err := cycle.Calculate(ctx, nil, arbitrage.Options{MinRateOfExchange: minRate})
	if err != nil {
		return err
	}
	logger.Info("calculation complete",
		zap.String("input", res.InputAmount.String()),
		zap.String("profit", res.ProfitAmount.String()),
		zap.Duration("elapsed", time.Since(started)),
	)

	decimals, err := inputDecimals(ctx, cfg.Decimals, chainClient, input)
	if err != nil {
		return err
	}
	var chainID uint64
	if chainClient != nil {
		if id, err := chainClient.GetChainID(ctx); err == nil {
			chainID = id.Uint64()
		}
	}

	out := calculateOutput{
		Opportunity: indexer.NewOpportunity(chainID, cycle.ID(), block, res, decimals, time.Now()),
	}
	if cfg.From != "" {
		from, err := indexer.ParseAddress(cfg.From)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		payloads, err := cycle.GeneratePayloads(from, res)
		if err != nil {
			return err
		}
		for _, p := range payloads {
			out.Payloads = append(out.Payloads, payloadOutput{
				Target:   p.Target.Hex(),
				Calldata: hexutil.Encode(p.Calldata),
				Value:    p.Value.String(),
			})
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func inputDecimals(ctx context.Context, configured int, chainClient *chain.Client, token common.Address) (uint8, error) {
	if configured >= 0 {
		if configured > 255 {
			return 0, fmt.Errorf("invalid decimals: %d", configured)
		}
		return uint8(configured), nil
	}
	if chainClient == nil {
		return 18, nil
	}
	return dex.NewTokenMetaCache().Decimals(ctx, chainClient, token)
}
