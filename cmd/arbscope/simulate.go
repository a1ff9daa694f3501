package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbScope/internal/config"
	"arbScope/internal/indexer"
	"arbScope/internal/pool"
)

type simulateOutput struct {
	Pool      string `json:"pool"`
	Kind      string `json:"kind"`
	Block     uint64 `json:"block"`
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Snapshot == "" {
		return fmt.Errorf("snapshot path is required")
	}
	token, err := indexer.ParseAddress(cfg.Token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	amount, err := config.ParseAmount(cfg.Amount)
	if err != nil {
		return err
	}
	if amount == nil {
		return fmt.Errorf("amount is required")
	}

	snap, err := pool.LoadSnapshot(cfg.Snapshot)
	if err != nil {
		return err
	}
	p, err := pool.FromSnapshot(snap, pool.SnapshotOptions{Logger: logger})
	if err != nil {
		return err
	}

	other := p.Token0()
	if token == p.Token0() {
		other = p.Token1()
	}
	out := simulateOutput{
		Pool:  p.Address().Hex(),
		Kind:  p.Kind().String(),
		Block: p.State().StateBlock(),
	}
	if cfg.ExactOut {
		amountIn, err := p.QuoteIn(nil, token, amount)
		if err != nil {
			return err
		}
		out.TokenIn, out.TokenOut = other.Hex(), token.Hex()
		out.AmountIn, out.AmountOut = amountIn.String(), amount.String()
	} else {
		amountOut, err := p.Quote(nil, token, amount)
		if err != nil {
			return err
		}
		out.TokenIn, out.TokenOut = token.Hex(), other.Hex()
		out.AmountIn, out.AmountOut = amount.String(), amountOut.String()
	}

	logger.Debug("simulated swap", zap.String("pool", out.Pool), zap.String("amount_out", out.AmountOut))

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
