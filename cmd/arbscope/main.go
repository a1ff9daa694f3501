package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "arbscope",
		Short:        "Cyclic arbitrage scanner for Uniswap V2 and V3 pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow pool events and record arbitrage opportunities",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	watchCmd.Flags().Uint64("from", 0, "start block (inclusive), 0 means the chain head")
	watchCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means follow the chain")
	watchCmd.Flags().Uint64("batch-size", 500, "blocks per log query")
	watchCmd.Flags().Duration("poll-interval", 3*time.Second, "delay between head polls")
	watchCmd.Flags().Uint64("archive-depth", 64, "blocks of pool state kept for reorg recovery")
	watchCmd.Flags().Bool("bootstrap", true, "read pool state from chain before the start block")
	watchCmd.Flags().String("out", "./data/opportunities.jsonl", "opportunities JSONL path")
	watchCmd.Flags().String("logs-out", "", "optional raw logs JSONL path")
	watchCmd.Flags().String("state-file", "./data/watch_state.json", "state file path")
	watchCmd.Flags().Bool("state-enabled", true, "persist the last processed block")
	watchCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pools, snapshots, opportunities and state")
	watchCmd.Flags().String("metrics-addr", "", "optional Prometheus listen address, e.g. :9102")
	watchCmd.Flags().Int64("workers", 4, "concurrent calculations")
	watchCmd.Flags().Bool("isolated", false, "calculate on private copies of pool state")
	watchCmd.Flags().String("min-rate", "", "minimum net rate of exchange, e.g. 1.001")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	calculateCmd := &cobra.Command{
		Use:   "calculate",
		Short: "Find the optimal input of a cycle over pool snapshots",
		RunE:  runCalculate,
	}

	calculateCmd.Flags().String("rpc", "", "optional Ethereum RPC URL for tick words and token decimals")
	calculateCmd.Flags().StringSlice("snapshot", nil, "pool snapshot files in swap order")
	calculateCmd.Flags().String("input", "", "input token address")
	calculateCmd.Flags().String("max-input", "", "maximum input amount")
	calculateCmd.Flags().String("min-rate", "", "minimum net rate of exchange, e.g. 1.001")
	calculateCmd.Flags().String("sender", "", "optional account to build swap payloads for")
	calculateCmd.Flags().Int("decimals", -1, "input token decimals, -1 looks them up")
	calculateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(calculateCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Quote a single swap against a pool snapshot",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("snapshot", "", "pool snapshot file")
	simulateCmd.Flags().String("token", "", "input token, or output token with --exact-out")
	simulateCmd.Flags().String("amount", "", "amount of token")
	simulateCmd.Flags().Bool("exact-out", false, "treat amount as the desired output")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	decodeCmd.Flags().Bool("include-live-meta", false, "include optional slot0/liquidity/reserves (requires archive RPC for historical accuracy)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
