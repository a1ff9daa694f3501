package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PoolConfig describes a pool to follow. A pool without a snapshot is loaded from chain.
// Fee, in millionths, overrides the default fee of reserve priced pools loaded
// from chain. When Factory is set the pool address is checked against the
// CREATE2 address the factory derives from InitCodeHash, or from the clone
// init code of Implementation.
type PoolConfig struct {
	Address        string `mapstructure:"address"`
	Kind           string `mapstructure:"kind"`
	Snapshot       string `mapstructure:"snapshot"`
	Fee            uint32 `mapstructure:"fee"`
	Factory        string `mapstructure:"factory"`
	InitCodeHash   string `mapstructure:"init-code-hash"`
	Implementation string `mapstructure:"implementation"`
}

// CycleConfig describes an arbitrage cycle over configured pools.
type CycleConfig struct {
	ID       string   `mapstructure:"id"`
	Input    string   `mapstructure:"input"`
	Pools    []string `mapstructure:"pools"`
	MaxInput string   `mapstructure:"max-input"`
}

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	RPCURL       string
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	PollInterval time.Duration
	ArchiveDepth uint64
	Bootstrap    bool
	Out          string
	LogsOut      string
	StateFile    string
	StateEnabled bool
	PGDSN        string
	MetricsAddr  string
	Workers      int64
	Isolated     bool
	MinRate      string
	MaxRetries   int
	RetryBackoff time.Duration
	Topic0Map    map[string]string
	LogLevel     string
	Pools        []PoolConfig
	Cycles       []CycleConfig
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"batch-size":    uint64(500),
		"poll-interval": 3 * time.Second,
		"archive-depth": uint64(64),
		"bootstrap":     true,
		"out":           "./data/opportunities.jsonl",
		"state-file":    "./data/watch_state.json",
		"state-enabled": true,
		"workers":       int64(4),
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"log-level":     "info",
	})
	if err != nil {
		return WatchConfig{}, err
	}

	cfg := WatchConfig{
		RPCURL:       v.GetString("rpc"),
		FromBlock:    v.GetUint64("from"),
		ToBlock:      v.GetUint64("to"),
		BatchSize:    v.GetUint64("batch-size"),
		PollInterval: v.GetDuration("poll-interval"),
		ArchiveDepth: v.GetUint64("archive-depth"),
		Bootstrap:    v.GetBool("bootstrap"),
		Out:          v.GetString("out"),
		LogsOut:      v.GetString("logs-out"),
		StateFile:    v.GetString("state-file"),
		StateEnabled: v.GetBool("state-enabled"),
		PGDSN:        v.GetString("pg-dsn"),
		MetricsAddr:  v.GetString("metrics-addr"),
		Workers:      v.GetInt64("workers"),
		Isolated:     v.GetBool("isolated"),
		MinRate:      v.GetString("min-rate"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Topic0Map:    getStringMap(v, "topic0-map"),
		LogLevel:     v.GetString("log-level"),
	}
	if err := v.UnmarshalKey("pools", &cfg.Pools); err != nil {
		return WatchConfig{}, fmt.Errorf("parse pools: %w", err)
	}
	if err := v.UnmarshalKey("cycles", &cfg.Cycles); err != nil {
		return WatchConfig{}, fmt.Errorf("parse cycles: %w", err)
	}
	return cfg, nil
}

// CalculateConfig holds configuration for the calculate command.
type CalculateConfig struct {
	RPCURL    string
	Snapshots []string
	Input     string
	MaxInput  string
	MinRate   string
	From      string
	Decimals  int
	LogLevel  string
}

// LoadCalculate merges config file, environment variables, and flags into CalculateConfig.
func LoadCalculate(cfgFile string, flags *pflag.FlagSet) (CalculateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"decimals":  -1,
		"log-level": "info",
	})
	if err != nil {
		return CalculateConfig{}, err
	}
	return CalculateConfig{
		RPCURL:    v.GetString("rpc"),
		Snapshots: getStringSlice(v, "snapshot"),
		Input:     v.GetString("input"),
		MaxInput:  v.GetString("max-input"),
		MinRate:   v.GetString("min-rate"),
		From:      v.GetString("sender"),
		Decimals:  v.GetInt("decimals"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Snapshot string
	Token    string
	Amount   string
	ExactOut bool
	LogLevel string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"log-level": "info",
	})
	if err != nil {
		return SimulateConfig{}, err
	}
	return SimulateConfig{
		Snapshot: v.GetString("snapshot"),
		Token:    v.GetString("token"),
		Amount:   v.GetString("amount"),
		ExactOut: v.GetBool("exact-out"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// ParseRate parses a decimal or fractional rate such as "1.002" or "1002/1000".
// An empty string yields nil.
func ParseRate(input string) (*big.Rat, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	rate, ok := new(big.Rat).SetString(input)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("invalid rate: %s", input)
	}
	return rate, nil
}

// ParseAmount parses a non-negative integer token amount. An empty string yields nil.
func ParseAmount(input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(input, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %s", input)
	}
	return amount, nil
}

func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("ARBSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
