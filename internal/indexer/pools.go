package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbScope/internal/arbitrage"
	"arbScope/internal/config"
	"arbScope/internal/dex"
	"arbScope/internal/model"
	"arbScope/internal/pool"
)

// SnapshotStore loads and saves pool snapshots. *postgres.Store implements it.
type SnapshotStore interface {
	LoadPoolSnapshot(ctx context.Context, chainID uint64, address string) (model.PoolSnapshot, bool, error)
	SavePoolSnapshots(ctx context.Context, chainID uint64, snapshots []model.PoolSnapshot) error
}

// BuildOptions supplies the collaborators used to construct pools.
type BuildOptions struct {
	ChainID   uint64
	Caller    dex.ContractCaller
	Snapshots SnapshotStore
	PoolMeta  *dex.PoolMetaCache
	Tokens    *dex.TokenMetaCache
	Logger    *zap.Logger
}

// BuildPools creates the configured pools. A pool is restored from its snapshot
// file, then from the snapshot store, and otherwise created empty from on-chain
// metadata so that Bootstrap can read its state.
func BuildPools(ctx context.Context, configs []config.PoolConfig, opts BuildOptions) (map[common.Address]pool.Pool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = dex.NewTokenMetaCache()
	}
	var reader *dex.ChainReader
	snapOpts := pool.SnapshotOptions{Logger: logger}
	if opts.Caller != nil {
		reader = dex.NewChainReader(opts.Caller, logger)
		snapOpts.Reader, snapOpts.Fetcher = reader, reader
	}

	pools := make(map[common.Address]pool.Pool, len(configs))
	for i, pc := range configs {
		address, err := ParseAddress(pc.Address)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		if _, ok := pools[address]; ok {
			return nil, fmt.Errorf("pool %s configured twice", address.Hex())
		}
		kind, err := ParseKind(pc.Kind)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", address.Hex(), err)
		}

		snap, ok, err := findSnapshot(ctx, pc, address, opts)
		if err != nil {
			return nil, err
		}

		var p pool.Pool
		if ok {
			if kind != "" && snap.Kind != "" && kind != snap.Kind {
				return nil, fmt.Errorf("pool %s: snapshot kind %s does not match %s", address.Hex(), snap.Kind, kind)
			}
			if p, err = pool.FromSnapshot(snap, snapOpts); err != nil {
				return nil, err
			}
			logger.Info("pool restored from snapshot", zap.String("pool", address.Hex()), zap.Uint64("block", snap.Block))
		} else {
			if opts.Caller == nil {
				return nil, fmt.Errorf("pool %s: no snapshot and no chain client", address.Hex())
			}
			if kind == "" {
				return nil, fmt.Errorf("pool %s: kind is required without a snapshot", address.Hex())
			}
			meta, err := dex.FetchPoolMeta(ctx, opts.Caller, address, kind, tokens, logger)
			if err != nil {
				return nil, fmt.Errorf("pool %s metadata: %w", address.Hex(), err)
			}
			if p, err = emptyPool(ctx, address, meta, pc.Fee, opts.Caller, tokens, reader, logger); err != nil {
				return nil, err
			}
		}

		if err := verifyDeployment(p, pc); err != nil {
			return nil, err
		}

		if opts.PoolMeta != nil {
			opts.PoolMeta.Set(address, poolMeta(p))
		}
		pools[address] = p
	}
	return pools, nil
}

func findSnapshot(ctx context.Context, pc config.PoolConfig, address common.Address, opts BuildOptions) (model.PoolSnapshot, bool, error) {
	if pc.Snapshot != "" {
		snap, err := pool.LoadSnapshot(pc.Snapshot)
		if err != nil {
			return model.PoolSnapshot{}, false, err
		}
		if !strings.EqualFold(snap.Address, address.Hex()) {
			return model.PoolSnapshot{}, false, fmt.Errorf("snapshot %s holds pool %s, not %s", pc.Snapshot, snap.Address, address.Hex())
		}
		return snap, true, nil
	}
	if opts.Snapshots == nil {
		return model.PoolSnapshot{}, false, nil
	}
	snap, ok, err := opts.Snapshots.LoadPoolSnapshot(ctx, opts.ChainID, address.Hex())
	if err != nil {
		return model.PoolSnapshot{}, false, fmt.Errorf("load snapshot %s: %w", address.Hex(), err)
	}
	return snap, ok, nil
}

// verifyDeployment checks the pool address against its configured factory.
func verifyDeployment(p pool.Pool, pc config.PoolConfig) error {
	if pc.Factory == "" {
		return nil
	}
	factory, err := ParseAddress(pc.Factory)
	if err != nil {
		return fmt.Errorf("pool %s factory: %w", p.Address().Hex(), err)
	}
	deployer := pool.Create2Deployer{Factory: factory}
	switch {
	case pc.Implementation != "":
		implementation, err := ParseAddress(pc.Implementation)
		if err != nil {
			return fmt.Errorf("pool %s implementation: %w", p.Address().Hex(), err)
		}
		deployer.InitCodeHash = pool.CloneInitCodeHash(implementation)
	case pc.InitCodeHash != "":
		raw, err := hexutil.Decode(strings.TrimSpace(pc.InitCodeHash))
		if err != nil || len(raw) != common.HashLength {
			return fmt.Errorf("pool %s: invalid init code hash %q", p.Address().Hex(), pc.InitCodeHash)
		}
		deployer.InitCodeHash = common.BytesToHash(raw)
	default:
		return fmt.Errorf("pool %s: factory needs an init code hash or an implementation", p.Address().Hex())
	}
	return pool.VerifyAddress(p, deployer)
}

func emptyPool(ctx context.Context, address common.Address, meta model.PoolMeta, fee uint32, caller dex.ContractCaller, tokens *dex.TokenMetaCache, reader *dex.ChainReader, logger *zap.Logger) (pool.Pool, error) {
	token0, token1 := common.HexToAddress(meta.Token0), common.HexToAddress(meta.Token1)
	var fees pool.FeeSchedule
	if fee != 0 {
		fees = pool.FlatFee{Numerator: int64(fee), Denominator: 1_000_000}
	}
	switch meta.Kind {
	case model.PoolKindV2:
		return pool.NewProductPool(pool.ProductPoolConfig{
			Address:  address,
			Token0:   token0,
			Token1:   token1,
			Fees:     fees,
			Reserve0: new(big.Int),
			Reserve1: new(big.Int),
			Reader:   reader,
			Logger:   logger,
		})
	case model.PoolKindSolidly:
		decimals0, err := tokens.Decimals(ctx, caller, token0)
		if err != nil {
			return nil, fmt.Errorf("pool %s token0 decimals: %w", address.Hex(), err)
		}
		decimals1, err := tokens.Decimals(ctx, caller, token1)
		if err != nil {
			return nil, fmt.Errorf("pool %s token1 decimals: %w", address.Hex(), err)
		}
		return pool.NewSolidlyPool(pool.SolidlyPoolConfig{
			Address:   address,
			Token0:    token0,
			Token1:    token1,
			Stable:    meta.Stable,
			Decimals0: decimals0,
			Decimals1: decimals1,
			Fees:      fees,
			Reserve0:  new(big.Int),
			Reserve1:  new(big.Int),
			Reader:    reader,
			Logger:    logger,
		})
	case model.PoolKindV3:
		return pool.NewConcentratedPool(pool.ConcentratedPoolConfig{
			Address:      address,
			Token0:       token0,
			Token1:       token1,
			Fee:          meta.Fee,
			TickSpacing:  meta.TickSpacing,
			Liquidity:    new(big.Int),
			SqrtPriceX96: new(big.Int),
			Reader:       reader,
			Fetcher:      reader,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("pool %s: unknown kind %q", address.Hex(), meta.Kind)
	}
}

func poolMeta(p pool.Pool) model.PoolMeta {
	meta := model.PoolMeta{Token0: p.Token0().Hex(), Token1: p.Token1().Hex()}
	switch typed := p.(type) {
	case *pool.ProductPool:
		meta.Kind = model.PoolKindV2
	case *pool.SolidlyPool:
		meta.Kind = model.PoolKindSolidly
		meta.Stable = typed.Stable()
		if fee, exact := pool.FeePips(typed.Fees().InputFee(true)); exact {
			meta.Fee = fee
		}
	case *pool.ConcentratedPool:
		meta.Kind = model.PoolKindV3
		meta.Fee = typed.Fee()
		meta.TickSpacing = typed.TickSpacing()
	}
	return meta
}

// PoolRecords converts pools into storage records.
func PoolRecords(chainID uint64, pools map[common.Address]pool.Pool, firstSeen uint64) []model.Pool {
	records := make([]model.Pool, 0, len(pools))
	for address, p := range pools {
		meta := poolMeta(p)
		records = append(records, model.Pool{
			ChainID:        chainID,
			Address:        address.Hex(),
			Kind:           meta.Kind,
			Token0:         meta.Token0,
			Token1:         meta.Token1,
			Fee:            meta.Fee,
			TickSpacing:    meta.TickSpacing,
			FirstSeenBlock: firstSeen,
		})
	}
	return records
}

// BuildCycles creates the configured cycles over pools.
func BuildCycles(configs []config.CycleConfig, pools map[common.Address]pool.Pool, logger *zap.Logger) ([]*arbitrage.Cycle, error) {
	cycles := make([]*arbitrage.Cycle, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))
	for i, cc := range configs {
		id := cc.ID
		if id == "" {
			id = fmt.Sprintf("cycle-%d", i)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("cycle %s configured twice", id)
		}
		seen[id] = struct{}{}

		input, err := ParseAddress(cc.Input)
		if err != nil {
			return nil, fmt.Errorf("cycle %s input: %w", id, err)
		}
		addresses, err := ParseAddresses(cc.Pools)
		if err != nil {
			return nil, fmt.Errorf("cycle %s: %w", id, err)
		}
		path := make([]pool.Pool, 0, len(addresses))
		for _, address := range addresses {
			p, ok := pools[address]
			if !ok {
				return nil, fmt.Errorf("cycle %s: pool %s is not configured", id, address.Hex())
			}
			path = append(path, p)
		}
		maxInput, err := config.ParseAmount(cc.MaxInput)
		if err != nil {
			return nil, fmt.Errorf("cycle %s: %w", id, err)
		}

		c, err := arbitrage.NewCycle(id, input, path, maxInput, logger)
		if err != nil {
			return nil, fmt.Errorf("cycle %s: %w", id, err)
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

// Bootstrap reads the state of every pool at block, at most workers at a time.
// Pools already holding a newer state are left alone.
func Bootstrap(ctx context.Context, pools map[common.Address]pool.Pool, block uint64, workers int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for address, p := range pools {
		g.Go(func() error {
			_, err := p.AutoUpdate(ctx, block)
			var stale *pool.StaleUpdateError
			if errors.As(err, &stale) {
				logger.Info("pool state newer than bootstrap block",
					zap.String("pool", address.Hex()),
					zap.Uint64("block", block),
					zap.Uint64("state_block", stale.CurrentBlock),
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("bootstrap %s: %w", address.Hex(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
