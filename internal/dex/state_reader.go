package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"arbScope/internal/pool"
	"arbScope/internal/tickindex"
)

var (
	_ pool.StateReader = (*ChainReader)(nil)
	_ pool.WordFetcher = (*ChainReader)(nil)
)

// ChainReader reads pool state through eth_call. Block 0 reads the latest state.
type ChainReader struct {
	caller ContractCaller
	logger *zap.Logger
}

func NewChainReader(caller ContractCaller, logger *zap.Logger) *ChainReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainReader{caller: caller, logger: logger}
}

// Reserves returns the reserves of a constant product pair.
func (r *ChainReader) Reserves(ctx context.Context, pair common.Address, block uint64) (*big.Int, *big.Int, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return nil, nil, fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, pair, pairABI, "getReserves", blockArg(block))
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("unexpected getReserves values: %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, nil, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, nil, fmt.Errorf("reserve1: %w", err)
	}
	return reserve0, reserve1, nil
}

// Slot0 returns the sqrt price and tick of a concentrated liquidity pool.
func (r *ChainReader) Slot0(ctx context.Context, p common.Address, block uint64) (*big.Int, int32, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, p, poolABI, "slot0", blockArg(block))
	if err != nil {
		return nil, 0, err
	}
	if len(values) < 2 {
		return nil, 0, fmt.Errorf("unexpected slot0 values: %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return nil, 0, fmt.Errorf("sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return nil, 0, fmt.Errorf("tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return nil, 0, err
	}
	return sqrtPrice, tick, nil
}

// Liquidity returns the in-range liquidity of a concentrated liquidity pool.
func (r *ChainReader) Liquidity(ctx context.Context, p common.Address, block uint64) (*big.Int, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, p, poolABI, "liquidity", blockArg(block))
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// FetchWord reads one tick bitmap word and the liquidity of every tick it marks.
func (r *ChainReader) FetchWord(ctx context.Context, p common.Address, spacing int32, word int16, block uint64) (*uint256.Int, map[int32]tickindex.Tick, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, nil, fmt.Errorf("parse pool abi: %w", err)
	}
	at := blockArg(block)

	values, err := callMethod(ctx, r.caller, p, poolABI, "tickBitmap", at, word)
	if err != nil {
		return nil, nil, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return nil, nil, fmt.Errorf("tick bitmap: %w", err)
	}
	bitmap, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, nil, fmt.Errorf("tick bitmap word %d exceeds 256 bits", word)
	}

	ticks := make(map[int32]tickindex.Tick)
	for bit := 0; bit < 256; bit++ {
		if raw.Bit(bit) == 0 {
			continue
		}
		tick := (int32(word)*256 + int32(bit)) * spacing
		values, err := callMethod(ctx, r.caller, p, poolABI, "ticks", at, big.NewInt(int64(tick)))
		if err != nil {
			return nil, nil, fmt.Errorf("tick %d: %w", tick, err)
		}
		if len(values) < 2 {
			return nil, nil, fmt.Errorf("unexpected ticks values: %d", len(values))
		}
		gross, err := asBigInt(values[0])
		if err != nil {
			return nil, nil, fmt.Errorf("tick %d gross: %w", tick, err)
		}
		net, err := asBigInt(values[1])
		if err != nil {
			return nil, nil, fmt.Errorf("tick %d net: %w", tick, err)
		}
		ticks[tick] = tickindex.Tick{LiquidityNet: net, LiquidityGross: gross, Block: block}
	}

	r.logger.Debug("tick bitmap word fetched",
		zap.String("pool", p.Hex()),
		zap.Int16("word", word),
		zap.Uint64("block", block),
		zap.Int("ticks", len(ticks)),
	)
	return bitmap, ticks, nil
}

func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}
