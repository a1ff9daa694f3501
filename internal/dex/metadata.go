package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/model"
)

// PoolMetaCache caches pool metadata by address.
type PoolMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.PoolMeta
}

func NewPoolMetaCache() *PoolMetaCache {
	return &PoolMetaCache{data: make(map[common.Address]model.PoolMeta)}
}

func (c *PoolMetaCache) Get(address common.Address) (model.PoolMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *PoolMetaCache) Set(address common.Address, meta model.PoolMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Decimals returns the decimals of token, loading its metadata through caller on a miss.
func (c *TokenMetaCache) Decimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	if meta, ok := c.Get(token); ok {
		return meta.Decimals, nil
	}
	meta, err := FetchTokenMeta(ctx, caller, token, nil)
	if err != nil {
		return 0, err
	}
	c.Set(token, meta)
	return meta.Decimals, nil
}

// getPoolMeta returns cached metadata for pool, fetching it on a miss, and
// optionally adds live state at blockNumber.
func getPoolMeta(ctx DecodeContext, pool common.Address, kind string, blockNumber uint64) (model.PoolMeta, error) {
	var meta model.PoolMeta
	var ok bool
	if ctx.PoolMetaCache != nil {
		meta, ok = ctx.PoolMetaCache.Get(pool)
	}
	if !ok || ctx.IncludeLiveMeta {
		if ctx.Chain == nil {
			return model.PoolMeta{}, fmt.Errorf("chain client is nil")
		}
	}

	if !ok {
		var err error
		meta, err = FetchPoolMeta(ctx.context(), ctx.Chain, pool, kind, ctx.TokenMetaCache, ctx.Logger)
		if err != nil {
			return model.PoolMeta{}, err
		}
		if ctx.PoolMetaCache != nil {
			ctx.PoolMetaCache.Set(pool, meta)
		}
	}

	if ctx.IncludeLiveMeta {
		addLiveMeta(ctx.context(), NewChainReader(ctx.Chain, ctx.Logger), pool, blockNumber, &meta, ctx.Logger)
	}
	return meta, nil
}

// addLiveMeta fills the optional live fields of meta. Failed calls are logged and skipped.
func addLiveMeta(ctx context.Context, reader *ChainReader, pool common.Address, blockNumber uint64, meta *model.PoolMeta, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meta.Kind == model.PoolKindV2 || meta.Kind == model.PoolKindSolidly {
		reserve0, reserve1, err := reader.Reserves(ctx, pool, blockNumber)
		if err != nil {
			logger.Debug("getReserves call failed", zap.String("pool", pool.Hex()), zap.Error(err))
			return
		}
		meta.Reserves = &model.Reserves{Reserve0: reserve0.String(), Reserve1: reserve1.String()}
		return
	}

	if liquidity, err := reader.Liquidity(ctx, pool, blockNumber); err == nil {
		meta.Liquidity = liquidity.String()
	} else {
		logger.Debug("liquidity call failed", zap.String("pool", pool.Hex()), zap.Error(err))
	}
	if sqrtPrice, tick, err := reader.Slot0(ctx, pool, blockNumber); err == nil {
		meta.Slot0 = &model.PoolSlot0{SqrtPriceX96: sqrtPrice.String(), Tick: tick}
	} else {
		logger.Debug("slot0 call failed", zap.String("pool", pool.Hex()), zap.Error(err))
	}
}

// FetchPoolMeta loads immutable pool metadata from chain and fills the token cache.
func FetchPoolMeta(ctx context.Context, caller ContractCaller, pool common.Address, kind string, tokenCache *TokenMetaCache, logger *zap.Logger) (model.PoolMeta, error) {
	if caller == nil {
		return model.PoolMeta{}, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		poolABI abi.ABI
		err     error
	)
	switch kind {
	case model.PoolKindV2:
		poolABI, err = V2PairABI()
	case model.PoolKindV3:
		poolABI, err = V3PoolABI()
	case model.PoolKindSolidly:
		poolABI, err = SolidlyPoolABI()
	default:
		return model.PoolMeta{}, fmt.Errorf("unknown pool kind %q", kind)
	}
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	token0, err := callAddress(ctx, caller, pool, poolABI, "token0")
	if err != nil {
		return model.PoolMeta{}, err
	}
	token1, err := callAddress(ctx, caller, pool, poolABI, "token1")
	if err != nil {
		return model.PoolMeta{}, err
	}
	meta := model.PoolMeta{Kind: kind, Token0: token0.Hex(), Token1: token1.Hex()}

	if kind == model.PoolKindSolidly {
		values, err := callMethod(ctx, caller, pool, poolABI, "stable", nil)
		if err != nil {
			return model.PoolMeta{}, err
		}
		stable, ok := values[0].(bool)
		if !ok {
			return model.PoolMeta{}, fmt.Errorf("stable: unsupported type %T", values[0])
		}
		meta.Stable = stable
	}

	if kind == model.PoolKindV3 {
		values, err := callMethod(ctx, caller, pool, poolABI, "fee", nil)
		if err != nil {
			return model.PoolMeta{}, err
		}
		fee, err := asBigInt(values[0])
		if err != nil {
			return model.PoolMeta{}, fmt.Errorf("fee: %w", err)
		}
		meta.Fee = uint32(fee.Uint64())

		values, err = callMethod(ctx, caller, pool, poolABI, "tickSpacing", nil)
		if err != nil {
			return model.PoolMeta{}, err
		}
		spacing, err := asBigInt(values[0])
		if err != nil {
			return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
		}
		if meta.TickSpacing, err = int24FromBig(spacing); err != nil {
			return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
		}
	}

	if tokenCache != nil {
		for _, token := range []common.Address{token0, token1} {
			if _, ok := tokenCache.Get(token); ok {
				continue
			}
			tokenMeta, err := FetchTokenMeta(ctx, caller, token, logger)
			if err != nil {
				logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
			}
			tokenCache.Set(token, tokenMeta)
		}
	}

	return meta, nil
}

func callAddress(ctx context.Context, caller ContractCaller, target common.Address, parsed abi.ABI, method string) (common.Address, error) {
	values, err := callMethod(ctx, caller, target, parsed, method, nil)
	if err != nil {
		return common.Address{}, err
	}
	address, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	return address, nil
}

func callMethod(ctx context.Context, caller ContractCaller, target common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: no values", method)
	}
	return values, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIString.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return meta, err
	}

	text := func(method string) string {
		if values, err := callMethod(ctx, caller, token, stringABI, method, nil); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := callMethod(ctx, caller, token, bytes32ABI, method, nil)
		if err != nil {
			logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
			return ""
		}
		s, _ := bytes32ToString(values[0])
		return s
	}
	meta.Symbol = text("symbol")
	meta.Name = text("name")

	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
