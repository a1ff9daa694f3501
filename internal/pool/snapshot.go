package pool

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"arbScope/internal/model"
	"arbScope/internal/tickindex"
)

// SnapshotOptions supplies the live collaborators of a pool built from a snapshot.
type SnapshotOptions struct {
	Reader  StateReader
	Fetcher WordFetcher
	Logger  *zap.Logger
}

// LoadSnapshot reads a pool snapshot JSON file.
func LoadSnapshot(path string) (model.PoolSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

// FromSnapshot builds a pool from a snapshot.
func FromSnapshot(snap model.PoolSnapshot, opts SnapshotOptions) (Pool, error) {
	if !common.IsHexAddress(snap.Address) || !common.IsHexAddress(snap.Token0) || !common.IsHexAddress(snap.Token1) {
		return nil, fmt.Errorf("snapshot %q: invalid address", snap.Address)
	}
	address := common.HexToAddress(snap.Address)
	token0 := common.HexToAddress(snap.Token0)
	token1 := common.HexToAddress(snap.Token1)

	kind := snap.Kind
	if kind == "" {
		kind = model.PoolKindV3
		if snap.SqrtPriceX96 == "" {
			kind = model.PoolKindV2
		}
	}

	switch kind {
	case model.PoolKindV2:
		reserve0, err := parseBig("reserve0", snap.Reserve0)
		if err != nil {
			return nil, err
		}
		reserve1, err := parseBig("reserve1", snap.Reserve1)
		if err != nil {
			return nil, err
		}
		cfg := ProductPoolConfig{
			Address:  address,
			Token0:   token0,
			Token1:   token1,
			Reserve0: reserve0,
			Reserve1: reserve1,
			Block:    snap.Block,
			Reader:   opts.Reader,
			Logger:   opts.Logger,
		}
		if snap.Fee != 0 {
			fee := Fee{Numerator: int64(snap.Fee), Denominator: 1_000_000}
			cfg.Fee0, cfg.Fee1 = fee, fee
		}
		return NewProductPool(cfg)

	case model.PoolKindSolidly:
		reserve0, err := parseBig("reserve0", snap.Reserve0)
		if err != nil {
			return nil, err
		}
		reserve1, err := parseBig("reserve1", snap.Reserve1)
		if err != nil {
			return nil, err
		}
		cfg := SolidlyPoolConfig{
			Address:   address,
			Token0:    token0,
			Token1:    token1,
			Stable:    snap.Stable,
			Decimals0: snap.Decimals0,
			Decimals1: snap.Decimals1,
			Reserve0:  reserve0,
			Reserve1:  reserve1,
			Block:     snap.Block,
			Reader:    opts.Reader,
			Logger:    opts.Logger,
		}
		if snap.Fee != 0 {
			cfg.Fees = FlatFee{Numerator: int64(snap.Fee), Denominator: 1_000_000}
		}
		return NewSolidlyPool(cfg)

	case model.PoolKindV3:
		liquidity, err := parseBig("liquidity", snap.Liquidity)
		if err != nil {
			return nil, err
		}
		sqrtPrice, err := parseBig("sqrt_price_x96", snap.SqrtPriceX96)
		if err != nil {
			return nil, err
		}
		spacing := snap.TickSpacing
		if spacing == 0 {
			spacing = TickSpacingForFee[snap.Fee]
		}
		index, err := IndexFromSnapshot(snap, spacing)
		if err != nil {
			return nil, err
		}
		return NewConcentratedPool(ConcentratedPoolConfig{
			Address:      address,
			Token0:       token0,
			Token1:       token1,
			Fee:          snap.Fee,
			TickSpacing:  spacing,
			Liquidity:    liquidity,
			SqrtPriceX96: sqrtPrice,
			Tick:         snap.Tick,
			Index:        index,
			Block:        snap.Block,
			Reader:       opts.Reader,
			Fetcher:      opts.Fetcher,
			Logger:       opts.Logger,
		})

	default:
		return nil, fmt.Errorf("snapshot %s: unknown kind %q", snap.Address, snap.Kind)
	}
}

// IndexFromSnapshot builds a tick index from the bitmap and tick data of a snapshot.
func IndexFromSnapshot(snap model.PoolSnapshot, spacing int32) (*tickindex.Index, error) {
	words := make(map[int16]tickindex.Word, len(snap.TickBitmap))
	for key, value := range snap.TickBitmap {
		pos, err := strconv.ParseInt(key, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("tick bitmap word %q: %w", key, err)
		}
		raw, err := parseBig("tick bitmap word", value)
		if err != nil {
			return nil, err
		}
		bitmap, overflow := uint256.FromBig(raw)
		if overflow || raw.Sign() < 0 {
			return nil, fmt.Errorf("tick bitmap word %q: value exceeds 256 bits", key)
		}
		words[int16(pos)] = tickindex.Word{Bitmap: *bitmap, Block: snap.Block}
	}

	ticks := make(map[int32]tickindex.Tick, len(snap.TickData))
	for key, value := range snap.TickData {
		tick, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("tick %q: %w", key, err)
		}
		net, err := parseBig("liquidity_net", value.LiquidityNet)
		if err != nil {
			return nil, err
		}
		gross, err := parseBig("liquidity_gross", value.LiquidityGross)
		if err != nil {
			return nil, err
		}
		ticks[int32(tick)] = tickindex.Tick{LiquidityNet: net, LiquidityGross: gross, Block: snap.Block}
	}

	return tickindex.New(spacing, words, ticks, tickindex.Options{Sparse: snap.Sparse, Block: snap.Block})
}

// Snapshot exports the current state of p.
func Snapshot(p Pool) model.PoolSnapshot {
	snap := model.PoolSnapshot{
		Address: p.Address().Hex(),
		Token0:  p.Token0().Hex(),
		Token1:  p.Token1().Hex(),
	}

	switch st := p.State().(type) {
	case V2State:
		snap.Kind = model.PoolKindV2
		snap.Block = st.Block
		snap.Reserve0 = st.Reserve0.String()
		snap.Reserve1 = st.Reserve1.String()
		if sp, ok := p.(*SolidlyPool); ok {
			snap.Kind = model.PoolKindSolidly
			snap.Stable = sp.stable
			snap.Decimals0, snap.Decimals1 = sp.decimals0, sp.decimals1
			if fee, exact := FeePips(sp.fees.InputFee(true)); exact && sp.fees.InputFee(false) == sp.fees.InputFee(true) {
				snap.Fee = fee
			}
		}
	case V3State:
		snap.Kind = model.PoolKindV3
		snap.Block = st.Block
		snap.Liquidity = st.Liquidity.String()
		snap.SqrtPriceX96 = st.SqrtPriceX96.String()
		snap.Tick = st.Tick
		if cp, ok := p.(*ConcentratedPool); ok {
			snap.Fee = cp.fee
			snap.TickSpacing = cp.spacing
		}
		snap.Sparse = st.Index.Sparse()

		words, ticks := st.Index.Snapshot()
		snap.TickBitmap = make(map[string]string, len(words))
		for pos, w := range words {
			snap.TickBitmap[strconv.Itoa(int(pos))] = w.Bitmap.ToBig().String()
		}
		snap.TickData = make(map[string]model.PoolSnapshotTick, len(ticks))
		for tick, t := range ticks {
			snap.TickData[strconv.Itoa(int(tick))] = model.PoolSnapshotTick{
				LiquidityNet:   t.LiquidityNet.String(),
				LiquidityGross: t.LiquidityGross.String(),
			}
		}
	}
	return snap
}

func parseBig(field, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	return v, nil
}
