package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"arbScope/internal/engine"
	"arbScope/internal/fixedpoint"
	"arbScope/internal/tickindex"
)

// TickSpacingForFee maps the standard fee tiers to their tick spacing.
var TickSpacingForFee = map[uint32]int32{
	100:   1,
	500:   10,
	2500:  50,
	3000:  60,
	10000: 200,
}

// ConcentratedPoolConfig describes a concentrated liquidity pool.
type ConcentratedPoolConfig struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32 // pips
	TickSpacing  int32  // zero selects the spacing of the fee tier
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Tick         int32
	Index        *tickindex.Index // nil starts a sparse index
	Block        uint64
	Reader       StateReader
	Fetcher      WordFetcher
	Logger       *zap.Logger
}

// LiquidityChange is a position mint (positive delta) or burn (negative delta).
type LiquidityChange struct {
	Delta *big.Int
	Lower int32
	Upper int32
}

// V3Update carries pool fields observed in Swap, Mint and Burn events.
// Nil fields are left unchanged.
type V3Update struct {
	Block           uint64
	LogIndex        uint64
	Liquidity       *big.Int
	SqrtPriceX96    *big.Int
	Tick            *int32
	LiquidityChange *LiquidityChange
}

// ConcentratedPool is a tick based concentrated liquidity pool.
type ConcentratedPool struct {
	core
	fee     uint32
	spacing int32
	reader  StateReader
	fetcher WordFetcher
}

// NewConcentratedPool creates a concentrated liquidity pool.
func NewConcentratedPool(cfg ConcentratedPoolConfig) (*ConcentratedPool, error) {
	if cfg.Token0 == cfg.Token1 {
		return nil, fmt.Errorf("pool %s: identical tokens", cfg.Address.Hex())
	}
	if cfg.Fee >= fixedpoint.FeeDenominator {
		return nil, fmt.Errorf("pool %s: invalid fee %d", cfg.Address.Hex(), cfg.Fee)
	}
	spacing := cfg.TickSpacing
	if spacing == 0 {
		var ok bool
		if spacing, ok = TickSpacingForFee[cfg.Fee]; !ok {
			return nil, fmt.Errorf("pool %s: no tick spacing for fee %d", cfg.Address.Hex(), cfg.Fee)
		}
	}
	if cfg.Liquidity == nil || cfg.SqrtPriceX96 == nil {
		return nil, fmt.Errorf("pool %s: missing liquidity or price", cfg.Address.Hex())
	}

	index := cfg.Index
	if index == nil {
		var err error
		if index, err = tickindex.New(spacing, nil, nil, tickindex.Options{Sparse: true, Block: cfg.Block}); err != nil {
			return nil, err
		}
	}
	if index.Spacing() != spacing {
		return nil, fmt.Errorf("pool %s: index spacing %d does not match %d", cfg.Address.Hex(), index.Spacing(), spacing)
	}

	p := &ConcentratedPool{fee: cfg.Fee, spacing: spacing, reader: cfg.Reader, fetcher: cfg.Fetcher}
	p.core.init(cfg.Address, cfg.Token0, cfg.Token1, V3State{
		Pool:         cfg.Address,
		Liquidity:    new(big.Int).Set(cfg.Liquidity),
		SqrtPriceX96: new(big.Int).Set(cfg.SqrtPriceX96),
		Tick:         cfg.Tick,
		Index:        index,
		Block:        cfg.Block,
	}, cfg.Logger)
	return p, nil
}

func (p *ConcentratedPool) Kind() Kind { return KindV3 }

// Fee returns the swap fee in pips.
func (p *ConcentratedPool) Fee() uint32 { return p.fee }

// TickSpacing returns the tick spacing.
func (p *ConcentratedPool) TickSpacing() int32 { return p.spacing }

// Resolve returns state (or the current state when nil) with its index populated.
func (p *ConcentratedPool) Resolve(state State) (V3State, error) {
	current := p.State().(V3State)
	if state == nil {
		return current, nil
	}
	st, ok := state.(V3State)
	if !ok {
		return V3State{}, ErrStateKind
	}
	if st.Liquidity == nil || st.SqrtPriceX96 == nil {
		return V3State{}, fmt.Errorf("pool %s: incomplete state override", p.address.Hex())
	}
	if st.Index == nil {
		st.Index = current.Index
	}
	return st, nil
}

// Swap runs the swap engine against state. amount is positive for exact input
// and negative for exact output.
func (p *ConcentratedPool) Swap(state State, zeroForOne bool, amount, sqrtPriceLimitX96 *big.Int) (engine.Result, error) {
	st, err := p.Resolve(state)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Simulate(engine.State{
		Liquidity:    st.Liquidity,
		SqrtPriceX96: st.SqrtPriceX96,
		Tick:         st.Tick,
	}, st.Index, engine.Params{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   amount,
		SqrtPriceLimitX96: sqrtPriceLimitX96,
		FeePips:           p.fee,
	})
}

// Quote returns the output for an exact input of tokenIn.
func (p *ConcentratedPool) Quote(state State, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.holds(tokenIn) {
		return nil, ErrUnknownToken
	}
	res, err := p.Swap(state, tokenIn == p.token0, amountIn, nil)
	if err != nil {
		return nil, err
	}
	return res.AmountOut(), nil
}

// QuoteIn returns the input required for an exact output of tokenOut.
func (p *ConcentratedPool) QuoteIn(state State, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.holds(tokenOut) {
		return nil, ErrUnknownToken
	}
	res, err := p.Swap(state, tokenOut == p.token1, new(big.Int).Neg(amountOut), nil)
	if err != nil {
		return nil, err
	}
	return res.AmountIn(), nil
}

// CalculateTokensOut prices an exact input, filling sparse index gaps as they are hit.
func (p *ConcentratedPool) CalculateTokensOut(ctx context.Context, tokenIn common.Address, amountIn *big.Int, override State) (*big.Int, error) {
	return p.withGapFill(ctx, override, func(st State) (*big.Int, error) {
		return p.Quote(st, tokenIn, amountIn)
	})
}

// CalculateTokensIn prices an exact output, filling sparse index gaps as they are hit.
func (p *ConcentratedPool) CalculateTokensIn(ctx context.Context, tokenOut common.Address, amountOut *big.Int, override State) (*big.Int, error) {
	return p.withGapFill(ctx, override, func(st State) (*big.Int, error) {
		return p.QuoteIn(st, tokenOut, amountOut)
	})
}

func (p *ConcentratedPool) withGapFill(ctx context.Context, override State, quote func(State) (*big.Int, error)) (*big.Int, error) {
	st, err := p.Resolve(override)
	if err != nil {
		return nil, err
	}

	filled := make(map[int16]bool)
	for {
		amount, err := quote(st)
		var missing *tickindex.MissingWordError
		if !errors.As(err, &missing) {
			return amount, err
		}
		if filled[missing.Word] {
			return nil, err
		}
		filled[missing.Word] = true

		next, err := p.FillGap(ctx, st, missing.Word)
		if err != nil {
			return nil, err
		}
		st = next.(V3State)
	}
}

// FillGap fetches a missing bitmap word for state and returns the state with the
// word installed. When state uses the pool's live index, the live index gains
// the word too.
func (p *ConcentratedPool) FillGap(ctx context.Context, state State, word int16) (State, error) {
	st, err := p.Resolve(state)
	if err != nil {
		return nil, err
	}
	if st.Index.HasWord(word) {
		return st, nil
	}
	if p.fetcher == nil {
		return nil, fmt.Errorf("pool %s: no word fetcher: %w", p.address.Hex(), &tickindex.MissingWordError{Word: word})
	}

	bitmap, ticks, err := p.fetcher.FetchWord(ctx, p.address, p.spacing, word, st.Block)
	if err != nil {
		return nil, fmt.Errorf("fetch word %d: %w", word, err)
	}

	shared := st.Index
	st.Index = shared.WithWord(word, bitmap, ticks, st.Block)

	p.mu.Lock()
	if live := p.state.(V3State); live.Index == shared {
		live.Index = st.Index
		p.state = live
		if n := len(p.archive); n > 0 {
			p.archive[n-1].state = live
		}
	}
	p.mu.Unlock()

	p.logger.Debug("tick bitmap word filled", zap.Int16("word", word), zap.Uint64("block", st.Block), zap.Int("ticks", len(ticks)))
	return st, nil
}

// ExternalUpdate applies fields and liquidity changes observed in pool events.
// Missing boundary words of a sparse index are fetched at the prior block
// before the pool lock is taken.
func (p *ConcentratedPool) ExternalUpdate(ctx context.Context, u V3Update) (bool, error) {
	pos := position{block: u.Block, logIndex: int64(u.LogIndex)}
	prior := u.Block
	if prior > 0 {
		prior--
	}

	type fetchedWord struct {
		bitmap *uint256.Int
		ticks  map[int32]tickindex.Tick
	}
	fetched := make(map[int16]fetchedWord)

	if lc := u.LiquidityChange; lc != nil {
		if lc.Delta == nil {
			return false, fmt.Errorf("pool %s: liquidity change without delta", p.address.Hex())
		}
		current := p.State().(V3State)
		if current.Index.Sparse() && p.fetcher != nil {
			for _, tick := range []int32{lc.Lower, lc.Upper} {
				word := current.Index.WordPosition(tick)
				if _, ok := fetched[word]; ok || current.Index.HasWord(word) {
					continue
				}
				bitmap, ticks, err := p.fetcher.FetchWord(ctx, p.address, p.spacing, word, prior)
				if err != nil {
					return false, fmt.Errorf("fetch word %d: %w", word, err)
				}
				fetched[word] = fetchedWord{bitmap: bitmap, ticks: ticks}
			}
		}
	}

	next, changed, err := func() (V3State, bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.checkOrderLocked(pos); err != nil {
			return V3State{}, false, err
		}

		current := p.state.(V3State)
		next := current
		next.Block = u.Block

		if lc := u.LiquidityChange; lc != nil {
			index := current.Index.Clone()
			for word, f := range fetched {
				if !index.HasWord(word) {
					index = index.WithWord(word, f.bitmap, f.ticks, prior)
				}
			}
			if err := index.ApplyLiquidityDelta(lc.Lower, lc.Upper, lc.Delta, u.Block); err != nil {
				return V3State{}, false, fmt.Errorf("pool %s: %w", p.address.Hex(), err)
			}
			next.Index = index

			if lc.Lower <= current.Tick && current.Tick < lc.Upper {
				liquidity, err := fixedpoint.AddDelta(current.Liquidity, lc.Delta)
				if err != nil {
					return V3State{}, false, fmt.Errorf("pool %s: %w", p.address.Hex(), err)
				}
				next.Liquidity = liquidity
			}
		}
		if u.Liquidity != nil {
			next.Liquidity = new(big.Int).Set(u.Liquidity)
		}
		if u.SqrtPriceX96 != nil {
			next.SqrtPriceX96 = new(big.Int).Set(u.SqrtPriceX96)
		}
		if u.Tick != nil {
			next.Tick = *u.Tick
		}

		return next, p.commitLocked(next, pos), nil
	}()
	if err != nil {
		return false, err
	}

	p.logger.Debug("state updated",
		zap.Uint64("block", u.Block),
		zap.Uint64("log_index", u.LogIndex),
		zap.String("liquidity", next.Liquidity.String()),
		zap.Int32("tick", next.Tick),
		zap.Bool("changed", changed),
	)
	if changed {
		p.publish(p, next)
	}
	return changed, nil
}

// AutoUpdate reads slot0 and liquidity at block from the state reader. A read
// orders after every log of its block.
func (p *ConcentratedPool) AutoUpdate(ctx context.Context, block uint64) (bool, error) {
	if p.reader == nil {
		return false, fmt.Errorf("pool %s: no state reader", p.address.Hex())
	}
	sqrtPrice, tick, err := p.reader.Slot0(ctx, p.address, block)
	if err != nil {
		return false, fmt.Errorf("read slot0: %w", err)
	}
	liquidity, err := p.reader.Liquidity(ctx, p.address, block)
	if err != nil {
		return false, fmt.Errorf("read liquidity: %w", err)
	}

	next, changed, err := func() (V3State, bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.checkOrderLocked(readPosition(block)); err != nil {
			return V3State{}, false, err
		}
		next := p.state.(V3State)
		next.Liquidity = liquidity
		next.SqrtPriceX96 = sqrtPrice
		next.Tick = tick
		next.Block = block
		return next, p.commitLocked(next, readPosition(block)), nil
	}()
	if err != nil {
		return false, err
	}
	if changed {
		p.publish(p, next)
	}
	return changed, nil
}

// RestoreBefore reinstates the last state recorded before block.
func (p *ConcentratedPool) RestoreBefore(block uint64) error {
	return p.restoreBefore(p, block)
}

// DiscardBefore drops archived states older than block.
func (p *ConcentratedPool) DiscardBefore(block uint64) error {
	return p.discardBefore(block)
}
