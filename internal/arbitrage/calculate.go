package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/engine"
	"arbScope/internal/pool"
	"arbScope/internal/tickindex"
)

// Options tunes a calculation.
type Options struct {
	// MinRateOfExchange is the net marginal rate the cycle must exceed. Nil means 1.
	MinRateOfExchange *big.Rat
}

// hopGapError is a sparse index gap hit while pricing one hop.
type hopGapError struct {
	hop     int
	missing *tickindex.MissingWordError
}

func (e *hopGapError) Error() string { return fmt.Sprintf("hop %d: %v", e.hop, e.missing) }
func (e *hopGapError) Unwrap() error { return e.missing }

// Calculate finds the most profitable input for the cycle. Pools present in
// overrides are priced at the given state, the rest at their current state.
// A sparse index gap is filled through the pool and the search repeated.
func (c *Cycle) Calculate(ctx context.Context, overrides map[common.Address]pool.State, opts Options) (Result, error) {
	states, err := c.snapshot(overrides)
	if err != nil {
		return Result{}, err
	}
	if err := c.preCheck(states, opts.MinRateOfExchange); err != nil {
		return Result{}, err
	}
	return c.calculate(ctx, states, true)
}

// snapshot resolves the state every hop is priced at: the override when one
// is given, the last known state of the pool otherwise.
func (c *Cycle) snapshot(overrides map[common.Address]pool.State) ([]pool.State, error) {
	states := make([]pool.State, len(c.hops))
	for i, h := range c.hops {
		override, ok := overrides[h.pool.Address()]
		if !ok || override == nil {
			override, _ = c.KnownState(h.pool.Address())
		}
		switch p := h.pool.(type) {
		case *pool.ConcentratedPool:
			st, err := p.Resolve(override)
			if err != nil {
				return nil, fmt.Errorf("hop %d: %w", i, err)
			}
			states[i] = st
		default:
			if override == nil {
				override = p.State()
			}
			if _, ok := override.(pool.V2State); !ok {
				return nil, fmt.Errorf("hop %d: %w", i, pool.ErrStateKind)
			}
			states[i] = override
		}
	}
	return states, nil
}

func (c *Cycle) calculate(ctx context.Context, states []pool.State, fillGaps bool) (Result, error) {
	filled := make(map[int]map[int16]bool)
	for {
		res, err := c.solve(ctx, states)
		var gap *hopGapError
		if !fillGaps || !errors.As(err, &gap) {
			return res, err
		}

		word := gap.missing.Word
		if filled[gap.hop][word] {
			return Result{}, err
		}
		if filled[gap.hop] == nil {
			filled[gap.hop] = make(map[int16]bool)
		}
		filled[gap.hop][word] = true

		filler, ok := c.hops[gap.hop].pool.(pool.GapFiller)
		if !ok {
			return Result{}, err
		}
		next, err := filler.FillGap(ctx, states[gap.hop], word)
		if err != nil {
			return Result{}, fmt.Errorf("hop %d: %w", gap.hop, err)
		}
		c.logger.Debug("tick bitmap gap filled", zap.Int("hop", gap.hop), zap.Int16("word", word))
		c.refreshKnown(c.hops[gap.hop].pool.Address(), states[gap.hop], next)
		states[gap.hop] = next
	}
}

func (c *Cycle) solve(ctx context.Context, states []pool.State) (Result, error) {
	var input *big.Int
	if c.productPair() {
		program, err := newProductProgram(c, states)
		if err != nil {
			return Result{}, err
		}
		x := program.optimum()
		if x == nil {
			return Result{}, &NoSolutionError{Reason: "no profitable input"}
		}
		if input, err = c.refine(states, x); err != nil {
			return Result{}, err
		}
	} else {
		upper, _ := new(big.Float).SetInt(c.maxInput).Float64()
		x, _, err := minimizeBounded(c.objective(ctx, states), 1.0, upper, 1.0)
		if err != nil {
			return Result{}, err
		}
		input = truncate(x)
	}
	return c.build(states, input)
}

func (c *Cycle) productPair() bool {
	if len(c.hops) != 2 {
		return false
	}
	for _, h := range c.hops {
		if _, ok := h.pool.(*pool.ProductPool); !ok {
			return false
		}
	}
	return true
}

// refine picks the most profitable integer next to the closed form optimum,
// clamped to [1, maxInput].
func (c *Cycle) refine(states []pool.State, x *big.Int) (*big.Int, error) {
	var best, bestProfit *big.Int
	for _, d := range []int64{-1, 0, 1} {
		candidate := clamp(new(big.Int).Add(x, big.NewInt(d)), big.NewInt(1), c.maxInput)
		out, err := c.chain(states, candidate)
		if err != nil {
			return nil, err
		}
		profit := new(big.Int).Sub(out, candidate)
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			best, bestProfit = candidate, profit
		}
	}
	return best, nil
}

// objective is the negated profit of swapping int(x) through the cycle.
func (c *Cycle) objective(ctx context.Context, states []pool.State) func(float64) (float64, error) {
	return func(x float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		in := truncate(x)
		out, err := c.chain(states, in)
		if err != nil {
			return 0, err
		}
		profit, _ := new(big.Float).SetInt(new(big.Int).Sub(out, in)).Float64()
		return -profit, nil
	}
}

// chain swaps amountIn through every hop. A hop that cannot fill its input
// ends the chain with zero output.
func (c *Cycle) chain(states []pool.State, amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	for i := range c.hops {
		out, err := c.quoteHop(i, states[i], amount)
		if err != nil {
			if swapReverted(err) {
				return new(big.Int), nil
			}
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

func (c *Cycle) quoteHop(i int, state pool.State, amount *big.Int) (*big.Int, error) {
	h := c.hops[i]
	out, err := h.pool.Quote(state, h.tokenIn, amount)
	if err == nil {
		return out, nil
	}
	var missing *tickindex.MissingWordError
	if errors.As(err, &missing) {
		return nil, &hopGapError{hop: i, missing: missing}
	}
	return nil, fmt.Errorf("hop %d (%s): %w", i, h.pool.Address().Hex(), err)
}

func swapReverted(err error) bool {
	var incomplete *engine.IncompleteSwapError
	return errors.As(err, &incomplete) ||
		errors.Is(err, pool.ErrInsufficientReserves) ||
		errors.Is(err, pool.ErrCurveUnsolved) ||
		errors.Is(err, pool.ErrInvalidAmount) ||
		errors.Is(err, engine.ErrInvalidAmount) ||
		errors.Is(err, engine.ErrInvalidPriceLimit) ||
		errors.Is(err, engine.ErrZeroOutput)
}

// build prices input hop by hop into swap instructions, each funded by the
// previous hop's output.
func (c *Cycle) build(states []pool.State, input *big.Int) (Result, error) {
	amounts := make([]SwapAmounts, len(c.hops))
	amount := new(big.Int).Set(input)
	var block uint64
	for i, h := range c.hops {
		out, err := c.quoteHop(i, states[i], amount)
		if err != nil {
			var gap *hopGapError
			if errors.As(err, &gap) {
				return Result{}, err
			}
			return Result{}, &NoSolutionError{Reason: "swap amounts", Err: err}
		}
		if out.Sign() == 0 {
			return Result{}, &NoSolutionError{Reason: fmt.Sprintf("zero output at hop %d", i)}
		}

		switch h.pool.(type) {
		case *pool.ProductPool, *pool.SolidlyPool:
			v2 := V2SwapAmounts{
				Pool:       h.pool.Address(),
				Kind:       h.pool.Kind(),
				AmountsIn:  [2]*big.Int{new(big.Int).Set(amount), new(big.Int)},
				AmountsOut: [2]*big.Int{new(big.Int), new(big.Int).Set(out)},
			}
			if !h.zeroForOne {
				v2.AmountsIn[0], v2.AmountsIn[1] = v2.AmountsIn[1], v2.AmountsIn[0]
				v2.AmountsOut[0], v2.AmountsOut[1] = v2.AmountsOut[1], v2.AmountsOut[0]
			}
			amounts[i] = v2
		case *pool.ConcentratedPool:
			amounts[i] = V3SwapAmounts{
				Pool:              h.pool.Address(),
				AmountSpecified:   new(big.Int).Set(amount),
				ZeroForOne:        h.zeroForOne,
				SqrtPriceLimitX96: engine.DefaultPriceLimit(h.zeroForOne),
			}
		}

		if b := states[i].StateBlock(); b > block {
			block = b
		}
		amount = out
	}

	profit := new(big.Int).Sub(amount, input)
	if profit.Sign() <= 0 {
		return Result{}, &NoSolutionError{Reason: "no profitable input"}
	}

	c.logger.Debug("arbitrage calculated",
		zap.String("input", input.String()),
		zap.String("profit", profit.String()),
		zap.Uint64("state_block", block),
	)
	return Result{
		ID:           c.id,
		InputToken:   c.inputToken,
		ProfitToken:  c.inputToken,
		InputAmount:  new(big.Int).Set(input),
		ProfitAmount: profit,
		SwapAmounts:  amounts,
		StateBlock:   block,
	}, nil
}

func truncate(x float64) *big.Int {
	v, _ := big.NewFloat(x).Int(nil)
	return v
}

func clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return v
}
