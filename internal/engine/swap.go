package engine

import (
	"math/big"

	"arbScope/internal/fixedpoint"
)

// State is the price-curve position a swap starts from.
type State struct {
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Tick         int32
}

// TickSource exposes the initialized ticks of a pool.
type TickSource interface {
	NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool, error)
	LiquidityNet(tick int32) *big.Int
}

// Params describes a swap. AmountSpecified is positive for exact input and
// negative for exact output. A nil SqrtPriceLimitX96 swaps to the curve bound.
type Params struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
	FeePips           uint32
}

// Result holds the pool-side token deltas and the final curve position.
// Positive amounts are paid into the pool, negative amounts are paid out.
type Result struct {
	ZeroForOne   bool
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
}

// AmountIn returns the amount of the input token paid into the pool.
func (r Result) AmountIn() *big.Int {
	if r.ZeroForOne {
		return new(big.Int).Set(r.Amount0)
	}
	return new(big.Int).Set(r.Amount1)
}

// AmountOut returns the amount of the output token paid out of the pool.
func (r Result) AmountOut() *big.Int {
	if r.ZeroForOne {
		return new(big.Int).Neg(r.Amount1)
	}
	return new(big.Int).Neg(r.Amount0)
}

// DefaultPriceLimit returns the limit one step inside the curve bound in the swap direction.
func DefaultPriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(fixedpoint.MinSqrtRatio, big.NewInt(1))
	}
	return new(big.Int).Sub(fixedpoint.MaxSqrtRatio, big.NewInt(1))
}

// Simulate runs a swap against state and ticks without touching either.
// A sparse gap surfaces as *tickindex.MissingWordError; a swap stopped by the
// price limit with amount remaining returns *IncompleteSwapError. A completed
// swap that pays nothing in or out returns ErrZeroOutput.
func Simulate(state State, ticks TickSource, p Params) (Result, error) {
	if p.AmountSpecified == nil || p.AmountSpecified.Sign() == 0 {
		return Result{}, ErrInvalidAmount
	}

	limit := p.SqrtPriceLimitX96
	if limit == nil {
		limit = DefaultPriceLimit(p.ZeroForOne)
	}
	if p.ZeroForOne {
		if limit.Cmp(state.SqrtPriceX96) >= 0 || limit.Cmp(fixedpoint.MinSqrtRatio) <= 0 {
			return Result{}, ErrInvalidPriceLimit
		}
	} else {
		if limit.Cmp(state.SqrtPriceX96) <= 0 || limit.Cmp(fixedpoint.MaxSqrtRatio) >= 0 {
			return Result{}, ErrInvalidPriceLimit
		}
	}

	exactInput := p.AmountSpecified.Sign() > 0
	remaining := new(big.Int).Set(p.AmountSpecified)
	calculated := new(big.Int)
	sqrtPrice := new(big.Int).Set(state.SqrtPriceX96)
	liquidity := new(big.Int).Set(state.Liquidity)
	tick := state.Tick

	for remaining.Sign() != 0 && sqrtPrice.Cmp(limit) != 0 {
		start := sqrtPrice

		next, initialized, err := ticks.NextInitializedTickWithinOneWord(tick, p.ZeroForOne)
		if err != nil {
			return Result{}, err
		}
		if next < fixedpoint.MinTick {
			next = fixedpoint.MinTick
		} else if next > fixedpoint.MaxTick {
			next = fixedpoint.MaxTick
		}

		sqrtNext, err := fixedpoint.SqrtRatioAtTick(next)
		if err != nil {
			return Result{}, err
		}

		target := sqrtNext
		if (p.ZeroForOne && sqrtNext.Cmp(limit) < 0) || (!p.ZeroForOne && sqrtNext.Cmp(limit) > 0) {
			target = limit
		}

		step, err := fixedpoint.ComputeSwapStep(sqrtPrice, target, liquidity, remaining, p.FeePips)
		if err != nil {
			return Result{}, err
		}
		sqrtPrice = step.SqrtRatioNextX96

		if exactInput {
			remaining.Sub(remaining, step.AmountIn)
			remaining.Sub(remaining, step.FeeAmount)
			calculated.Sub(calculated, step.AmountOut)
		} else {
			remaining.Add(remaining, step.AmountOut)
			calculated.Add(calculated, step.AmountIn)
			calculated.Add(calculated, step.FeeAmount)
		}

		switch {
		case sqrtPrice.Cmp(sqrtNext) == 0:
			if initialized {
				net := ticks.LiquidityNet(next)
				if p.ZeroForOne {
					net.Neg(net)
				}
				if liquidity, err = fixedpoint.AddDelta(liquidity, net); err != nil {
					return Result{}, err
				}
			}
			if p.ZeroForOne {
				tick = next - 1
			} else {
				tick = next
			}
		case sqrtPrice.Cmp(start) != 0:
			if tick, err = fixedpoint.TickAtSqrtRatio(sqrtPrice); err != nil {
				return Result{}, err
			}
		}
	}

	consumed := new(big.Int).Sub(p.AmountSpecified, remaining)
	res := Result{
		ZeroForOne:   p.ZeroForOne,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		Tick:         tick,
	}
	if p.ZeroForOne == exactInput {
		res.Amount0, res.Amount1 = consumed, calculated
	} else {
		res.Amount0, res.Amount1 = calculated, consumed
	}

	if remaining.Sign() != 0 {
		return Result{}, &IncompleteSwapError{Partial: res, Remaining: remaining.String()}
	}
	if res.AmountIn().Sign() <= 0 || res.AmountOut().Sign() <= 0 {
		return Result{}, ErrZeroOutput
	}
	return res, nil
}
