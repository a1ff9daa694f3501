package arbitrage

import (
	"math/big"

	"arbScope/internal/engine"
	"arbScope/internal/fixedpoint"
	"arbScope/internal/pool"
)

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// preCheck rejects a cycle whose hops cannot trade or whose marginal rate of
// exchange, net of fees, does not exceed minimum (1 when nil).
func (c *Cycle) preCheck(states []pool.State, minimum *big.Rat) error {
	if minimum == nil {
		minimum = big.NewRat(1, 1)
	}

	rate := big.NewRat(1, 1)
	for i, h := range c.hops {
		hopRate, fee, err := h.marginalRate(states[i])
		if err != nil {
			return err
		}
		if !h.zeroForOne {
			hopRate.Inv(hopRate)
		}
		retained := new(big.Rat).Sub(big.NewRat(1, 1), fee)
		rate.Mul(rate, hopRate.Mul(hopRate, retained))
	}

	if rate.Cmp(minimum) <= 0 {
		return &RateBelowMinimumError{Rate: rate, Minimum: minimum}
	}
	return nil
}

// marginalRate returns the token1/token0 price of state and the fee charged on
// the hop's input token.
func (h hop) marginalRate(state pool.State) (*big.Rat, *big.Rat, error) {
	switch st := state.(type) {
	case pool.V2State:
		if err := checkProductLiquidity(st, h.zeroForOne); err != nil {
			return nil, nil, err
		}
		switch p := h.pool.(type) {
		case *pool.ProductPool:
			fee, err := p.Fee(h.tokenIn)
			if err != nil {
				return nil, nil, err
			}
			return new(big.Rat).SetFrac(st.Reserve1, st.Reserve0), fee.Rat(), nil
		case *pool.SolidlyPool:
			fee, err := p.Fee(h.tokenIn)
			if err != nil {
				return nil, nil, err
			}
			return p.SpotPrice(st), fee.Rat(), nil
		default:
			return nil, nil, pool.ErrStateKind
		}

	case pool.V3State:
		if err := checkConcentratedLiquidity(st, h.zeroForOne); err != nil {
			return nil, nil, err
		}
		price := new(big.Int).Mul(st.SqrtPriceX96, st.SqrtPriceX96)
		fee := big.NewRat(int64(h.pool.(*pool.ConcentratedPool).Fee()), fixedpoint.FeeDenominator)
		return new(big.Rat).SetFrac(price, q192), fee, nil

	default:
		return nil, nil, pool.ErrStateKind
	}
}

func checkProductLiquidity(st pool.V2State, zeroForOne bool) error {
	switch {
	case st.Reserve0.Sign() == 0 || st.Reserve1.Sign() == 0:
		return &NoLiquidityError{Pool: st.Pool, Reason: "no liquidity"}
	case zeroForOne && st.Reserve1.Cmp(big.NewInt(1)) == 0:
		return &NoLiquidityError{Pool: st.Pool, Reason: "no liquidity for a 0 -> 1 swap"}
	case !zeroForOne && st.Reserve0.Cmp(big.NewInt(1)) == 0:
		return &NoLiquidityError{Pool: st.Pool, Reason: "no liquidity for a 1 -> 0 swap"}
	}
	return nil
}

func checkConcentratedLiquidity(st pool.V3State, zeroForOne bool) error {
	if st.SqrtPriceX96.Sign() == 0 || st.Index == nil || (!st.Index.Sparse() && st.Index.Len() == 0) {
		return &NoLiquidityError{Pool: st.Pool, Reason: "not initialized"}
	}
	if st.Liquidity.Sign() != 0 {
		return nil
	}
	// A drained pool parks its price one step inside the bound of the last swap direction.
	if st.SqrtPriceX96.Cmp(engine.DefaultPriceLimit(zeroForOne)) == 0 {
		if zeroForOne {
			return &NoLiquidityError{Pool: st.Pool, Reason: "no liquidity for a 0 -> 1 swap"}
		}
		return &NoLiquidityError{Pool: st.Pool, Reason: "no liquidity for a 1 -> 0 swap"}
	}
	return nil
}
