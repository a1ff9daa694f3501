package fixedpoint

import "math/big"

// SwapStep is the outcome of swapping within a single price range.
type SwapStep struct {
	SqrtRatioNextX96 *big.Int
	AmountIn         *big.Int
	AmountOut        *big.Int
	FeeAmount        *big.Int
}

// ComputeSwapStep swaps amountRemaining (positive for exact input, negative for exact output)
// between the current and target prices at constant liquidity.
func ComputeSwapStep(sqrtRatioCurrent, sqrtRatioTarget, liquidity, amountRemaining *big.Int, feePips uint32) (SwapStep, error) {
	if feePips >= FeeDenominator {
		return SwapStep{}, rangeErr("compute swap step", "fee must be below 1e6 pips", big.NewInt(int64(feePips)))
	}

	zeroForOne := sqrtRatioCurrent.Cmp(sqrtRatioTarget) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := new(big.Int).Sub(feeDenominator, fee)

	var (
		sqrtNext  *big.Int
		amountIn  *big.Int
		amountOut *big.Int
		err       error
	)

	if exactIn {
		remainingLessFee, err := MulDiv(amountRemaining, feeComplement, feeDenominator, RoundDown)
		if err != nil {
			return SwapStep{}, err
		}
		if zeroForOne {
			amountIn, err = Amount0Delta(sqrtRatioTarget, sqrtRatioCurrent, liquidity, RoundUp)
		} else {
			amountIn, err = Amount1Delta(sqrtRatioCurrent, sqrtRatioTarget, liquidity, RoundUp)
		}
		if err != nil {
			return SwapStep{}, err
		}
		if remainingLessFee.Cmp(amountIn) >= 0 {
			sqrtNext = new(big.Int).Set(sqrtRatioTarget)
		} else {
			sqrtNext, err = NextSqrtPriceFromInput(sqrtRatioCurrent, liquidity, remainingLessFee, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if zeroForOne {
			amountOut, err = Amount1Delta(sqrtRatioTarget, sqrtRatioCurrent, liquidity, RoundDown)
		} else {
			amountOut, err = Amount0Delta(sqrtRatioCurrent, sqrtRatioTarget, liquidity, RoundDown)
		}
		if err != nil {
			return SwapStep{}, err
		}
		wanted := new(big.Int).Neg(amountRemaining)
		if wanted.Cmp(amountOut) >= 0 {
			sqrtNext = new(big.Int).Set(sqrtRatioTarget)
		} else {
			sqrtNext, err = NextSqrtPriceFromOutput(sqrtRatioCurrent, liquidity, wanted, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	reachedTarget := sqrtRatioTarget.Cmp(sqrtNext) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount0Delta(sqrtNext, sqrtRatioCurrent, liquidity, RoundUp); err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount1Delta(sqrtNext, sqrtRatioCurrent, liquidity, RoundDown); err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount1Delta(sqrtRatioCurrent, sqrtNext, liquidity, RoundUp); err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount0Delta(sqrtRatioCurrent, sqrtNext, liquidity, RoundDown); err != nil {
				return SwapStep{}, err
			}
		}
	}

	// the output can never exceed the requested amount
	if !exactIn {
		if wanted := new(big.Int).Neg(amountRemaining); amountOut.Cmp(wanted) > 0 {
			amountOut = wanted
		}
	}

	var feeAmount *big.Int
	if exactIn && !reachedTarget {
		// the remainder of the input is taken as fee
		feeAmount = new(big.Int).Sub(amountRemaining, amountIn)
	} else {
		if feeAmount, err = MulDiv(amountIn, fee, feeComplement, RoundUp); err != nil {
			return SwapStep{}, err
		}
	}

	return SwapStep{
		SqrtRatioNextX96: sqrtNext,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		FeeAmount:        feeAmount,
	}, nil
}
