package fixedpoint

import "math/big"

func sortRatios(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// Amount0Delta returns the token0 amount between two sqrt prices for an unsigned liquidity.
func Amount0Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, rounding Rounding) (*big.Int, error) {
	sqrtRatioA, sqrtRatioB = sortRatios(sqrtRatioA, sqrtRatioB)
	if sqrtRatioA.Sign() <= 0 {
		return nil, rangeErr("amount0 delta", "sqrt ratio must be positive", sqrtRatioA)
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)

	if rounding == RoundUp {
		v, err := MulDiv(numerator1, numerator2, sqrtRatioB, RoundUp)
		if err != nil {
			return nil, err
		}
		return DivRoundingUp(v, sqrtRatioA)
	}

	v, err := MulDiv(numerator1, numerator2, sqrtRatioB, RoundDown)
	if err != nil {
		return nil, err
	}
	return v.Quo(v, sqrtRatioA), nil
}

// Amount1Delta returns the token1 amount between two sqrt prices for an unsigned liquidity.
func Amount1Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, rounding Rounding) (*big.Int, error) {
	sqrtRatioA, sqrtRatioB = sortRatios(sqrtRatioA, sqrtRatioB)
	return MulDiv(liquidity, new(big.Int).Sub(sqrtRatioB, sqrtRatioA), Q96, rounding)
}

// SignedAmount0Delta returns the token0 delta for a signed liquidity change,
// rounding up for additions and down for removals.
func SignedAmount0Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int) (*big.Int, error) {
	return signedDelta(Amount0Delta, sqrtRatioA, sqrtRatioB, liquidity)
}

// SignedAmount1Delta is the token1 counterpart of SignedAmount0Delta.
func SignedAmount1Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int) (*big.Int, error) {
	return signedDelta(Amount1Delta, sqrtRatioA, sqrtRatioB, liquidity)
}

func signedDelta(
	fn func(a, b, l *big.Int, r Rounding) (*big.Int, error),
	sqrtRatioA, sqrtRatioB, liquidity *big.Int,
) (*big.Int, error) {
	if liquidity.Sign() < 0 {
		v, err := fn(sqrtRatioA, sqrtRatioB, new(big.Int).Neg(liquidity), RoundDown)
		if err != nil {
			return nil, err
		}
		return ToInt256(v.Neg(v))
	}
	v, err := fn(sqrtRatioA, sqrtRatioB, liquidity, RoundUp)
	if err != nil {
		return nil, err
	}
	return ToInt256(v)
}

// NextSqrtPriceFromAmount0RoundingUp moves the price by a token0 amount, rounding up.
func NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)
	productFits := product.Cmp(MaxUint256) <= 0

	if add {
		if productFits {
			denominator := new(big.Int).Add(numerator1, product)
			if denominator.Cmp(MaxUint256) <= 0 {
				return MulDiv(numerator1, sqrtPX96, denominator, RoundUp)
			}
		}
		denominator := new(big.Int).Quo(numerator1, sqrtPX96)
		denominator.Add(denominator, amount)
		return DivRoundingUp(numerator1, denominator)
	}

	if !productFits || numerator1.Cmp(product) <= 0 {
		return nil, rangeErr("next sqrt price from amount0", "product exceeds liquidity", product)
	}
	denominator := new(big.Int).Sub(numerator1, product)
	v, err := MulDiv(numerator1, sqrtPX96, denominator, RoundUp)
	if err != nil {
		return nil, err
	}
	return ToUint160(v)
}

// NextSqrtPriceFromAmount1RoundingDown moves the price by a token1 amount, rounding down.
func NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if liquidity.Sign() <= 0 {
		return nil, rangeErr("next sqrt price from amount1", "liquidity must be positive", liquidity)
	}

	if add {
		var quotient *big.Int
		if amount.Cmp(MaxUint160) <= 0 {
			quotient = new(big.Int).Lsh(amount, 96)
			quotient.Quo(quotient, liquidity)
		} else {
			var err error
			if quotient, err = MulDiv(amount, Q96, liquidity, RoundDown); err != nil {
				return nil, err
			}
		}
		return ToUint160(quotient.Add(quotient, sqrtPX96))
	}

	var quotient *big.Int
	var err error
	if amount.Cmp(MaxUint160) <= 0 {
		quotient, err = DivRoundingUp(new(big.Int).Lsh(amount, 96), liquidity)
	} else {
		quotient, err = MulDiv(amount, Q96, liquidity, RoundUp)
	}
	if err != nil {
		return nil, err
	}
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, rangeErr("next sqrt price from amount1", "quotient exceeds price", quotient)
	}
	return quotient.Sub(sqrtPX96, quotient), nil
}

// NextSqrtPriceFromInput returns the price after adding amountIn of the input token.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, rangeErr("next sqrt price from input", "price must be positive", sqrtPX96)
	}
	if liquidity.Sign() <= 0 {
		return nil, rangeErr("next sqrt price from input", "liquidity must be positive", liquidity)
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after removing amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, rangeErr("next sqrt price from output", "price must be positive", sqrtPX96)
	}
	if liquidity.Sign() <= 0 {
		return nil, rangeErr("next sqrt price from output", "liquidity must be positive", liquidity)
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}
