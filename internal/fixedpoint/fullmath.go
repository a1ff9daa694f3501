package fixedpoint

import "math/big"

// Rounding selects the rounding direction of a division.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// MulDiv computes a*b/denominator with full precision on uint256 inputs.
// The result must fit a uint256.
func MulDiv(a, b, denominator *big.Int, rounding Rounding) (*big.Int, error) {
	if !isUint(a, MaxUint256) {
		return nil, rangeErr("mul div", "a not a valid uint256", a)
	}
	if !isUint(b, MaxUint256) {
		return nil, rangeErr("mul div", "b not a valid uint256", b)
	}
	if denominator.Sign() <= 0 {
		return nil, rangeErr("mul div", "denominator must be positive", denominator)
	}

	product := new(big.Int).Mul(a, b)
	result, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if result.Cmp(MaxUint256) > 0 {
		return nil, rangeErr("mul div", "result overflows uint256", result)
	}
	if rounding == RoundUp && remainder.Sign() > 0 {
		if result.Cmp(MaxUint256) >= 0 {
			return nil, rangeErr("mul div", "rounded result overflows uint256", result)
		}
		result.Add(result, one)
	}
	return result, nil
}

// DivRoundingUp returns ceil(x/y) for non-negative x and positive y.
func DivRoundingUp(x, y *big.Int) (*big.Int, error) {
	if y.Sign() <= 0 {
		return nil, rangeErr("div rounding up", "divisor must be positive", y)
	}
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, one)
	}
	return q, nil
}
