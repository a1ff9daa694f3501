package fixedpoint

import "math/big"

// Tick bounds supported by the price curve.
const (
	MinTick int32 = -887272
	MaxTick int32 = -MinTick
)

// FeeDenominator is the fee resolution in pips (1e6 = 100%).
const FeeDenominator = 1_000_000

var (
	// MinSqrtRatio is SqrtRatioAtTick(MinTick).
	MinSqrtRatio = big.NewInt(4295128739)
	// MaxSqrtRatio is SqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = mustBig("1461446703485210103287273052203988822378723970342")

	// Q96 is the fixed point resolution of a sqrt price.
	Q96  = pow2(96)
	Q128 = pow2(128)
	Q192 = pow2(192)

	MaxUint128 = maxUnsigned(128)
	MaxUint160 = maxUnsigned(160)
	MaxUint256 = maxUnsigned(256)
	MinInt128  = new(big.Int).Neg(pow2(127))
	MaxInt128  = maxUnsigned(127)
	MinInt256  = new(big.Int).Neg(pow2(255))
	MaxInt256  = maxUnsigned(255)

	one            = big.NewInt(1)
	feeDenominator = big.NewInt(FeeDenominator)
)

func pow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func maxUnsigned(bits uint) *big.Int {
	return new(big.Int).Sub(pow2(bits), one)
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: invalid constant " + s)
	}
	return v
}
