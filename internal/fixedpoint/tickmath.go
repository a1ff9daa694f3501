package fixedpoint

import (
	"math/big"
	"sync"
)

var tickRatioMultipliers = [...]*big.Int{
	mustHex("fff97272373d413259a46990580e213a"),
	mustHex("fff2e50f5f656932ef12357cf3c7fdcc"),
	mustHex("ffe5caca7e10e4e61c3624eaa0941cd0"),
	mustHex("ffcb9843d60f6159c9db58835c926644"),
	mustHex("ff973b41fa98c081472e6896dfb254c0"),
	mustHex("ff2ea16466c96a3843ec78b326b52861"),
	mustHex("fe5dee046a99a2a811c461f1969c3053"),
	mustHex("fcbe86c7900a88aedcffc83b479aa3a4"),
	mustHex("f987a7253ac413176f2b074cf7815e54"),
	mustHex("f3392b0822b70005940c7a398e4b70f3"),
	mustHex("e7159475a2c29b7443b29c7fa6e889d9"),
	mustHex("d097f3bdfd2022b8845ad8f792aa5825"),
	mustHex("a9f746462d870fdf8a65dc1f90e061e5"),
	mustHex("70d869a156d2a1b890bb3df62baf32f7"),
	mustHex("31be135f97d08fd981231505542fcfa6"),
	mustHex("9aa508b5b7a84e1c677de54f3e99bc9"),
	mustHex("5d6af8dedb81196699c329225ee604"),
	mustHex("2216e584f5fa1ea926041bedfe98"),
	mustHex("48a170391f7dc42444e8fa2"),
}

var (
	ratioOddTick  = mustHex("fffcb933bd6fad37aa2d162d1a594001")
	ratioEvenTick = mustHex("100000000000000000000000000000000")

	logSqrt10001   = mustBig("255738958999603826347141")
	tickLowOffset  = mustBig("3402992956809132418596140100660247210")
	tickHighOffset = mustBig("291339464771989622907027621153398088495")
	lowMask32      = maxUnsigned(32)

	sqrtRatioCache sync.Map
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("fixedpoint: invalid hex constant " + s)
	}
	return v
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if cached, ok := sqrtRatioCache.Load(tick); ok {
		return new(big.Int).Set(cached.(*big.Int)), nil
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}
	if absTick > MaxTick {
		return nil, rangeErr("sqrt ratio at tick", "T", big.NewInt(int64(tick)))
	}

	ratio := new(big.Int)
	if absTick&1 != 0 {
		ratio.Set(ratioOddTick)
	} else {
		ratio.Set(ratioEvenTick)
	}
	for i, multiplier := range tickRatioMultipliers {
		if absTick&(2<<i) != 0 {
			ratio.Mul(ratio, multiplier)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Quo(MaxUint256, ratio)
	}

	// round up so the result is the lowest price at or above the tick
	sqrtPrice := new(big.Int).Rsh(ratio, 32)
	if new(big.Int).And(ratio, lowMask32).Sign() != 0 {
		sqrtPrice.Add(sqrtPrice, one)
	}

	sqrtRatioCache.Store(tick, new(big.Int).Set(sqrtPrice))
	return sqrtPrice, nil
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is at or below sqrtPriceX96.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, rangeErr("tick at sqrt ratio", "R", sqrtPriceX96)
	}

	ratio := new(big.Int).Lsh(sqrtPriceX96, 32)
	msb := ratio.BitLen() - 1

	r := new(big.Int)
	if msb >= 128 {
		r.Rsh(ratio, uint(msb-127))
	} else {
		r.Lsh(ratio, uint(127-msb))
	}

	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-128)), 64)
	f := new(big.Int)
	for shift := uint(63); shift >= 50; shift-- {
		r.Mul(r, r)
		r.Rsh(r, 127)
		f.Rsh(r, 128)
		if f.Sign() != 0 {
			log2.Add(log2, new(big.Int).Lsh(f, shift))
			r.Rsh(r, uint(f.Uint64()))
		}
	}

	logSqrt := new(big.Int).Mul(log2, logSqrt10001)
	tickLow := new(big.Int).Sub(logSqrt, tickLowOffset)
	tickLow.Rsh(tickLow, 128)
	tickHigh := new(big.Int).Add(logSqrt, tickHighOffset)
	tickHigh.Rsh(tickHigh, 128)

	low := int32(tickLow.Int64())
	high := int32(tickHigh.Int64())
	if low == high {
		return low, nil
	}

	ratioAtHigh, err := SqrtRatioAtTick(high)
	if err != nil {
		return 0, err
	}
	if ratioAtHigh.Cmp(sqrtPriceX96) <= 0 {
		return high, nil
	}
	return low, nil
}
