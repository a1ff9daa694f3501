package fixedpoint

import "math/big"

func inRange(x, min, max *big.Int) bool {
	return x.Cmp(min) >= 0 && x.Cmp(max) <= 0
}

func isUint(x, max *big.Int) bool {
	return x.Sign() >= 0 && x.Cmp(max) <= 0
}

// ToUint128 checks that x fits a uint128.
func ToUint128(x *big.Int) (*big.Int, error) {
	if !isUint(x, MaxUint128) {
		return nil, rangeErr("uint128", "out of range", x)
	}
	return new(big.Int).Set(x), nil
}

// ToUint160 checks that x fits a uint160.
func ToUint160(x *big.Int) (*big.Int, error) {
	if !isUint(x, MaxUint160) {
		return nil, rangeErr("uint160", "out of range", x)
	}
	return new(big.Int).Set(x), nil
}

// ToInt128 checks that x fits an int128.
func ToInt128(x *big.Int) (*big.Int, error) {
	if !inRange(x, MinInt128, MaxInt128) {
		return nil, rangeErr("int128", "out of range", x)
	}
	return new(big.Int).Set(x), nil
}

// ToInt256 checks that x fits an int256.
func ToInt256(x *big.Int) (*big.Int, error) {
	if !inRange(x, MinInt256, MaxInt256) {
		return nil, rangeErr("int256", "out of range", x)
	}
	return new(big.Int).Set(x), nil
}

// AddDelta adds a signed int128 liquidity delta to a uint128 liquidity value.
// Underflow fails with reason "LS", overflow with "LA".
func AddDelta(x, y *big.Int) (*big.Int, error) {
	if !isUint(x, MaxUint128) {
		return nil, rangeErr("add delta", "x not a valid uint128", x)
	}
	if !inRange(y, MinInt128, MaxInt128) {
		return nil, rangeErr("add delta", "y not a valid int128", y)
	}

	z := new(big.Int).Add(x, y)
	if y.Sign() < 0 && z.Sign() < 0 {
		return nil, rangeErr("add delta", "LS", z)
	}
	if z.Cmp(MaxUint128) > 0 {
		return nil, rangeErr("add delta", "LA", z)
	}
	return z, nil
}
