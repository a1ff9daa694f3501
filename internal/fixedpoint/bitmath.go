package fixedpoint

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// MostSignificantBit returns the index of the highest set bit of x.
func MostSignificantBit(x *uint256.Int) (uint8, error) {
	if x.IsZero() {
		return 0, &RangeError{Op: "most significant bit", Reason: "x must be positive"}
	}
	return uint8(x.BitLen() - 1), nil
}

// LeastSignificantBit returns the index of the lowest set bit of x.
func LeastSignificantBit(x *uint256.Int) (uint8, error) {
	for i, limb := range x {
		if limb != 0 {
			return uint8(i*64 + bits.TrailingZeros64(limb)), nil
		}
	}
	return 0, &RangeError{Op: "least significant bit", Reason: "x must be positive"}
}
