package arbitrage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSparseIndex rejects an isolated calculation over a pool whose tick index
// cannot be completed without chain access.
var ErrSparseIndex = errors.New("isolated calculation requires complete tick indexes")

// RateBelowMinimumError is returned by the pre-check when the marginal rate of
// the cycle does not clear the minimum.
type RateBelowMinimumError struct {
	Rate    *big.Rat
	Minimum *big.Rat
}

func (e *RateBelowMinimumError) Error() string {
	return fmt.Sprintf("rate of exchange %s below minimum %s", e.Rate.FloatString(6), e.Minimum.FloatString(6))
}

// NoLiquidityError is returned by the pre-check when a hop cannot trade in its direction.
type NoLiquidityError struct {
	Pool   common.Address
	Reason string
}

func (e *NoLiquidityError) Error() string {
	return fmt.Sprintf("pool %s: %s", e.Pool.Hex(), e.Reason)
}

// NoSolutionError is returned when the search finds no profitable input.
type NoSolutionError struct {
	Reason string
	Err    error
}

func (e *NoSolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no solution: %s: %v", e.Reason, e.Err)
	}
	return "no solution: " + e.Reason
}

func (e *NoSolutionError) Unwrap() error { return e.Err }
