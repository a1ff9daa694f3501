package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount mirrors the contract's "AS" revert.
	ErrInvalidAmount = errors.New("AS: amount specified must be non-zero")
	// ErrInvalidPriceLimit mirrors the contract's "SPL" revert.
	ErrInvalidPriceLimit = errors.New("SPL: sqrt price limit out of range")
	// ErrZeroOutput is returned when a completed swap moves no tokens out of
	// the pool, as with a dust input lost entirely to fee and rounding.
	ErrZeroOutput = errors.New("swap produces no output")
)

// IncompleteSwapError is returned when the price limit is reached before the
// specified amount is consumed. Partial holds the swap up to the limit.
type IncompleteSwapError struct {
	Partial   Result
	Remaining string
}

func (e *IncompleteSwapError) Error() string {
	return fmt.Sprintf("swap incomplete at price limit, %s remaining", e.Remaining)
}
