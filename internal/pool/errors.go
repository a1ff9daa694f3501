package pool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownToken is returned when a quote names a token the pool does not hold.
	ErrUnknownToken = errors.New("token not held by pool")
	// ErrStateKind is returned when a state override does not match the pool shape.
	ErrStateKind = errors.New("state does not match pool kind")
	// ErrInvalidAmount is returned for a non-positive quote amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientReserves is returned when an exact output would drain a reserve.
	ErrInsufficientReserves = errors.New("requested output exceeds reserves")
	// ErrCurveUnsolved is returned when the stable invariant has no solution for a trade.
	ErrCurveUnsolved = errors.New("stable invariant did not converge")
)

// StaleUpdateError reports an update at or before the last applied position.
type StaleUpdateError struct {
	Pool            common.Address
	Block           uint64
	LogIndex        int64
	CurrentBlock    uint64
	CurrentLogIndex int64
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("pool %s: update at block %d log %d is not after block %d log %d",
		e.Pool.Hex(), e.Block, e.LogIndex, e.CurrentBlock, e.CurrentLogIndex)
}

// NoPriorStateError reports that no archived state exists before a block.
type NoPriorStateError struct {
	Pool  common.Address
	Block uint64
}

func (e *NoPriorStateError) Error() string {
	return fmt.Sprintf("pool %s: no state known prior to block %d", e.Pool.Hex(), e.Block)
}
