package pool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"arbScope/internal/tickindex"
)

// StateReader queries live pool state at a block.
type StateReader interface {
	Reserves(ctx context.Context, pool common.Address, block uint64) (*big.Int, *big.Int, error)
	Slot0(ctx context.Context, pool common.Address, block uint64) (*big.Int, int32, error)
	Liquidity(ctx context.Context, pool common.Address, block uint64) (*big.Int, error)
}

// WordFetcher loads one tick bitmap word and the ticks it marks as initialized.
type WordFetcher interface {
	FetchWord(ctx context.Context, pool common.Address, spacing int32, word int16, block uint64) (*uint256.Int, map[int32]tickindex.Tick, error)
}

// GapFiller is implemented by pools whose index can be completed on demand.
type GapFiller interface {
	FillGap(ctx context.Context, state State, word int16) (State, error)
}
