package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/tickindex"
)

// Kind identifies the pricing curve of a pool.
type Kind uint8

const (
	KindV2 Kind = iota + 1
	KindV3
	KindSolidly
)

func (k Kind) String() string {
	switch k {
	case KindV2:
		return "v2"
	case KindV3:
		return "v3"
	case KindSolidly:
		return "solidly"
	default:
		return "unknown"
	}
}

// State is an immutable pool snapshot, either V2State or V3State.
type State interface {
	PoolAddress() common.Address
	StateBlock() uint64
	isState()
}

// V2State holds the reserves of a reserve priced pool, constant product or Solidly.
type V2State struct {
	Pool     common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	Block    uint64
}

func (s V2State) PoolAddress() common.Address { return s.Pool }
func (s V2State) StateBlock() uint64          { return s.Block }
func (V2State) isState()                      {}

// V3State holds the curve position of a concentrated liquidity pool.
// A nil Index evaluates against the pool's current index.
type V3State struct {
	Pool         common.Address
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Tick         int32
	Index        *tickindex.Index
	Block        uint64
}

func (s V3State) PoolAddress() common.Address { return s.Pool }
func (s V3State) StateBlock() uint64          { return s.Block }
func (V3State) isState()                      {}

// Update is published to subscribers after every observable state change.
type Update struct {
	Pool  common.Address
	State State
}

// SameState reports whether a and b price identically.
func SameState(a, b State) bool {
	switch x := a.(type) {
	case V2State:
		y, ok := b.(V2State)
		return ok && x.Reserve0.Cmp(y.Reserve0) == 0 && x.Reserve1.Cmp(y.Reserve1) == 0
	case V3State:
		y, ok := b.(V3State)
		return ok &&
			x.Liquidity.Cmp(y.Liquidity) == 0 &&
			x.SqrtPriceX96.Cmp(y.SqrtPriceX96) == 0 &&
			x.Tick == y.Tick &&
			x.Index == y.Index
	default:
		return false
	}
}
