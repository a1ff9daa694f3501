package arbitrage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/pool"
)

// SwapAmounts is the per-hop instruction of a calculated cycle.
type SwapAmounts interface {
	PoolAddress() common.Address
	isSwapAmounts()
}

// V2SwapAmounts are the arguments of a reserve priced swap. Exactly one side
// of AmountsIn and AmountsOut is non-zero. Kind tells a constant product pair
// from a Solidly pool; both take the same swap call.
type V2SwapAmounts struct {
	Pool       common.Address
	Kind       pool.Kind
	AmountsIn  [2]*big.Int
	AmountsOut [2]*big.Int
}

// V3SwapAmounts are the arguments of a concentrated liquidity swap.
type V3SwapAmounts struct {
	Pool              common.Address
	AmountSpecified   *big.Int
	ZeroForOne        bool
	SqrtPriceLimitX96 *big.Int
}

func (a V2SwapAmounts) PoolAddress() common.Address { return a.Pool }
func (V2SwapAmounts) isSwapAmounts()                {}
func (a V3SwapAmounts) PoolAddress() common.Address { return a.Pool }
func (V3SwapAmounts) isSwapAmounts()                {}

// Result is a profitable trade through a cycle.
type Result struct {
	ID           string
	InputToken   common.Address
	ProfitToken  common.Address
	InputAmount  *big.Int
	ProfitAmount *big.Int
	SwapAmounts  []SwapAmounts
	StateBlock   uint64
}

// Payload is one call of an arbitrage bundle.
type Payload struct {
	Target   common.Address
	Calldata []byte
	Value    *big.Int
}
