package arbitrage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/dex"
	"arbScope/internal/pool"
)

// GeneratePayloads encodes the calls that execute result from the contract at from.
// A reserve priced hop is paid up front, so the first one is preceded by a
// token transfer and earlier hops send their output straight to it.
func (c *Cycle) GeneratePayloads(from common.Address, result Result) ([]Payload, error) {
	if len(result.SwapAmounts) != len(c.hops) {
		return nil, fmt.Errorf("result has %d swaps, cycle has %d hops", len(result.SwapAmounts), len(c.hops))
	}
	if result.InputAmount == nil || result.InputAmount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid input amount %v", result.InputAmount)
	}

	erc20, err := dex.ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	pairABI, err := dex.V2PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	poolABI, err := dex.V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	payloads := make([]Payload, 0, len(c.hops)+1)
	for i, h := range c.hops {
		if result.SwapAmounts[i].PoolAddress() != h.pool.Address() {
			return nil, fmt.Errorf("hop %d: swap for %s, expected %s", i, result.SwapAmounts[i].PoolAddress().Hex(), h.pool.Address().Hex())
		}

		recipient := from
		if i < len(c.hops)-1 && prefunded(c.hops[i+1].pool.Kind()) {
			recipient = c.hops[i+1].pool.Address()
		}

		switch amounts := result.SwapAmounts[i].(type) {
		case V2SwapAmounts:
			if i == 0 {
				data, err := erc20.Pack("transfer", h.pool.Address(), result.InputAmount)
				if err != nil {
					return nil, fmt.Errorf("hop %d: pack transfer: %w", i, err)
				}
				payloads = append(payloads, Payload{Target: h.tokenIn, Calldata: data, Value: new(big.Int)})
			}
			data, err := pairABI.Pack("swap", orZero(amounts.AmountsOut[0]), orZero(amounts.AmountsOut[1]), recipient, []byte{})
			if err != nil {
				return nil, fmt.Errorf("hop %d: pack swap: %w", i, err)
			}
			payloads = append(payloads, Payload{Target: h.pool.Address(), Calldata: data, Value: new(big.Int)})
			c.logger.Debug("v2 swap payload",
				zap.Int("hop", i),
				zap.Stringer("kind", h.pool.Kind()),
				zap.String("pool", h.pool.Address().Hex()),
				zap.String("recipient", recipient.Hex()),
			)

		case V3SwapAmounts:
			data, err := poolABI.Pack("swap", recipient, amounts.ZeroForOne, amounts.AmountSpecified, amounts.SqrtPriceLimitX96, []byte{})
			if err != nil {
				return nil, fmt.Errorf("hop %d: pack swap: %w", i, err)
			}
			payloads = append(payloads, Payload{Target: h.pool.Address(), Calldata: data, Value: new(big.Int)})
			c.logger.Debug("v3 swap payload",
				zap.Int("hop", i),
				zap.String("pool", h.pool.Address().Hex()),
				zap.String("recipient", recipient.Hex()),
				zap.Bool("zero_for_one", amounts.ZeroForOne),
			)

		default:
			return nil, fmt.Errorf("hop %d: unsupported swap amounts %T", i, amounts)
		}
	}
	return payloads, nil
}

// prefunded reports whether a pool of kind takes its input before the swap call.
func prefunded(kind pool.Kind) bool {
	return kind == pool.KindV2 || kind == pool.KindSolidly
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
