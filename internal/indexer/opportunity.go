package indexer

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbScope/internal/arbitrage"
	"arbScope/internal/model"
	"arbScope/internal/pool"
)

// NewOpportunity converts a calculation result into a storage record. The profit
// is scaled by the decimals of the input token.
func NewOpportunity(chainID uint64, cycleID string, block uint64, res arbitrage.Result, decimals uint8, foundAt time.Time) model.Opportunity {
	opp := model.Opportunity{
		ID:           uuid.NewString(),
		ChainID:      chainID,
		CycleID:      cycleID,
		Block:        block,
		InputToken:   res.InputToken.Hex(),
		InputAmount:  res.InputAmount.String(),
		ProfitAmount: res.ProfitAmount.String(),
		Profit:       decimal.NewFromBigInt(res.ProfitAmount, -int32(decimals)).String(),
		Swaps:        make([]model.OpportunityHop, 0, len(res.SwapAmounts)),
		FoundAt:      foundAt.UTC().Format(time.RFC3339Nano),
	}

	for _, swap := range res.SwapAmounts {
		switch s := swap.(type) {
		case arbitrage.V2SwapAmounts:
			kind := model.PoolKindV2
			if s.Kind == pool.KindSolidly {
				kind = model.PoolKindSolidly
			}
			opp.Swaps = append(opp.Swaps, model.OpportunityHop{
				Pool:       s.Pool.Hex(),
				Kind:       kind,
				AmountsIn:  [2]string{amountString(s.AmountsIn[0]), amountString(s.AmountsIn[1])},
				AmountsOut: [2]string{amountString(s.AmountsOut[0]), amountString(s.AmountsOut[1])},
			})
		case arbitrage.V3SwapAmounts:
			opp.Swaps = append(opp.Swaps, model.OpportunityHop{
				Pool:              s.Pool.Hex(),
				Kind:              model.PoolKindV3,
				AmountSpecified:   amountString(s.AmountSpecified),
				ZeroForOne:        s.ZeroForOne,
				SqrtPriceLimitX96: amountString(s.SqrtPriceLimitX96),
			})
		}
	}
	return opp
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
