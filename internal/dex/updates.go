package dex

import (
	"context"
	"fmt"
	"math/big"

	"arbScope/internal/model"
	"arbScope/internal/pool"
)

// ApplyEvent applies a decoded pool event to p and reports whether the pool
// state changed. Events that carry no state, such as Collect, are ignored.
func ApplyEvent(ctx context.Context, p pool.Pool, ev *model.TypedEvent) (bool, error) {
	switch data := ev.Decoded.(type) {
	case model.SyncEventData:
		pair, ok := p.(reserveUpdater)
		if !ok {
			return false, fmt.Errorf("sync event for %s pool %s", p.Kind(), ev.Address)
		}
		reserve0, err := parseAmount("reserve0", data.Reserve0)
		if err != nil {
			return false, err
		}
		reserve1, err := parseAmount("reserve1", data.Reserve1)
		if err != nil {
			return false, err
		}
		return pair.ExternalUpdate(pool.V2Update{
			Block:    ev.BlockNumber,
			LogIndex: ev.LogIndex,
			Reserve0: reserve0,
			Reserve1: reserve1,
		})

	case model.SwapEventData:
		cp, err := concentrated(p, ev)
		if err != nil {
			return false, err
		}
		liquidity, err := parseAmount("liquidity", data.Liquidity)
		if err != nil {
			return false, err
		}
		sqrtPrice, err := parseAmount("sqrt_price_x96", data.SqrtPriceX96)
		if err != nil {
			return false, err
		}
		tick := data.Tick
		return cp.ExternalUpdate(ctx, pool.V3Update{
			Block:        ev.BlockNumber,
			LogIndex:     ev.LogIndex,
			Liquidity:    liquidity,
			SqrtPriceX96: sqrtPrice,
			Tick:         &tick,
		})

	case model.MintEventData:
		return applyLiquidity(ctx, p, ev, data.Amount, data.TickLower, data.TickUpper, false)

	case model.BurnEventData:
		return applyLiquidity(ctx, p, ev, data.Amount, data.TickLower, data.TickUpper, true)

	default:
		return false, nil
	}
}

// reserveUpdater is a pool whose state is set by Sync events.
type reserveUpdater interface {
	ExternalUpdate(u pool.V2Update) (bool, error)
}

func applyLiquidity(ctx context.Context, p pool.Pool, ev *model.TypedEvent, amount string, lower, upper int32, burn bool) (bool, error) {
	cp, err := concentrated(p, ev)
	if err != nil {
		return false, err
	}
	delta, err := parseAmount("amount", amount)
	if err != nil {
		return false, err
	}
	// Zero amount burns only poke fees.
	if delta.Sign() == 0 {
		return false, nil
	}
	if burn {
		delta.Neg(delta)
	}
	return cp.ExternalUpdate(ctx, pool.V3Update{
		Block:           ev.BlockNumber,
		LogIndex:        ev.LogIndex,
		LiquidityChange: &pool.LiquidityChange{Delta: delta, Lower: lower, Upper: upper},
	})
}

func concentrated(p pool.Pool, ev *model.TypedEvent) (*pool.ConcentratedPool, error) {
	cp, ok := p.(*pool.ConcentratedPool)
	if !ok {
		return nil, fmt.Errorf("%s event for %s pool %s", ev.EventName, p.Kind(), ev.Address)
	}
	return cp, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	return v, nil
}
