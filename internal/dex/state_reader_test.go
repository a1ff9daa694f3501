package dex

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"
)

// fakeCaller answers eth_call from canned method outputs.
type fakeCaller struct {
	parsed  abi.ABI
	answers map[string]func(args []interface{}) []interface{}
	blocks  []*big.Int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.blocks = append(f.blocks, blockNumber)
	method, err := f.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	answer, ok := f.answers[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(answer(args)...)
}

func tickOutputs(gross, net int64) []interface{} {
	return []interface{}{
		big.NewInt(gross),
		big.NewInt(net),
		new(big.Int),
		new(big.Int),
		new(big.Int),
		new(big.Int),
		uint32(0),
		true,
	}
}

func TestChainReaderFetchWord(t *testing.T) {
	poolABI, err := V3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	bitmap := new(big.Int).SetBit(new(big.Int), 0, 1)
	bitmap.SetBit(bitmap, 255, 1)

	var requested []int64
	caller := &fakeCaller{
		parsed: poolABI,
		answers: map[string]func([]interface{}) []interface{}{
			"tickBitmap": func(args []interface{}) []interface{} {
				if args[0].(int16) != -1 {
					return []interface{}{new(big.Int)}
				}
				return []interface{}{bitmap}
			},
			"ticks": func(args []interface{}) []interface{} {
				tick := args[0].(*big.Int).Int64()
				requested = append(requested, tick)
				if tick < -1000 {
					return tickOutputs(700, 700)
				}
				return tickOutputs(700, -700)
			},
		},
	}

	reader := NewChainReader(caller, zap.NewNop())
	words, ticks, err := reader.FetchWord(context.Background(), poolAddress, 10, -1, 1234)
	if err != nil {
		t.Fatalf("fetch word: %v", err)
	}
	if words.ToBig().Cmp(bitmap) != 0 {
		t.Fatalf("bitmap mismatch: %s", words.ToBig())
	}
	if len(requested) != 2 || requested[0] != -2560 || requested[1] != -10 {
		t.Fatalf("requested ticks mismatch: %v", requested)
	}
	if got := ticks[-2560]; got.LiquidityNet.Int64() != 700 || got.LiquidityGross.Int64() != 700 || got.Block != 1234 {
		t.Fatalf("tick -2560 mismatch: %+v", got)
	}
	if got := ticks[-10]; got.LiquidityNet.Int64() != -700 {
		t.Fatalf("tick -10 mismatch: %+v", got)
	}
	for _, block := range caller.blocks {
		if block == nil || block.Uint64() != 1234 {
			t.Fatalf("call block mismatch: %v", block)
		}
	}

	empty, ticks, err := reader.FetchWord(context.Background(), poolAddress, 10, 3, 0)
	if err != nil || !empty.IsZero() || len(ticks) != 0 {
		t.Fatalf("empty word mismatch: %v %d %v", empty, len(ticks), err)
	}
	if last := caller.blocks[len(caller.blocks)-1]; last != nil {
		t.Fatalf("block zero should read latest, got %v", last)
	}
}

func TestChainReaderState(t *testing.T) {
	poolABI, err := V3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	pairABI, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	sqrtPrice, _ := new(big.Int).SetString("31881290961944305252140777263703426", 10)
	v3 := NewChainReader(&fakeCaller{
		parsed: poolABI,
		answers: map[string]func([]interface{}) []interface{}{
			"slot0": func([]interface{}) []interface{} {
				return []interface{}{sqrtPrice, big.NewInt(-258116), uint16(1), uint16(2), uint16(3), uint8(0), true}
			},
			"liquidity": func([]interface{}) []interface{} {
				return []interface{}{big.NewInt(1533143241938066251)}
			},
		},
	}, nil)

	price, tick, err := v3.Slot0(context.Background(), poolAddress, 0)
	if err != nil || price.Cmp(sqrtPrice) != 0 || tick != -258116 {
		t.Fatalf("slot0 mismatch: %v %d %v", price, tick, err)
	}
	liquidity, err := v3.Liquidity(context.Background(), poolAddress, 0)
	if err != nil || liquidity.String() != "1533143241938066251" {
		t.Fatalf("liquidity mismatch: %v %v", liquidity, err)
	}
	if _, _, err := v3.Reserves(context.Background(), poolAddress, 0); err == nil {
		t.Fatalf("expected reverted getReserves")
	}

	v2 := NewChainReader(&fakeCaller{
		parsed: pairABI,
		answers: map[string]func([]interface{}) []interface{}{
			"getReserves": func([]interface{}) []interface{} {
				return []interface{}{big.NewInt(16231137593), big.NewInt(25713363015367), uint32(1700000000)}
			},
		},
	}, nil)
	reserve0, reserve1, err := v2.Reserves(context.Background(), pairAddress, 99)
	if err != nil || reserve0.Int64() != 16231137593 || reserve1.Int64() != 25713363015367 {
		t.Fatalf("reserves mismatch: %v %v %v", reserve0, reserve1, err)
	}
}
