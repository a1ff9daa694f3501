package dex

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
	"arbScope/internal/pool"
	"arbScope/internal/tickindex"
)

var (
	pairAddress = common.HexToAddress("0x4444444444444444444444444444444444444444")
	poolAddress = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func newTestPair(t *testing.T) *pool.ProductPool {
	t.Helper()
	p, err := pool.NewProductPool(pool.ProductPoolConfig{
		Address:  pairAddress,
		Token0:   common.HexToAddress(testToken0),
		Token1:   common.HexToAddress(testToken1),
		Reserve0: big.NewInt(1_000_000),
		Reserve1: big.NewInt(2_000_000),
		Block:    10,
	})
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	return p
}

func newTestConcentrated(t *testing.T) *pool.ConcentratedPool {
	t.Helper()
	index, err := tickindex.New(60, map[int16]tickindex.Word{0: {Block: 10}}, nil, tickindex.Options{Block: 10})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	p, err := pool.NewConcentratedPool(pool.ConcentratedPoolConfig{
		Address:      poolAddress,
		Token0:       common.HexToAddress(testToken0),
		Token1:       common.HexToAddress(testToken1),
		Fee:          3000,
		Liquidity:    big.NewInt(1000),
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		Index:        index,
		Block:        10,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func typedEvent(block, logIndex uint64, address common.Address, name string, data interface{}) *model.TypedEvent {
	return &model.TypedEvent{
		BlockNumber: block,
		LogIndex:    logIndex,
		Address:     address.Hex(),
		EventName:   name,
		Decoded:     data,
	}
}

func TestApplySync(t *testing.T) {
	ctx := context.Background()
	pair := newTestPair(t)

	changed, err := ApplyEvent(ctx, pair, typedEvent(11, 0, pairAddress, "Sync", model.SyncEventData{Reserve0: "900000", Reserve1: "2222223"}))
	if err != nil || !changed {
		t.Fatalf("apply sync: %v %v", changed, err)
	}
	st := pair.State().(pool.V2State)
	if st.Reserve0.String() != "900000" || st.Reserve1.String() != "2222223" || st.Block != 11 {
		t.Fatalf("reserves mismatch: %+v", st)
	}

	if _, err := ApplyEvent(ctx, newTestConcentrated(t), typedEvent(11, 0, poolAddress, "Sync", model.SyncEventData{Reserve0: "1", Reserve1: "1"})); err == nil {
		t.Fatalf("expected sync on concentrated pool to fail")
	}
	if _, err := ApplyEvent(ctx, pair, typedEvent(12, 0, pairAddress, "Sync", model.SyncEventData{Reserve0: "x", Reserve1: "1"})); err == nil {
		t.Fatalf("expected invalid reserve error")
	}
}

func TestApplyConcentratedEvents(t *testing.T) {
	ctx := context.Background()
	p := newTestConcentrated(t)

	changed, err := ApplyEvent(ctx, p, typedEvent(11, 1, poolAddress, "Mint", model.MintEventData{Amount: "500", TickLower: -60, TickUpper: 60}))
	if err != nil || !changed {
		t.Fatalf("apply mint: %v %v", changed, err)
	}
	st := p.State().(pool.V3State)
	if st.Liquidity.String() != "1500" {
		t.Fatalf("in-range mint liquidity mismatch: %s", st.Liquidity)
	}
	if tick, ok := st.Index.Tick(-60); !ok || tick.LiquidityNet.String() != "500" {
		t.Fatalf("lower tick mismatch: %+v %v", tick, ok)
	}
	if tick, ok := st.Index.Tick(60); !ok || tick.LiquidityNet.String() != "-500" {
		t.Fatalf("upper tick mismatch: %+v %v", tick, ok)
	}

	changed, err = ApplyEvent(ctx, p, typedEvent(11, 2, poolAddress, "Burn", model.BurnEventData{Amount: "0", TickLower: -60, TickUpper: 60}))
	if err != nil || changed {
		t.Fatalf("zero burn should be ignored: %v %v", changed, err)
	}

	changed, err = ApplyEvent(ctx, p, typedEvent(11, 3, poolAddress, "Burn", model.BurnEventData{Amount: "500", TickLower: -60, TickUpper: 60}))
	if err != nil || !changed {
		t.Fatalf("apply burn: %v %v", changed, err)
	}
	st = p.State().(pool.V3State)
	if st.Liquidity.String() != "1000" || st.Index.Len() != 0 {
		t.Fatalf("burn should restore liquidity: %s %d", st.Liquidity, st.Index.Len())
	}

	changed, err = ApplyEvent(ctx, p, typedEvent(12, 0, poolAddress, "Swap", model.SwapEventData{
		Amount0:      "10",
		Amount1:      "-9",
		SqrtPriceX96: "79228162514264337593543950336",
		Liquidity:    "2000",
		Tick:         -1,
	}))
	if err != nil || !changed {
		t.Fatalf("apply swap: %v %v", changed, err)
	}
	st = p.State().(pool.V3State)
	if st.Liquidity.String() != "2000" || st.Tick != -1 || st.Block != 12 {
		t.Fatalf("swap state mismatch: %s %d %d", st.Liquidity, st.Tick, st.Block)
	}

	changed, err = ApplyEvent(ctx, p, typedEvent(12, 1, poolAddress, "Collect", model.CollectEventData{Amount0: "1"}))
	if err != nil || changed {
		t.Fatalf("collect should be ignored: %v %v", changed, err)
	}

	if _, err := ApplyEvent(ctx, newTestPair(t), typedEvent(13, 0, pairAddress, "Mint", model.MintEventData{Amount: "1", TickLower: -60, TickUpper: 60})); err == nil {
		t.Fatalf("expected mint on product pool to fail")
	}
}

func TestApplyOutOfOrder(t *testing.T) {
	ctx := context.Background()
	pair := newTestPair(t)
	if _, err := ApplyEvent(ctx, pair, typedEvent(20, 5, pairAddress, "Sync", model.SyncEventData{Reserve0: "1", Reserve1: "2"})); err != nil {
		t.Fatalf("apply sync: %v", err)
	}
	if _, err := ApplyEvent(ctx, pair, typedEvent(20, 4, pairAddress, "Sync", model.SyncEventData{Reserve0: "3", Reserve1: "4"})); err == nil {
		t.Fatalf("expected stale update error")
	}
}

func TestV2PairDecoderSync(t *testing.T) {
	pairABI, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	ctx := cachedContext(pairAddress, model.PoolMeta{Kind: model.PoolKindV2, Token0: testToken0, Token1: testToken1})

	v3, err := NewV3PoolDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("v3 decoder: %v", err)
	}
	v2, err := NewV2PairDecoder()
	if err != nil {
		t.Fatalf("v2 decoder: %v", err)
	}
	decoders := Decoders{v3, v2}

	sync := pairABI.Events["Sync"]
	if !decoders.CanDecode(sync.ID.Hex()) || v3.CanDecode(sync.ID.Hex()) {
		t.Fatalf("sync topic routing mismatch")
	}

	data, err := sync.Inputs.NonIndexed().Pack(big.NewInt(16231137593), new(big.Int).SetUint64(2571336301536722443))
	if err != nil {
		t.Fatalf("pack sync: %v", err)
	}
	event, err := decoders.Decode(buildLogRecord(pairAddress, sync.ID, data, nil), ctx)
	if err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	got, ok := event.Decoded.(model.SyncEventData)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event.Decoded)
	}
	if got.Reserve0 != "16231137593" || got.Reserve1 != "2571336301536722443" {
		t.Fatalf("reserves mismatch: %+v", got)
	}
	if event.EventName != "Sync" || event.PoolMeta.Kind != model.PoolKindV2 {
		t.Fatalf("event mismatch: %s %+v", event.EventName, event.PoolMeta)
	}

	unknown := buildLogRecord(pairAddress, common.HexToHash("0x01"), nil, nil)
	if _, err := decoders.Decode(unknown, ctx); err == nil {
		t.Fatalf("expected unsupported topic error")
	}
}

func TestSolidlySyncDecodesAndApplies(t *testing.T) {
	solidlyABI, err := SolidlyPoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	pairABI, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	sync := solidlyABI.Events["Sync"]
	if sync.ID == pairABI.Events["Sync"].ID {
		t.Fatalf("sync topics should differ")
	}

	decoder, err := NewV2PairDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if !decoder.CanDecode(sync.ID.Hex()) {
		t.Fatalf("solidly sync topic not routed")
	}
	ctx := cachedContext(pairAddress, model.PoolMeta{Kind: model.PoolKindSolidly, Token0: testToken0, Token1: testToken1, Stable: true})
	data, err := sync.Inputs.NonIndexed().Pack(big.NewInt(5_000_000), big.NewInt(4_000_000))
	if err != nil {
		t.Fatalf("pack sync: %v", err)
	}
	event, err := decoder.Decode(buildLogRecord(pairAddress, sync.ID, data, nil), ctx)
	if err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if event.PoolMeta.Kind != model.PoolKindSolidly || !event.PoolMeta.Stable {
		t.Fatalf("meta mismatch: %+v", event.PoolMeta)
	}

	p, err := pool.NewSolidlyPool(pool.SolidlyPoolConfig{
		Address:   pairAddress,
		Token0:    common.HexToAddress(testToken0),
		Token1:    common.HexToAddress(testToken1),
		Stable:    true,
		Decimals0: 6,
		Decimals1: 6,
		Reserve0:  big.NewInt(1_000_000),
		Reserve1:  big.NewInt(1_000_000),
		Block:     10,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	event.BlockNumber = 11
	changed, err := ApplyEvent(context.Background(), p, event)
	if err != nil || !changed {
		t.Fatalf("apply sync: %v %v", changed, err)
	}
	st := p.State().(pool.V2State)
	if st.Reserve0.String() != "5000000" || st.Reserve1.String() != "4000000" {
		t.Fatalf("reserves mismatch: %+v", st)
	}
}
