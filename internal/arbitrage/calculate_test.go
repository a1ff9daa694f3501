package arbitrage

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"arbScope/internal/dex"
	"arbScope/internal/engine"
	"arbScope/internal/pool"
	"arbScope/internal/tickindex"
)

var searcher = common.HexToAddress("0x7777777777777777777777777777777777777777")

func productCycle(t *testing.T, first, second *pool.ProductPool) *Cycle {
	t.Helper()
	c, err := NewCycle("weth-product", weth, []pool.Pool{first, second}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}
	return c
}

func loadV3(t *testing.T) *pool.ConcentratedPool {
	t.Helper()
	snap, err := pool.LoadSnapshot("../pool/testdata/wbtc_weth_v3.json")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	p, err := pool.FromSnapshot(snap, pool.SnapshotOptions{})
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	return p.(*pool.ConcentratedPool)
}

// mixedCycle is WETH -> WBTC on a constant product pair, then WBTC -> WETH on
// a concentrated pool, with the concentrated price moved to open an arbitrage.
func mixedCycle(t *testing.T) (*Cycle, *pool.ConcentratedPool, map[common.Address]pool.State) {
	t.Helper()
	v2 := newPair(t, v2Pair, wbtc, weth, "16231137593", "2571336301536722443178")
	v3 := loadV3(t)
	c, err := NewCycle("weth-v2-v3", weth, []pool.Pool{v2, v3}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}

	moved := v3.State().(pool.V3State)
	moved.Liquidity = bigInt(t, "1533143241938066251")
	moved.SqrtPriceX96 = bigInt(t, "31881290961944305252140777263703426")
	moved.Tick = 258116
	return c, v3, map[common.Address]pool.State{v3.Address(): moved}
}

func profitAt(t *testing.T, c *Cycle, x *big.Int) *big.Int {
	t.Helper()
	states, err := c.snapshot(nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out, err := c.chain(states, x)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	return out.Sub(out, x)
}

func TestCalculateProductPair(t *testing.T) {
	a := newPair(t, lp1, wbtc, weth, "16000000000", "2500000000000000000000")
	b := newPair(t, lp2, wbtc, weth, "15000000000", "2500000000000000000000")
	c := productCycle(t, a, b)

	res, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.ProfitAmount.Sign() <= 0 || res.InputAmount.Cmp(c.MaxInput()) > 0 {
		t.Fatalf("result out of range: in=%s profit=%s", res.InputAmount, res.ProfitAmount)
	}
	if got := profitAt(t, c, res.InputAmount); got.Cmp(res.ProfitAmount) != 0 {
		t.Fatalf("profit does not match the swap chain: %s != %s", got, res.ProfitAmount)
	}
	half := new(big.Int).Rsh(res.InputAmount, 1)
	double := new(big.Int).Lsh(res.InputAmount, 1)
	for _, x := range []*big.Int{half, double} {
		if profitAt(t, c, x).Cmp(res.ProfitAmount) >= 0 {
			t.Fatalf("input %s beats the optimum %s", x, res.InputAmount)
		}
	}

	first, ok := res.SwapAmounts[0].(V2SwapAmounts)
	if !ok || first.Pool != lp1 {
		t.Fatalf("first swap mismatch: %+v", res.SwapAmounts[0])
	}
	if first.AmountsIn[0].Sign() != 0 || first.AmountsIn[1].Cmp(res.InputAmount) != 0 || first.AmountsOut[1].Sign() != 0 {
		t.Fatalf("weth in should be token1: %+v", first)
	}
	second := res.SwapAmounts[1].(V2SwapAmounts)
	if second.AmountsIn[0].Cmp(first.AmountsOut[0]) != 0 || second.AmountsOut[0].Sign() != 0 {
		t.Fatalf("second hop should spend the first hop's output: %+v", second)
	}
	if res.StateBlock != 100 || res.ProfitToken != weth {
		t.Fatalf("result metadata mismatch: %+v", res)
	}

	_, err = productCycle(t, b, a).Calculate(context.Background(), nil, Options{})
	var below *RateBelowMinimumError
	if !errors.As(err, &below) {
		t.Fatalf("expected rate below minimum, got %v", err)
	}
	if below.Rate.Cmp(big.NewRat(1, 1)) >= 0 {
		t.Fatalf("reverse rate should be under one: %s", below.Rate.FloatString(6))
	}
}

func TestCalculateMinimumRate(t *testing.T) {
	a := newPair(t, lp1, wbtc, weth, "16000000000", "2500000000000000000000")
	b := newPair(t, lp2, wbtc, weth, "15000000000", "2500000000000000000000")
	c := productCycle(t, a, b)

	// net rate is about 1.0603
	_, err := c.Calculate(context.Background(), nil, Options{MinRateOfExchange: big.NewRat(107, 100)})
	var below *RateBelowMinimumError
	if !errors.As(err, &below) {
		t.Fatalf("expected rate below minimum, got %v", err)
	}
	if _, err := c.Calculate(context.Background(), nil, Options{MinRateOfExchange: big.NewRat(105, 100)}); err != nil {
		t.Fatalf("calculate: %v", err)
	}
}

func TestCalculateMixedCycle(t *testing.T) {
	c, v3, overrides := mixedCycle(t)

	_, err := c.Calculate(context.Background(), nil, Options{})
	var below *RateBelowMinimumError
	if !errors.As(err, &below) {
		t.Fatalf("current state should fail the pre-check, got %v", err)
	}

	res, err := c.Calculate(context.Background(), overrides, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.InputAmount.String() != "20454968409226055680" {
		t.Fatalf("input mismatch: %s", res.InputAmount)
	}
	if res.ProfitAmount.String() != "163028226755627521" {
		t.Fatalf("profit mismatch: %s", res.ProfitAmount)
	}

	first := res.SwapAmounts[0].(V2SwapAmounts)
	if first.AmountsIn[0].Sign() != 0 || first.AmountsIn[1].String() != "20454968409226055680" {
		t.Fatalf("v2 amounts in mismatch: %v", first.AmountsIn)
	}
	if first.AmountsOut[0].String() != "127718318" || first.AmountsOut[1].Sign() != 0 {
		t.Fatalf("v2 amounts out mismatch: %v", first.AmountsOut)
	}
	second := res.SwapAmounts[1].(V3SwapAmounts)
	if second.Pool != v3.Address() || second.AmountSpecified.String() != "127718318" || !second.ZeroForOne {
		t.Fatalf("v3 swap mismatch: %+v", second)
	}
	if second.SqrtPriceLimitX96.String() != "4295128740" {
		t.Fatalf("price limit mismatch: %s", second.SqrtPriceLimitX96)
	}

	out, err := v3.Quote(overrides[v3.Address()], wbtc, second.AmountSpecified)
	if err != nil || out.String() != "20617996635981683201" {
		t.Fatalf("v3 output mismatch: %v %v", out, err)
	}
}

func TestGeneratePayloads(t *testing.T) {
	c, v3, overrides := mixedCycle(t)
	res, err := c.Calculate(context.Background(), overrides, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	payloads, err := c.GeneratePayloads(searcher, res)
	if err != nil {
		t.Fatalf("payloads: %v", err)
	}
	if len(payloads) != 3 {
		t.Fatalf("expected transfer and two swaps, got %d", len(payloads))
	}

	erc20, _ := dex.ERC20ABI()
	pairABI, _ := dex.V2PairABI()
	poolABI, _ := dex.V3PoolABI()

	transfer := payloads[0]
	if transfer.Target != weth || !bytes.Equal(transfer.Calldata[:4], erc20.Methods["transfer"].ID) || transfer.Value.Sign() != 0 {
		t.Fatalf("transfer payload mismatch: %+v", transfer)
	}
	args, err := erc20.Methods["transfer"].Inputs.Unpack(transfer.Calldata[4:])
	if err != nil {
		t.Fatalf("unpack transfer: %v", err)
	}
	if args[0].(common.Address) != v2Pair || args[1].(*big.Int).Cmp(res.InputAmount) != 0 {
		t.Fatalf("transfer args mismatch: %v", args)
	}

	v2Swap := payloads[1]
	if v2Swap.Target != v2Pair || !bytes.Equal(v2Swap.Calldata[:4], pairABI.Methods["swap"].ID) {
		t.Fatalf("v2 swap payload mismatch: %+v", v2Swap)
	}
	args, err = pairABI.Methods["swap"].Inputs.Unpack(v2Swap.Calldata[4:])
	if err != nil {
		t.Fatalf("unpack v2 swap: %v", err)
	}
	if args[0].(*big.Int).String() != "127718318" || args[1].(*big.Int).Sign() != 0 || args[2].(common.Address) != searcher {
		t.Fatalf("v2 swap args mismatch: %v", args)
	}

	v3Swap := payloads[2]
	if v3Swap.Target != v3.Address() {
		t.Fatalf("v3 swap target mismatch: %s", v3Swap.Target.Hex())
	}
	args, err = poolABI.Methods["swap"].Inputs.Unpack(v3Swap.Calldata[4:])
	if err != nil {
		t.Fatalf("unpack v3 swap: %v", err)
	}
	if args[0].(common.Address) != searcher || !args[1].(bool) || args[2].(*big.Int).String() != "127718318" {
		t.Fatalf("v3 swap args mismatch: %v", args)
	}
	if args[3].(*big.Int).Cmp(engine.DefaultPriceLimit(true)) != 0 {
		t.Fatalf("v3 price limit mismatch: %v", args[3])
	}

	res.SwapAmounts = res.SwapAmounts[:1]
	if _, err := c.GeneratePayloads(searcher, res); err == nil {
		t.Fatalf("expected hop count mismatch error")
	}
}

func TestGeneratePayloadsChainsProductPairs(t *testing.T) {
	a := newPair(t, lp1, wbtc, weth, "16000000000", "2500000000000000000000")
	b := newPair(t, lp2, wbtc, weth, "15000000000", "2500000000000000000000")
	c := productCycle(t, a, b)
	res, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	payloads, err := c.GeneratePayloads(searcher, res)
	if err != nil {
		t.Fatalf("payloads: %v", err)
	}
	if len(payloads) != 3 {
		t.Fatalf("expected transfer and two swaps, got %d", len(payloads))
	}

	pairABI, _ := dex.V2PairABI()
	first, err := pairABI.Methods["swap"].Inputs.Unpack(payloads[1].Calldata[4:])
	if err != nil {
		t.Fatalf("unpack first swap: %v", err)
	}
	if first[2].(common.Address) != lp2 {
		t.Fatalf("first swap should pay the next pair, got %s", first[2].(common.Address).Hex())
	}
	last, err := pairABI.Methods["swap"].Inputs.Unpack(payloads[2].Calldata[4:])
	if err != nil {
		t.Fatalf("unpack last swap: %v", err)
	}
	if last[2].(common.Address) != searcher || last[1].(*big.Int).Cmp(new(big.Int).Add(res.InputAmount, res.ProfitAmount)) != 0 {
		t.Fatalf("last swap mismatch: %v", last)
	}
}

func TestCalculateWithPool(t *testing.T) {
	c, _, overrides := mixedCycle(t)
	exec := NewGoroutineExecutor(2)

	future, err := c.CalculateWithPool(context.Background(), exec, overrides, Options{})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if future.JobID == "" {
		t.Fatalf("missing job id")
	}
	res, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.ProfitAmount.String() != "163028226755627521" {
		t.Fatalf("profit mismatch: %s", res.ProfitAmount)
	}

	if _, err := c.CalculateWithPool(context.Background(), exec, nil, Options{}); err == nil {
		t.Fatalf("pre-check should reject the current state synchronously")
	}

	isolated := NewIsolatedExecutor(1)
	if !isolated.Isolated() || exec.Isolated() {
		t.Fatalf("executor isolation mismatch")
	}
	future, err = c.CalculateWithPool(context.Background(), isolated, overrides, Options{})
	if err != nil {
		t.Fatalf("schedule isolated: %v", err)
	}
	if res, err = future.Wait(context.Background()); err != nil || res.ProfitAmount.String() != "163028226755627521" {
		t.Fatalf("isolated result mismatch: %v %v", res.ProfitAmount, err)
	}
}

func TestCalculateWithPoolRejectsSparseIndex(t *testing.T) {
	v2 := newPair(t, v2Pair, wbtc, weth, "16231137593", "2571336301536722443178")
	sparse, err := pool.NewConcentratedPool(pool.ConcentratedPoolConfig{
		Address:      common.HexToAddress("0xCBCdF9626bC03E24f779434178A73a0B4bad62eD"),
		Token0:       wbtc,
		Token1:       weth,
		Fee:          3000,
		Liquidity:    bigInt(t, "1533143241938066251"),
		SqrtPriceX96: bigInt(t, "31881290961944305252140777263703426"),
		Tick:         258116,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	c, err := NewCycle("weth-sparse", weth, []pool.Pool{v2, sparse}, nil, nil)
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}

	if _, err := c.CalculateWithPool(context.Background(), NewIsolatedExecutor(1), nil, Options{}); !errors.Is(err, ErrSparseIndex) {
		t.Fatalf("expected sparse index error, got %v", err)
	}
}

var dai = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

// stableCycle is USDC -> DAI on a constant product pair that sells DAI cheap,
// then DAI -> USDC on a balanced Solidly stable pool.
func stableCycle(t *testing.T) (*Cycle, *pool.SolidlyPool) {
	t.Helper()
	pair := newPair(t, lp1, dai, usdc, "1020000000000000000000000", "1000000000000")
	stable, err := pool.NewSolidlyPool(pool.SolidlyPoolConfig{
		Address:   lp2,
		Token0:    dai,
		Token1:    usdc,
		Stable:    true,
		Decimals0: 18,
		Decimals1: 6,
		Reserve0:  bigInt(t, "1000000000000000000000000"),
		Reserve1:  bigInt(t, "1000000000000"),
		Block:     100,
	})
	if err != nil {
		t.Fatalf("new stable pool: %v", err)
	}
	c, err := NewCycle("usdc-v2-stable", usdc, []pool.Pool{pair, stable}, big.NewInt(100_000_000_000), zap.NewNop())
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}
	return c, stable
}

func TestCalculateSolidlyCycle(t *testing.T) {
	c, stable := stableCycle(t)

	res, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got := profitAt(t, c, res.InputAmount); got.Cmp(res.ProfitAmount) != 0 {
		t.Fatalf("profit does not match the swap chain: %s != %s", got, res.ProfitAmount)
	}
	// The best input is near 7.9k USDC for about 67 USDC of profit.
	if res.ProfitAmount.Cmp(big.NewInt(60_000_000)) < 0 || res.ProfitAmount.Cmp(big.NewInt(70_000_000)) > 0 {
		t.Fatalf("profit out of range: %s at %s", res.ProfitAmount, res.InputAmount)
	}
	for _, x := range []*big.Int{new(big.Int).Rsh(res.InputAmount, 1), new(big.Int).Lsh(res.InputAmount, 1)} {
		if profitAt(t, c, x).Cmp(res.ProfitAmount) >= 0 {
			t.Fatalf("input %s beats the optimum %s", x, res.InputAmount)
		}
	}

	second, ok := res.SwapAmounts[1].(V2SwapAmounts)
	if !ok || second.Pool != stable.Address() || second.Kind != pool.KindSolidly {
		t.Fatalf("stable swap mismatch: %+v", res.SwapAmounts[1])
	}
	if first := res.SwapAmounts[0].(V2SwapAmounts); first.Kind != pool.KindV2 || second.AmountsIn[0].Cmp(first.AmountsOut[0]) != 0 {
		t.Fatalf("stable hop should spend the pair output: %+v %+v", first, second)
	}
	if second.AmountsOut[1].Cmp(new(big.Int).Add(res.InputAmount, res.ProfitAmount)) != 0 {
		t.Fatalf("stable output mismatch: %v", second.AmountsOut)
	}

	// Selling DAI into the pair first loses on both legs.
	reverse, err := NewCycle("usdc-stable-v2", usdc, []pool.Pool{stable, c.Pools()[0]}, nil, nil)
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}
	var below *RateBelowMinimumError
	if _, err := reverse.Calculate(context.Background(), nil, Options{}); !errors.As(err, &below) {
		t.Fatalf("expected rate below minimum, got %v", err)
	}
}

func TestGeneratePayloadsPrefundsSolidlyHop(t *testing.T) {
	c, stable := stableCycle(t)
	res, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	payloads, err := c.GeneratePayloads(searcher, res)
	if err != nil {
		t.Fatalf("payloads: %v", err)
	}
	if len(payloads) != 3 || payloads[0].Target != usdc || payloads[2].Target != stable.Address() {
		t.Fatalf("payloads mismatch: %+v", payloads)
	}

	pairABI, _ := dex.V2PairABI()
	first, err := pairABI.Methods["swap"].Inputs.Unpack(payloads[1].Calldata[4:])
	if err != nil {
		t.Fatalf("unpack first swap: %v", err)
	}
	if first[2].(common.Address) != stable.Address() {
		t.Fatalf("pair should pay the stable pool up front, got %s", first[2].(common.Address).Hex())
	}
	solidlyABI, _ := dex.SolidlyPoolABI()
	if !bytes.Equal(payloads[2].Calldata[:4], solidlyABI.Methods["swap"].ID) {
		t.Fatalf("stable swap selector mismatch: %x", payloads[2].Calldata[:4])
	}
	last, err := solidlyABI.Methods["swap"].Inputs.Unpack(payloads[2].Calldata[4:])
	if err != nil {
		t.Fatalf("unpack stable swap: %v", err)
	}
	if last[0].(*big.Int).Sign() != 0 || last[1].(*big.Int).Cmp(new(big.Int).Add(res.InputAmount, res.ProfitAmount)) != 0 || last[2].(common.Address) != searcher {
		t.Fatalf("stable swap args mismatch: %v", last)
	}
}

type countingFetcher struct {
	source *tickindex.Index
	calls  int
}

func (f *countingFetcher) FetchWord(_ context.Context, _ common.Address, _ int32, word int16, _ uint64) (*uint256.Int, map[int32]tickindex.Tick, error) {
	f.calls++
	w, err := f.source.Word(word)
	if err != nil {
		return nil, nil, err
	}
	_, all := f.source.Snapshot()
	ticks := make(map[int32]tickindex.Tick)
	for tick, data := range all {
		if f.source.WordPosition(tick) == word {
			ticks[tick] = data
		}
	}
	return &w.Bitmap, ticks, nil
}

func TestPreCheckRejectsBeforeSearch(t *testing.T) {
	fetcher := &countingFetcher{source: loadV3(t).State().(pool.V3State).Index}
	snap, err := pool.LoadSnapshot("../pool/testdata/wbtc_weth_v3.json")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	snap.TickBitmap, snap.TickData = nil, nil
	snap.Liquidity = "1533143241938066251"
	snap.SqrtPriceX96 = "31881290961944305252140777263703426"
	snap.Tick = 258116
	built, err := pool.FromSnapshot(snap, pool.SnapshotOptions{Fetcher: fetcher})
	if err != nil {
		t.Fatalf("build sparse pool: %v", err)
	}
	sparse := built.(*pool.ConcentratedPool)
	v2 := newPair(t, v2Pair, wbtc, weth, "16231137593", "2571336301536722443178")
	c, err := NewCycle("weth-v2-sparse", weth, []pool.Pool{v2, sparse}, nil, nil)
	if err != nil {
		t.Fatalf("new cycle: %v", err)
	}

	_, err = c.Calculate(context.Background(), nil, Options{MinRateOfExchange: big.NewRat(2, 1)})
	var below *RateBelowMinimumError
	if !errors.As(err, &below) {
		t.Fatalf("expected rate below minimum, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("rejected cycle fetched %d words", fetcher.calls)
	}

	res, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if fetcher.calls == 0 {
		t.Fatalf("search should fill the sparse index")
	}
	if res.ProfitAmount.String() != "163028226755627521" {
		t.Fatalf("gap filled profit mismatch: %s", res.ProfitAmount)
	}

	// Filled words stay in the cycle's cached state, so a repeat needs no fetches.
	known, _ := c.KnownState(sparse.Address())
	if known.(pool.V3State).Index != sparse.State().(pool.V3State).Index {
		t.Fatalf("cached index should follow the filled index")
	}
	fetched := fetcher.calls
	again, err := c.Calculate(context.Background(), nil, Options{})
	if err != nil || again.ProfitAmount.Cmp(res.ProfitAmount) != 0 || again.InputAmount.Cmp(res.InputAmount) != 0 {
		t.Fatalf("repeat calculation mismatch: %v %v", again.ProfitAmount, err)
	}
	if fetcher.calls != fetched {
		t.Fatalf("repeat calculation fetched %d more words", fetcher.calls-fetched)
	}
}
