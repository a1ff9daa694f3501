package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
	"arbScope/internal/pubsub"
)

var (
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai        = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	stablePair = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func newStable(t *testing.T, reserve0, reserve1 string) *SolidlyPool {
	t.Helper()
	p, err := NewSolidlyPool(SolidlyPoolConfig{
		Address:   stablePair,
		Token0:    usdc,
		Token1:    dai,
		Stable:    true,
		Decimals0: 6,
		Decimals1: 18,
		Reserve0:  bigInt(t, reserve0),
		Reserve1:  bigInt(t, reserve1),
		Block:     100,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func TestSolidlyStableQuotes(t *testing.T) {
	p := newStable(t, "1000000000000", "1000000000000000000000000")
	if p.Kind() != KindSolidly || !p.Stable() {
		t.Fatalf("pool kind mismatch: %s %v", p.Kind(), p.Stable())
	}
	if fee, err := p.Fee(usdc); err != nil || fee != DefaultStableFee {
		t.Fatalf("default fee mismatch: %+v %v", fee, err)
	}

	cases := []struct {
		name    string
		tokenIn common.Address
		amount  string
		want    string
	}{
		{"usdc in", usdc, "1000000000", "999499999500999250748"},
		{"dai in", dai, "1000000000000000000000", "999499999"},
		{"dust", usdc, "1", "999999999999"},
	}
	for _, tc := range cases {
		out, err := p.Quote(nil, tc.tokenIn, bigInt(t, tc.amount))
		if err != nil || out.String() != tc.want {
			t.Fatalf("%s quote mismatch: %v %v", tc.name, out, err)
		}
	}

	// An imbalanced pool pays less for the scarce side.
	out, err := p.Quote(V2State{Pool: stablePair, Reserve0: bigInt(t, "1000000000000"), Reserve1: bigInt(t, "500000000000000000000000")}, usdc, bigInt(t, "1000000000"))
	if err != nil || out.String() != "927713144072331487939" {
		t.Fatalf("imbalanced quote mismatch: %v %v", out, err)
	}
}

func TestSolidlyVolatileQuotes(t *testing.T) {
	p, err := NewSolidlyPool(SolidlyPoolConfig{
		Address:   stablePair,
		Token0:    wbtc,
		Token1:    weth,
		Decimals0: 18,
		Decimals1: 18,
		Reserve0:  bigInt(t, "1000000000000000000000"),
		Reserve1:  bigInt(t, "2000000000000000000000"),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if fee, _ := p.Fee(weth); fee != DefaultVolatileFee {
		t.Fatalf("default fee mismatch: %+v", fee)
	}
	out, err := p.Quote(nil, wbtc, bigInt(t, "1000000000000000000"))
	if err != nil || out.String() != "1992013962079806432" {
		t.Fatalf("0 -> 1 mismatch: %v %v", out, err)
	}
	out, err = p.Quote(nil, weth, bigInt(t, "1000000000000000000"))
	if err != nil || out.String() != "498251621566649025" {
		t.Fatalf("1 -> 0 mismatch: %v %v", out, err)
	}
	if got := p.SpotPrice(p.State().(V2State)); got.Cmp(big.NewRat(2, 1)) != 0 {
		t.Fatalf("spot price mismatch: %s", got)
	}
}

func TestSolidlyQuoteInInvertsQuote(t *testing.T) {
	p := newStable(t, "1000000000000", "1000000000000000000000000")
	for _, tc := range []struct {
		tokenOut common.Address
		amount   string
	}{
		{dai, "999499999500999250748"},
		{dai, "1"},
		{usdc, "250000000"},
	} {
		want := bigInt(t, tc.amount)
		in, err := p.QuoteIn(nil, tc.tokenOut, want)
		if err != nil {
			t.Fatalf("quote in %s: %v", tc.amount, err)
		}
		tokenIn := usdc
		if tc.tokenOut == usdc {
			tokenIn = dai
		}
		out, err := p.Quote(nil, tokenIn, in)
		if err != nil || out.Cmp(want) < 0 {
			t.Fatalf("input %s does not cover %s: %v %v", in, want, out, err)
		}
		if in.Cmp(big.NewInt(1)) > 0 {
			less, err := p.Quote(nil, tokenIn, new(big.Int).Sub(in, big.NewInt(1)))
			if err == nil && less.Cmp(want) >= 0 {
				t.Fatalf("input %s is not minimal for %s", in, want)
			}
		}
	}

	if _, err := p.QuoteIn(nil, usdc, bigInt(t, "1000000000000")); !errors.Is(err, ErrInsufficientReserves) {
		t.Fatalf("expected insufficient reserves, got %v", err)
	}
}

func TestSolidlyStableSpotPrice(t *testing.T) {
	p := newStable(t, "1000000000000", "1000000000000000000000000")
	want := new(big.Rat).SetInt(bigInt(t, "1000000000000"))
	if got := p.SpotPrice(p.State().(V2State)); got.Cmp(want) != 0 {
		t.Fatalf("balanced spot price mismatch: %s", got)
	}

	// The marginal price sits between the prices of a tiny trade either way.
	imbalanced := V2State{Pool: stablePair, Reserve0: bigInt(t, "1000000000000"), Reserve1: bigInt(t, "700000000000000000000000")}
	spot := p.SpotPrice(imbalanced)
	out, err := p.Quote(imbalanced, usdc, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// Undo the fee to compare the execution price with the marginal one.
	exec := new(big.Rat).SetFrac(out, big.NewInt(1_000_000-500))
	if exec.Cmp(spot) > 0 {
		t.Fatalf("execution price %s above spot %s", exec.FloatString(6), spot.FloatString(6))
	}
	ratio, _ := new(big.Rat).Quo(exec, spot).Float64()
	if ratio < 0.9999 {
		t.Fatalf("execution price %s too far from spot %s", exec.FloatString(6), spot.FloatString(6))
	}
}

func TestSolidlyUpdatesAndSnapshot(t *testing.T) {
	p := newStable(t, "1000000000000", "1000000000000000000000000")
	rec := &recorder{}
	pubsub.Add(p.Subscribers(), rec)

	if changed, err := p.ExternalUpdate(V2Update{Block: 101, Reserve0: big.NewInt(7), Reserve1: big.NewInt(8)}); err != nil || !changed {
		t.Fatalf("update: %v %v", changed, err)
	}
	if len(rec.updates) != 1 {
		t.Fatalf("expected one notification, got %d", len(rec.updates))
	}
	if err := p.RestoreBefore(101); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if st := p.State().(V2State); st.Block != 100 || st.Reserve0.String() != "1000000000000" {
		t.Fatalf("restored state mismatch: %+v", st)
	}
	if _, err := p.Quote(V3State{}, usdc, big.NewInt(1)); !errors.Is(err, ErrStateKind) {
		t.Fatalf("expected state kind error, got %v", err)
	}

	snap := Snapshot(p)
	if snap.Kind != model.PoolKindSolidly || !snap.Stable || snap.Decimals0 != 6 || snap.Decimals1 != 18 || snap.Fee != 500 {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	rebuilt, err := FromSnapshot(snap, SnapshotOptions{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	out, err := rebuilt.CalculateTokensOut(context.Background(), usdc, bigInt(t, "1000000000"), nil)
	if err != nil || out.String() != "999499999500999250748" {
		t.Fatalf("rebuilt quote mismatch: %v %v", out, err)
	}
}

func TestNewSolidlyPoolRejectsInvalidConfig(t *testing.T) {
	base := SolidlyPoolConfig{Address: stablePair, Token0: usdc, Token1: dai, Reserve0: big.NewInt(1), Reserve1: big.NewInt(1)}

	badFee := base
	badFee.Fees = FlatFee{Numerator: 1, Denominator: 1}
	if _, err := NewSolidlyPool(badFee); err == nil {
		t.Fatalf("expected invalid fee error")
	}
	same := base
	same.Token1 = usdc
	if _, err := NewSolidlyPool(same); err == nil {
		t.Fatalf("expected identical tokens error")
	}
	directional := base
	directional.Fees = DirectionalFee{Fee0: Fee{Numerator: 1, Denominator: 10_000}, Fee1: Fee{Numerator: 4, Denominator: 10_000}}
	p, err := NewSolidlyPool(directional)
	if err != nil {
		t.Fatalf("directional fee: %v", err)
	}
	if fee, _ := p.Fee(dai); fee.Numerator != 4 {
		t.Fatalf("directional fee mismatch: %+v", fee)
	}
}
