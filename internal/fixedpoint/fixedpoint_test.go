package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func bi(s string) *big.Int {
	return mustBig(s)
}

func TestSqrtRatioAtTick(t *testing.T) {
	cases := []struct {
		tick int32
		want string
	}{
		{0, "79228162514264337593543950336"},
		{1, "79232123823359799118286999568"},
		{-1, "79224201403219477170569942574"},
		{60, "79466191966197645195421774833"},
		{257907, "31548515653017564950995369980910664"},
		{MinTick, "4295128739"},
		{MaxTick, "1461446703485210103287273052203988822378723970342"},
	}
	for _, tc := range cases {
		got, err := SqrtRatioAtTick(tc.tick)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", tc.tick, err)
		}
		if got.String() != tc.want {
			t.Fatalf("tick %d: sqrt ratio mismatch: %s != %s", tc.tick, got, tc.want)
		}
	}
}

func TestSqrtRatioAtTickOutOfRange(t *testing.T) {
	for _, tick := range []int32{MinTick - 1, MaxTick + 1} {
		_, err := SqrtRatioAtTick(tick)
		var rangeErr *RangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("tick %d: expected range error, got %v", tick, err)
		}
	}
}

func TestSqrtRatioAtTickDoesNotShareCache(t *testing.T) {
	first, _ := SqrtRatioAtTick(120)
	first.SetInt64(0)
	second, _ := SqrtRatioAtTick(120)
	if second.Sign() == 0 {
		t.Fatalf("cached ratio was mutated through a returned value")
	}
}

func TestTickAtSqrtRatio(t *testing.T) {
	cases := []struct {
		ratio *big.Int
		want  int32
	}{
		{MinSqrtRatio, MinTick},
		{new(big.Int).Sub(MaxSqrtRatio, one), MaxTick - 1},
		{bi("79228162514264337593543950336"), 0},
		{bi("31548515653017564950995369980910664"), 257907},
		{bi("31548515653017564950995369980910663"), 257906},
		{bi("31549217861118002279483878013792428"), 257907},
		{bi("31881290961944305252140777263703426"), 258116},
	}
	for _, tc := range cases {
		got, err := TickAtSqrtRatio(tc.ratio)
		if err != nil {
			t.Fatalf("ratio %s: unexpected error: %v", tc.ratio, err)
		}
		if got != tc.want {
			t.Fatalf("ratio %s: tick mismatch: %d != %d", tc.ratio, got, tc.want)
		}
	}
}

func TestTickAtSqrtRatioOutOfRange(t *testing.T) {
	below := new(big.Int).Sub(MinSqrtRatio, one)
	for _, ratio := range []*big.Int{below, MaxSqrtRatio} {
		if _, err := TickAtSqrtRatio(ratio); err == nil {
			t.Fatalf("ratio %s: expected range error", ratio)
		}
	}
}

func TestAddDelta(t *testing.T) {
	got, err := AddDelta(big.NewInt(10), big.NewInt(-4))
	if err != nil || got.Int64() != 6 {
		t.Fatalf("add delta mismatch: %v %v", got, err)
	}

	_, err = AddDelta(big.NewInt(1), big.NewInt(-2))
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) || rangeErr.Reason != "LS" {
		t.Fatalf("expected LS, got %v", err)
	}

	_, err = AddDelta(MaxUint128, big.NewInt(1))
	if !errors.As(err, &rangeErr) || rangeErr.Reason != "LA" {
		t.Fatalf("expected LA, got %v", err)
	}
}

func TestCheckedCasts(t *testing.T) {
	if _, err := ToUint128(new(big.Int).Add(MaxUint128, one)); err == nil {
		t.Fatalf("expected uint128 overflow")
	}
	if _, err := ToUint160(big.NewInt(-1)); err == nil {
		t.Fatalf("expected uint160 underflow")
	}
	if _, err := ToInt128(MinInt128); err != nil {
		t.Fatalf("min int128 rejected: %v", err)
	}
	if _, err := ToInt256(new(big.Int).Add(MaxInt256, one)); err == nil {
		t.Fatalf("expected int256 overflow")
	}
}

func TestMulDiv(t *testing.T) {
	down, err := MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), RoundDown)
	if err != nil || down.Int64() != 10 {
		t.Fatalf("round down mismatch: %v %v", down, err)
	}
	up, err := MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), RoundUp)
	if err != nil || up.Int64() != 11 {
		t.Fatalf("round up mismatch: %v %v", up, err)
	}

	// intermediate product wider than 256 bits
	got, err := MulDiv(MaxUint256, MaxUint256, MaxUint256, RoundDown)
	if err != nil || got.Cmp(MaxUint256) != 0 {
		t.Fatalf("wide product mismatch: %v %v", got, err)
	}

	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), RoundDown); err == nil {
		t.Fatalf("expected error for zero denominator")
	}
	if _, err := MulDiv(MaxUint256, big.NewInt(2), big.NewInt(1), RoundDown); err == nil {
		t.Fatalf("expected error for overflowing result")
	}
	if _, err := MulDiv(big.NewInt(535006138814359), bi("432862656469423142931042426214547535783388063929571229938474969"), big.NewInt(2), RoundUp); err == nil {
		t.Fatalf("expected error for overflowing rounded result")
	}
}

func TestDivRoundingUp(t *testing.T) {
	got, err := DivRoundingUp(big.NewInt(9), big.NewInt(4))
	if err != nil || got.Int64() != 3 {
		t.Fatalf("div rounding up mismatch: %v %v", got, err)
	}
	got, err = DivRoundingUp(big.NewInt(8), big.NewInt(4))
	if err != nil || got.Int64() != 2 {
		t.Fatalf("exact division mismatch: %v %v", got, err)
	}
}

func TestBitScans(t *testing.T) {
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	x.Or(x, uint256.NewInt(1<<7))

	msb, err := MostSignificantBit(x)
	if err != nil || msb != 200 {
		t.Fatalf("msb mismatch: %d %v", msb, err)
	}
	lsb, err := LeastSignificantBit(x)
	if err != nil || lsb != 7 {
		t.Fatalf("lsb mismatch: %d %v", lsb, err)
	}

	if _, err := MostSignificantBit(new(uint256.Int)); err == nil {
		t.Fatalf("expected error for zero msb")
	}
	if _, err := LeastSignificantBit(new(uint256.Int)); err == nil {
		t.Fatalf("expected error for zero lsb")
	}
}

func TestAmountDeltas(t *testing.T) {
	upper, _ := SqrtRatioAtTick(60)
	liquidity := bi("1000000000000000000")

	up, err := Amount0Delta(Q96, upper, liquidity, RoundUp)
	if err != nil || up.String() != "2995354955910781" {
		t.Fatalf("amount0 round up mismatch: %v %v", up, err)
	}
	down, err := Amount0Delta(upper, Q96, liquidity, RoundDown)
	if err != nil || down.String() != "2995354955910780" {
		t.Fatalf("amount0 round down mismatch: %v %v", down, err)
	}
	up, err = Amount1Delta(Q96, upper, liquidity, RoundUp)
	if err != nil || up.String() != "3004354062741926" {
		t.Fatalf("amount1 round up mismatch: %v %v", up, err)
	}

	signed, err := SignedAmount1Delta(Q96, upper, new(big.Int).Neg(liquidity))
	if err != nil || signed.String() != "-3004354062741925" {
		t.Fatalf("signed amount1 mismatch: %v %v", signed, err)
	}
}

func TestNextSqrtPrice(t *testing.T) {
	liquidity := bi("1000000000000000000")
	amount := bi("1000000000000000")

	got, err := NextSqrtPriceFromInput(Q96, liquidity, amount, true)
	if err != nil || got.String() != "79149013500763574019524425911" {
		t.Fatalf("token0 input mismatch: %v %v", got, err)
	}
	got, err = NextSqrtPriceFromInput(Q96, liquidity, amount, false)
	if err != nil || got.String() != "79307390676778601931137494286" {
		t.Fatalf("token1 input mismatch: %v %v", got, err)
	}

	if _, err := NextSqrtPriceFromInput(Q96, big.NewInt(0), amount, true); err == nil {
		t.Fatalf("expected error for zero liquidity")
	}
	// removing more token1 than the range holds
	if _, err := NextSqrtPriceFromOutput(Q96, big.NewInt(1), amount, true); err == nil {
		t.Fatalf("expected error for excessive output")
	}
}

func TestComputeSwapStep(t *testing.T) {
	liquidity := bi("1000000000000000000")
	lower, _ := SqrtRatioAtTick(-60)
	upper, _ := SqrtRatioAtTick(60)

	cases := []struct {
		name      string
		target    *big.Int
		remaining *big.Int
		want      [4]string
	}{
		{
			name:      "exact in stops inside range",
			target:    lower,
			remaining: bi("1000000000000000"),
			want:      [4]string{"79149250711305166342700278159", "997000000000000", "996006981039903", "3000000000000"},
		},
		{
			name:      "exact in reaches target",
			target:    lower,
			remaining: bi("10000000000000000"),
			want:      [4]string{lower.String(), "3004354062741926", "2995354955910780", "9040182736436"},
		},
		{
			name:      "exact out",
			target:    upper,
			remaining: bi("-1000000000000000"),
			want:      [4]string{"79307469984248586179723674011", "1001001001001002", "1000000000000000", "3012039120365"},
		},
	}

	for _, tc := range cases {
		step, err := ComputeSwapStep(Q96, tc.target, liquidity, tc.remaining, 3000)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		got := [4]string{step.SqrtRatioNextX96.String(), step.AmountIn.String(), step.AmountOut.String(), step.FeeAmount.String()}
		if got != tc.want {
			t.Fatalf("%s: step mismatch: %v != %v", tc.name, got, tc.want)
		}
	}

	if _, err := ComputeSwapStep(Q96, lower, liquidity, big.NewInt(1), FeeDenominator); err == nil {
		t.Fatalf("expected error for fee at denominator")
	}
}
