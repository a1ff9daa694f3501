package tickindex

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
)

func newCompleteIndex(t *testing.T, spacing int32, ticks ...int32) *Index {
	t.Helper()
	ix, err := New(spacing, map[int16]Word{0: {}}, nil, Options{})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	for _, tick := range ticks {
		if err := ix.Flip(tick, 1); err != nil {
			t.Fatalf("flip %d: %v", tick, err)
		}
	}
	return ix
}

func TestNextInitializedTickGreaterThan(t *testing.T) {
	ix := newCompleteIndex(t, 1, -200, -55, -4, 70, 78, 84, 139, 240, 535)

	cases := []struct {
		from        int32
		next        int32
		initialized bool
	}{
		{78, 84, true},
		{77, 78, true},
		{-55, -4, true},
		{-56, -55, true},
		{-257, -200, true},
		{255, 511, false},
		{508, 511, false},
	}
	for _, tc := range cases {
		next, initialized, err := ix.NextInitializedTickWithinOneWord(tc.from, false)
		if err != nil {
			t.Fatalf("from %d: unexpected error: %v", tc.from, err)
		}
		if next != tc.next || initialized != tc.initialized {
			t.Fatalf("from %d: got (%d, %v), want (%d, %v)", tc.from, next, initialized, tc.next, tc.initialized)
		}
	}
}

func TestNextInitializedTickLessThanOrEqual(t *testing.T) {
	ix := newCompleteIndex(t, 1, -200, -55, -4, 70, 78, 84, 139, 240, 535)

	cases := []struct {
		from        int32
		next        int32
		initialized bool
	}{
		{78, 78, true},
		{79, 78, true},
		{72, 70, true},
		{258, 256, false},
		{256, 256, false},
		{-257, -512, false},
		{1023, 768, false},
		{900, 768, false},
	}
	for _, tc := range cases {
		next, initialized, err := ix.NextInitializedTickWithinOneWord(tc.from, true)
		if err != nil {
			t.Fatalf("from %d: unexpected error: %v", tc.from, err)
		}
		if next != tc.next || initialized != tc.initialized {
			t.Fatalf("from %d: got (%d, %v), want (%d, %v)", tc.from, next, initialized, tc.next, tc.initialized)
		}
	}
}

func TestNextInitializedTickNegativeUnaligned(t *testing.T) {
	ix := newCompleteIndex(t, 60, -120)

	// -1 compresses to -1, the last bit of word -1
	next, initialized, err := ix.NextInitializedTickWithinOneWord(-1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != -120 || !initialized {
		t.Fatalf("got (%d, %v), want (-120, true)", next, initialized)
	}
}

func TestSparseIndexMissingWord(t *testing.T) {
	ix, err := New(60, nil, nil, Options{})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if !ix.Sparse() {
		t.Fatalf("empty index should be sparse")
	}

	_, _, err = ix.NextInitializedTickWithinOneWord(60*256*3+5, false)
	var missing *MissingWordError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing word error, got %v", err)
	}
	if missing.Word != 3 {
		t.Fatalf("missing word mismatch: %d", missing.Word)
	}

	bitmap := new(uint256.Int).Lsh(uint256.NewInt(1), 10)
	filled := ix.WithWord(3, bitmap, map[int32]Tick{
		60 * (256*3 + 10): {LiquidityNet: big.NewInt(5), LiquidityGross: big.NewInt(5)},
	}, 7)
	if ix.HasWord(3) {
		t.Fatalf("gap fill mutated the original index")
	}

	next, initialized, err := filled.NextInitializedTickWithinOneWord(60*256*3+5, false)
	if err != nil {
		t.Fatalf("unexpected error after fill: %v", err)
	}
	if next != 60*(256*3+10) || !initialized {
		t.Fatalf("got (%d, %v) after fill", next, initialized)
	}
	if filled.LiquidityNet(next).Int64() != 5 {
		t.Fatalf("liquidity net mismatch after fill")
	}
}

func TestCompleteIndexFillsWordRange(t *testing.T) {
	ix, err := New(60, map[int16]Word{0: {}}, nil, Options{Block: 9})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	for _, pos := range []int16{-58, 57} {
		if !ix.HasWord(pos) {
			t.Fatalf("word %d missing from complete index", pos)
		}
	}
	if ix.HasWord(58) {
		t.Fatalf("word 58 is beyond the curve")
	}
	w, err := ix.Word(1000)
	if err != nil || !w.Bitmap.IsZero() {
		t.Fatalf("unknown word on complete index should be empty: %v", err)
	}
}

func TestApplyLiquidityDelta(t *testing.T) {
	ix := newCompleteIndex(t, 10)

	if err := ix.ApplyLiquidityDelta(-20, 30, big.NewInt(100), 2); err != nil {
		t.Fatalf("mint: %v", err)
	}
	lower, ok := ix.Tick(-20)
	if !ok || lower.LiquidityNet.Int64() != 100 || lower.LiquidityGross.Int64() != 100 {
		t.Fatalf("lower tick mismatch: %+v", lower)
	}
	upper, ok := ix.Tick(30)
	if !ok || upper.LiquidityNet.Int64() != -100 || upper.LiquidityGross.Int64() != 100 {
		t.Fatalf("upper tick mismatch: %+v", upper)
	}
	next, initialized, _ := ix.NextInitializedTickWithinOneWord(0, false)
	if next != 30 || !initialized {
		t.Fatalf("upper bit not set: (%d, %v)", next, initialized)
	}

	if err := ix.ApplyLiquidityDelta(-20, 30, big.NewInt(-100), 3); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, ok := ix.Tick(-20); ok {
		t.Fatalf("lower tick should be removed after full burn")
	}
	next, initialized, _ = ix.NextInitializedTickWithinOneWord(0, false)
	if initialized {
		t.Fatalf("upper bit still set after full burn: %d", next)
	}
}

func TestApplyLiquidityDeltaErrors(t *testing.T) {
	ix := newCompleteIndex(t, 10)

	if err := ix.ApplyLiquidityDelta(-15, 30, big.NewInt(1), 1); !errors.Is(err, ErrTickSpacing) {
		t.Fatalf("expected spacing error, got %v", err)
	}
	if err := ix.ApplyLiquidityDelta(0, 10, big.NewInt(-1), 1); err == nil {
		t.Fatalf("expected underflow on burn of empty range")
	}
	if _, ok := ix.Tick(0); ok {
		t.Fatalf("failed update left a partial tick")
	}

	sparse, _ := New(10, nil, nil, Options{Sparse: true})
	var missing *MissingWordError
	if err := sparse.ApplyLiquidityDelta(0, 10, big.NewInt(1), 1); !errors.As(err, &missing) {
		t.Fatalf("expected missing word, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ix := newCompleteIndex(t, 1, 5)
	clone := ix.Clone()
	if err := clone.Flip(6, 2); err != nil {
		t.Fatalf("flip: %v", err)
	}
	next, _, _ := ix.NextInitializedTickWithinOneWord(5, false)
	if next == 6 {
		t.Fatalf("flip on clone leaked into original")
	}
}

func TestBitmapTracksGrossLiquidity(t *testing.T) {
	const spacing = 10
	ix := newCompleteIndex(t, spacing)
	rng := rand.New(rand.NewSource(7))

	type span struct{ lower, upper int32 }
	positions := make(map[span]int64)
	var open []span

	// Boundaries on a coarse grid overlap often and straddle words -2 to 0.
	boundary := func() int32 { return int32(rng.Intn(40)-20) * 130 }

	for step := 0; step < 600; step++ {
		var (
			s     span
			delta int64
		)
		if len(open) == 0 || rng.Intn(3) > 0 {
			lower, upper := boundary(), boundary()
			for lower == upper {
				upper = boundary()
			}
			if lower > upper {
				lower, upper = upper, lower
			}
			s, delta = span{lower, upper}, int64(rng.Intn(1000)+1)
		} else {
			i := rng.Intn(len(open))
			s = open[i]
			// Burn part of the position, or all of it one time in four.
			delta = -int64(rng.Intn(int(positions[s])) + 1)
			if rng.Intn(4) == 0 {
				delta = -positions[s]
			}
		}

		if err := ix.ApplyLiquidityDelta(s.lower, s.upper, big.NewInt(delta), uint64(step)); err != nil {
			t.Fatalf("step %d apply [%d, %d) %d: %v", step, s.lower, s.upper, delta, err)
		}
		if positions[s] == 0 {
			open = append(open, s)
		}
		positions[s] += delta
		if positions[s] == 0 {
			delete(positions, s)
			for i := range open {
				if open[i] == s {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}

		gross := make(map[int32]int64)
		net := make(map[int32]int64)
		for p, liquidity := range positions {
			gross[p.lower] += liquidity
			gross[p.upper] += liquidity
			net[p.lower] += liquidity
			net[p.upper] -= liquidity
		}
		if ix.Len() != len(gross) {
			t.Fatalf("step %d: %d ticks, want %d", step, ix.Len(), len(gross))
		}
		for i := -20; i < 20; i++ {
			tick := int32(i) * 130
			next, initialized, err := ix.NextInitializedTickWithinOneWord(tick, true)
			if err != nil {
				t.Fatalf("step %d search %d: %v", step, tick, err)
			}
			bitSet := initialized && next == tick
			if bitSet != (gross[tick] > 0) {
				t.Fatalf("step %d tick %d: bit %v with gross %d", step, tick, bitSet, gross[tick])
			}
			data, ok := ix.Tick(tick)
			if ok != (gross[tick] > 0) {
				t.Fatalf("step %d tick %d: stored %v with gross %d", step, tick, ok, gross[tick])
			}
			if ok && (data.LiquidityGross.Int64() != gross[tick] || data.LiquidityNet.Int64() != net[tick]) {
				t.Fatalf("step %d tick %d liquidity mismatch: %s/%s want %d/%d", step, tick, data.LiquidityGross, data.LiquidityNet, gross[tick], net[tick])
			}
		}
	}
}
