package tickindex

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"arbScope/internal/fixedpoint"
)

// Word is one 256-bit page of the tick bitmap.
type Word struct {
	Bitmap uint256.Int
	Block  uint64
}

// Tick holds the liquidity recorded at an initialized tick.
type Tick struct {
	LiquidityNet   *big.Int
	LiquidityGross *big.Int
	Block          uint64
}

// Options controls index construction.
type Options struct {
	// Sparse marks words absent from the input as unknown instead of empty.
	Sparse bool
	Block  uint64
}

// Index is the initialized-tick bitmap and per-tick liquidity of one pool.
// It is not safe for concurrent mutation; owners clone before writing.
type Index struct {
	spacing int32
	sparse  bool
	words   map[int16]Word
	ticks   map[int32]Tick
}

// New builds an index. An index built with no words and no ticks is sparse.
func New(spacing int32, words map[int16]Word, ticks map[int32]Tick, opts Options) (*Index, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("invalid tick spacing %d", spacing)
	}

	ix := &Index{
		spacing: spacing,
		sparse:  opts.Sparse || (len(words) == 0 && len(ticks) == 0),
		words:   make(map[int16]Word, len(words)),
		ticks:   make(map[int32]Tick, len(ticks)),
	}
	for pos, w := range words {
		ix.words[pos] = w
	}
	for tick, t := range ticks {
		if tick%spacing != 0 {
			return nil, fmt.Errorf("tick %d: %w", tick, ErrTickSpacing)
		}
		ix.ticks[tick] = Tick{
			LiquidityNet:   orZero(t.LiquidityNet),
			LiquidityGross: orZero(t.LiquidityGross),
			Block:          t.Block,
		}
	}

	if !ix.sparse {
		minWord, maxWord := ix.wordBounds()
		for pos := minWord; pos <= maxWord; pos++ {
			if _, ok := ix.words[pos]; !ok {
				ix.words[pos] = Word{Block: opts.Block}
			}
		}
	}

	return ix, nil
}

// Spacing returns the tick spacing.
func (ix *Index) Spacing() int32 { return ix.spacing }

// Sparse reports whether unknown words must be fetched.
func (ix *Index) Sparse() bool { return ix.sparse }

// Len returns the number of initialized ticks.
func (ix *Index) Len() int { return len(ix.ticks) }

// Clone returns an independent copy.
func (ix *Index) Clone() *Index {
	out := &Index{
		spacing: ix.spacing,
		sparse:  ix.sparse,
		words:   make(map[int16]Word, len(ix.words)),
		ticks:   make(map[int32]Tick, len(ix.ticks)),
	}
	for pos, w := range ix.words {
		out.words[pos] = w
	}
	for tick, t := range ix.ticks {
		out.ticks[tick] = t
	}
	return out
}

// WordPosition returns the bitmap word holding tick.
func (ix *Index) WordPosition(tick int32) int16 {
	pos, _ := position(ix.compress(tick))
	return pos
}

// HasWord reports whether the word at pos is known.
func (ix *Index) HasWord(pos int16) bool {
	_, ok := ix.words[pos]
	return ok
}

// Word returns the word at pos. An unknown word is empty on a complete index
// and a *MissingWordError on a sparse one.
func (ix *Index) Word(pos int16) (Word, error) {
	if w, ok := ix.words[pos]; ok {
		return w, nil
	}
	if ix.sparse {
		return Word{}, &MissingWordError{Word: pos}
	}
	return Word{}, nil
}

// WithWord returns a copy of the index with the word at pos and its ticks installed.
func (ix *Index) WithWord(pos int16, bitmap *uint256.Int, ticks map[int32]Tick, block uint64) *Index {
	out := ix.Clone()
	out.words[pos] = Word{Bitmap: *bitmap, Block: block}
	for tick, t := range ticks {
		out.ticks[tick] = Tick{
			LiquidityNet:   orZero(t.LiquidityNet),
			LiquidityGross: orZero(t.LiquidityGross),
			Block:          block,
		}
	}
	return out
}

// Tick returns the liquidity recorded at tick.
func (ix *Index) Tick(tick int32) (Tick, bool) {
	t, ok := ix.ticks[tick]
	return t, ok
}

// LiquidityNet returns the net liquidity at tick, zero when uninitialized.
func (ix *Index) LiquidityNet(tick int32) *big.Int {
	if t, ok := ix.ticks[tick]; ok {
		return new(big.Int).Set(t.LiquidityNet)
	}
	return new(big.Int)
}

// Snapshot returns copies of the known words and ticks.
func (ix *Index) Snapshot() (map[int16]Word, map[int32]Tick) {
	words := make(map[int16]Word, len(ix.words))
	for pos, w := range ix.words {
		words[pos] = w
	}
	ticks := make(map[int32]Tick, len(ix.ticks))
	for tick, t := range ix.ticks {
		ticks[tick] = t
	}
	return words, ticks
}

// Flip toggles the initialized bit of tick.
func (ix *Index) Flip(tick int32, block uint64) error {
	if tick%ix.spacing != 0 {
		return fmt.Errorf("flip tick %d: %w", tick, ErrTickSpacing)
	}
	pos, bit := position(ix.compress(tick))
	w, err := ix.Word(pos)
	if err != nil {
		return err
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bit))
	w.Bitmap.Xor(&w.Bitmap, mask)
	w.Block = block
	ix.words[pos] = w
	return nil
}

// NextInitializedTickWithinOneWord finds the next initialized tick at or before
// tick (lte) or strictly after it, searching only the word that holds the start.
// When none exists the word boundary is returned with initialized false.
func (ix *Index) NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool, error) {
	compressed := ix.compress(tick)

	if lte {
		pos, bit := position(compressed)
		w, err := ix.Word(pos)
		if err != nil {
			return 0, false, err
		}
		one := uint256.NewInt(1)
		shifted := new(uint256.Int).Lsh(one, uint(bit))
		mask := new(uint256.Int).Sub(shifted, one)
		mask.Add(mask, shifted)
		masked := mask.And(mask, &w.Bitmap)

		if masked.IsZero() {
			return (compressed - int32(bit)) * ix.spacing, false, nil
		}
		msb, _ := fixedpoint.MostSignificantBit(masked)
		return (compressed - int32(bit-msb)) * ix.spacing, true, nil
	}

	pos, bit := position(compressed + 1)
	w, err := ix.Word(pos)
	if err != nil {
		return 0, false, err
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bit))
	mask.SubUint64(mask, 1)
	mask.Not(mask)
	masked := mask.And(mask, &w.Bitmap)

	if masked.IsZero() {
		return (compressed + 1 + int32(255-bit)) * ix.spacing, false, nil
	}
	lsb, _ := fixedpoint.LeastSignificantBit(masked)
	return (compressed + 1 + int32(lsb-bit)) * ix.spacing, true, nil
}

type boundaryUpdate struct {
	tick    int32
	next    Tick
	flipped bool
}

// ApplyLiquidityDelta records a position change of delta between lower and upper.
// Net liquidity moves by +delta at lower and -delta at upper; gross liquidity moves
// by delta at both. Ticks whose gross liquidity returns to zero are removed.
func (ix *Index) ApplyLiquidityDelta(lower, upper int32, delta *big.Int, block uint64) error {
	if lower >= upper {
		return fmt.Errorf("invalid tick range [%d, %d)", lower, upper)
	}
	if lower < fixedpoint.MinTick || upper > fixedpoint.MaxTick {
		return fmt.Errorf("tick range [%d, %d) outside curve bounds", lower, upper)
	}
	if _, err := fixedpoint.ToInt128(delta); err != nil {
		return err
	}

	updates := make([]boundaryUpdate, 0, 2)
	for _, boundary := range []struct {
		tick  int32
		upper bool
	}{{lower, false}, {upper, true}} {
		if boundary.tick%ix.spacing != 0 {
			return fmt.Errorf("tick %d: %w", boundary.tick, ErrTickSpacing)
		}
		pos, _ := position(ix.compress(boundary.tick))
		if _, err := ix.Word(pos); err != nil {
			return err
		}

		current, ok := ix.ticks[boundary.tick]
		if !ok {
			current = Tick{LiquidityNet: new(big.Int), LiquidityGross: new(big.Int)}
		}

		gross, err := fixedpoint.AddDelta(current.LiquidityGross, delta)
		if err != nil {
			return fmt.Errorf("tick %d gross liquidity: %w", boundary.tick, err)
		}
		net := new(big.Int)
		if boundary.upper {
			net.Sub(current.LiquidityNet, delta)
		} else {
			net.Add(current.LiquidityNet, delta)
		}
		if net, err = fixedpoint.ToInt128(net); err != nil {
			return fmt.Errorf("tick %d net liquidity: %w", boundary.tick, err)
		}

		updates = append(updates, boundaryUpdate{
			tick:    boundary.tick,
			next:    Tick{LiquidityNet: net, LiquidityGross: gross, Block: block},
			flipped: (current.LiquidityGross.Sign() == 0) != (gross.Sign() == 0),
		})
	}

	for _, u := range updates {
		if u.next.LiquidityGross.Sign() == 0 {
			delete(ix.ticks, u.tick)
		} else {
			ix.ticks[u.tick] = u.next
		}
		if u.flipped {
			if err := ix.Flip(u.tick, block); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ix *Index) compress(tick int32) int32 {
	compressed := tick / ix.spacing
	if tick < 0 && tick%ix.spacing != 0 {
		compressed--
	}
	return compressed
}

func (ix *Index) wordBounds() (int16, int16) {
	minWord, _ := position(ix.compress(fixedpoint.MinTick))
	maxWord, _ := position(ix.compress(fixedpoint.MaxTick))
	return minWord, maxWord
}

func position(compressed int32) (int16, uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
