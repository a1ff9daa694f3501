package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// DefaultStableFee is the 0.05% fee of a Solidly stable pool.
	DefaultStableFee = Fee{Numerator: 5, Denominator: 10_000}
	// DefaultVolatileFee is the 0.3% fee of a Solidly volatile pool.
	DefaultVolatileFee = Fee{Numerator: 30, Denominator: 10_000}
)

// stableIterations bounds the Newton search of the stable invariant.
const stableIterations = 255

var wad = big.NewInt(1_000_000_000_000_000_000)

// SolidlyPoolConfig describes a Solidly style pool. Stable pools price on the
// x^3*y + y^3*x invariant over decimal-normalized reserves, volatile pools on x*y.
type SolidlyPoolConfig struct {
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Stable    bool
	Decimals0 uint8
	Decimals1 uint8
	Fees      FeeSchedule // nil selects DefaultStableFee or DefaultVolatileFee
	Reserve0  *big.Int
	Reserve1  *big.Int
	Block     uint64
	Reader    StateReader
	Logger    *zap.Logger
}

// SolidlyPool is a stable or volatile pool of a Solidly fork.
type SolidlyPool struct {
	reservePool
	stable    bool
	decimals0 uint8
	decimals1 uint8
	scale0    *big.Int
	scale1    *big.Int
	fees      FeeSchedule
}

// NewSolidlyPool creates a Solidly style pool.
func NewSolidlyPool(cfg SolidlyPoolConfig) (*SolidlyPool, error) {
	fees := cfg.Fees
	if fees == nil {
		fees = FlatFee(DefaultVolatileFee)
		if cfg.Stable {
			fees = FlatFee(DefaultStableFee)
		}
	}
	if !validSchedule(fees) {
		return nil, fmt.Errorf("pool %s: invalid fee", cfg.Address.Hex())
	}
	if cfg.Decimals0 > 77 || cfg.Decimals1 > 77 {
		return nil, fmt.Errorf("pool %s: invalid token decimals", cfg.Address.Hex())
	}

	p := &SolidlyPool{
		stable:    cfg.Stable,
		decimals0: cfg.Decimals0,
		decimals1: cfg.Decimals1,
		scale0:    pow10(cfg.Decimals0),
		scale1:    pow10(cfg.Decimals1),
		fees:      fees,
	}
	if err := p.initReserves(cfg.Address, cfg.Token0, cfg.Token1, cfg.Reserve0, cfg.Reserve1, cfg.Block, cfg.Reader, cfg.Logger); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SolidlyPool) Kind() Kind { return KindSolidly }

// Stable reports whether the pool prices on the stable invariant.
func (p *SolidlyPool) Stable() bool { return p.stable }

// Decimals returns the decimals of token0 and token1.
func (p *SolidlyPool) Decimals() (uint8, uint8) { return p.decimals0, p.decimals1 }

// Fees returns the fee schedule of the pool.
func (p *SolidlyPool) Fees() FeeSchedule { return p.fees }

// Fee returns the fee charged when token is the input.
func (p *SolidlyPool) Fee(token common.Address) (Fee, error) {
	if !p.holds(token) {
		return Fee{}, ErrUnknownToken
	}
	return p.fees.InputFee(token == p.token0), nil
}

// Quote returns the output for an exact input of tokenIn.
func (p *SolidlyPool) Quote(state State, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	st, err := p.resolve(state)
	if err != nil {
		return nil, err
	}
	if !p.holds(tokenIn) {
		return nil, ErrUnknownToken
	}
	return p.amountOut(st, tokenIn == p.token0, amountIn)
}

// QuoteIn returns the smallest input whose output covers amountOut of tokenOut.
// The pool has no closed form inverse, so the input is searched.
func (p *SolidlyPool) QuoteIn(state State, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	st, err := p.resolve(state)
	if err != nil {
		return nil, err
	}
	if !p.holds(tokenOut) {
		return nil, ErrUnknownToken
	}
	zeroForOne := tokenOut == p.token1
	reserveOut := st.Reserve1
	if !zeroForOne {
		reserveOut = st.Reserve0
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientReserves
	}

	covers := func(in *big.Int) (bool, error) {
		out, err := p.amountOut(st, zeroForOne, in)
		if err != nil {
			return false, err
		}
		return out.Cmp(amountOut) >= 0, nil
	}

	hi := new(big.Int).Set(amountOut)
	for i := 0; ; i++ {
		ok, err := covers(hi)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if i == 256 {
			return nil, ErrInsufficientReserves
		}
		hi.Lsh(hi, 1)
	}
	lo := new(big.Int)
	one := big.NewInt(1)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		ok, err := covers(mid)
		if err != nil {
			return nil, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

// CalculateTokensOut prices an exact input against override or the current state.
func (p *SolidlyPool) CalculateTokensOut(_ context.Context, tokenIn common.Address, amountIn *big.Int, override State) (*big.Int, error) {
	return p.Quote(override, tokenIn, amountIn)
}

// CalculateTokensIn prices an exact output against override or the current state.
func (p *SolidlyPool) CalculateTokensIn(_ context.Context, tokenOut common.Address, amountOut *big.Int, override State) (*big.Int, error) {
	return p.QuoteIn(override, tokenOut, amountOut)
}

func (p *SolidlyPool) amountOut(st V2State, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	if st.Reserve0.Sign() <= 0 || st.Reserve1.Sign() <= 0 {
		return nil, ErrInsufficientReserves
	}
	fee := p.fees.InputFee(zeroForOne)
	in := new(big.Int).Mul(amountIn, big.NewInt(fee.Numerator))
	in.Quo(in, big.NewInt(fee.Denominator))
	in.Sub(amountIn, in)

	reserveIn, reserveOut := st.Reserve0, st.Reserve1
	scaleIn, scaleOut := p.scale0, p.scale1
	if !zeroForOne {
		reserveIn, reserveOut = st.Reserve1, st.Reserve0
		scaleIn, scaleOut = p.scale1, p.scale0
	}

	if !p.stable {
		out := new(big.Int).Mul(in, reserveOut)
		return out.Quo(out, new(big.Int).Add(reserveIn, in)), nil
	}
	return StableAmountOut(in, reserveIn, reserveOut, scaleIn, scaleOut)
}

// StableAmountOut prices an input, already net of fee, on the stable invariant.
// scaleIn and scaleOut are 10^decimals of the input and output tokens.
func StableAmountOut(amountIn, reserveIn, reserveOut, scaleIn, scaleOut *big.Int) (*big.Int, error) {
	a := normalize(reserveIn, scaleIn)
	b := normalize(reserveOut, scaleOut)
	xy := stableK(a, b)

	x := normalize(amountIn, scaleIn)
	x.Add(x, a)
	y, err := stableY(x, xy, b)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Sub(b, y)
	if out.Sign() < 0 {
		return nil, ErrCurveUnsolved
	}
	out.Mul(out, scaleOut)
	return out.Quo(out, wad), nil
}

// SpotPrice returns the marginal token1 per token0 price of state, before fees.
func (p *SolidlyPool) SpotPrice(state V2State) *big.Rat {
	if !p.stable {
		return new(big.Rat).SetFrac(state.Reserve1, state.Reserve0)
	}
	// -dy/dx on x^3*y + y^3*x = k is (3x^2*y + y^3) / (x^3 + 3x*y^2).
	x := new(big.Rat).SetFrac(state.Reserve0, p.scale0)
	y := new(big.Rat).SetFrac(state.Reserve1, p.scale1)
	x2 := new(big.Rat).Mul(x, x)
	y2 := new(big.Rat).Mul(y, y)

	num := new(big.Rat).Mul(big.NewRat(3, 1), x2)
	num.Mul(num, y)
	num.Add(num, new(big.Rat).Mul(y2, y))

	den := new(big.Rat).Mul(big.NewRat(3, 1), y2)
	den.Mul(den, x)
	den.Add(den, new(big.Rat).Mul(x2, x))

	price := num.Quo(num, den)
	return price.Mul(price, new(big.Rat).SetFrac(p.scale1, p.scale0))
}

// ExternalUpdate applies reserves observed in a Sync event.
func (p *SolidlyPool) ExternalUpdate(u V2Update) (bool, error) {
	return p.externalUpdate(p, u)
}

// AutoUpdate reads reserves at block from the state reader.
func (p *SolidlyPool) AutoUpdate(ctx context.Context, block uint64) (bool, error) {
	return p.autoUpdate(ctx, p, block)
}

// RestoreBefore reinstates the last state recorded before block.
func (p *SolidlyPool) RestoreBefore(block uint64) error {
	return p.restoreBefore(p, block)
}

// DiscardBefore drops archived states older than block.
func (p *SolidlyPool) DiscardBefore(block uint64) error {
	return p.discardBefore(block)
}

func normalize(amount, scale *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, wad)
	return out.Quo(out, scale)
}

func wmul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, wad)
}

// stableK is x^3*y + y^3*x in 18 decimal fixed point.
func stableK(x, y *big.Int) *big.Int {
	a := wmul(x, y)
	b := new(big.Int).Add(wmul(x, x), wmul(y, y))
	return wmul(a, b)
}

func stableF(x0, y *big.Int) *big.Int {
	y3 := wmul(wmul(y, y), y)
	x3 := wmul(wmul(x0, x0), x0)
	return new(big.Int).Add(wmul(x0, y3), wmul(x3, y))
}

func stableD(x0, y *big.Int) *big.Int {
	d := new(big.Int).Mul(big.NewInt(3), x0)
	d = wmul(d, wmul(y, y))
	return d.Add(d, wmul(wmul(x0, x0), x0))
}

// stableY solves f(x0, y) = xy for y by Newton iteration from y, stopping once
// a step moves y by at most one unit.
func stableY(x0, xy, y *big.Int) (*big.Int, error) {
	y = new(big.Int).Set(y)
	one := big.NewInt(1)
	for i := 0; i < stableIterations; i++ {
		prev := new(big.Int).Set(y)
		k := stableF(x0, y)
		d := stableD(x0, y)
		if d.Sign() == 0 {
			return nil, ErrCurveUnsolved
		}
		if k.Cmp(xy) < 0 {
			dy := new(big.Int).Sub(xy, k)
			dy.Mul(dy, wad).Quo(dy, d)
			y.Add(y, dy)
		} else {
			dy := new(big.Int).Sub(k, xy)
			dy.Mul(dy, wad).Quo(dy, d)
			y.Sub(y, dy)
		}
		if new(big.Int).Sub(y, prev).CmpAbs(one) <= 0 {
			return y, nil
		}
	}
	return y, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
