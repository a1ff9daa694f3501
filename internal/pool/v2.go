package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Fee is a fractional swap fee charged on the input token.
type Fee struct {
	Numerator   int64
	Denominator int64
}

// DefaultV2Fee is the 0.3% constant product fee.
var DefaultV2Fee = Fee{Numerator: 3, Denominator: 1000}

func (f Fee) valid() bool {
	return f.Denominator > 0 && f.Numerator >= 0 && f.Numerator < f.Denominator
}

// Rat returns the fee as a rational number.
func (f Fee) Rat() *big.Rat {
	return big.NewRat(f.Numerator, f.Denominator)
}

// FeeSchedule decides the fee a pool charges on the input token of a swap.
type FeeSchedule interface {
	InputFee(zeroForOne bool) Fee
}

// FlatFee charges the same fee in both directions.
type FlatFee Fee

func (f FlatFee) InputFee(bool) Fee { return Fee(f) }

// DirectionalFee charges Fee0 when token0 is the input and Fee1 otherwise.
type DirectionalFee struct {
	Fee0 Fee
	Fee1 Fee
}

func (f DirectionalFee) InputFee(zeroForOne bool) Fee {
	if zeroForOne {
		return f.Fee0
	}
	return f.Fee1
}

func validSchedule(fees FeeSchedule) bool {
	return fees.InputFee(true).valid() && fees.InputFee(false).valid()
}

// FeePips expresses f in millionths when it is exact in that unit.
func FeePips(f Fee) (uint32, bool) {
	if f.Denominator <= 0 || 1_000_000%f.Denominator != 0 {
		return 0, false
	}
	return uint32(f.Numerator * (1_000_000 / f.Denominator)), true
}

// reservePool is the update and archive handling shared by pools priced from
// a pair of reserves.
type reservePool struct {
	core
	reader StateReader
}

func (r *reservePool) initReserves(address, token0, token1 common.Address, reserve0, reserve1 *big.Int, block uint64, reader StateReader, logger *zap.Logger) error {
	if token0 == token1 {
		return fmt.Errorf("pool %s: identical tokens", address.Hex())
	}
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() < 0 || reserve1.Sign() < 0 {
		return fmt.Errorf("pool %s: invalid reserves", address.Hex())
	}
	r.reader = reader
	r.core.init(address, token0, token1, V2State{
		Pool:     address,
		Reserve0: new(big.Int).Set(reserve0),
		Reserve1: new(big.Int).Set(reserve1),
		Block:    block,
	}, logger)
	return nil
}

func (r *reservePool) resolve(state State) (V2State, error) {
	if state == nil {
		return r.State().(V2State), nil
	}
	st, ok := state.(V2State)
	if !ok {
		return V2State{}, ErrStateKind
	}
	return st, nil
}

// orient returns the reserves of st as (in, out) for an input of tokenIn.
func (r *reservePool) orient(st V2State, tokenIn common.Address) (*big.Int, *big.Int, error) {
	switch tokenIn {
	case r.token0:
		return st.Reserve0, st.Reserve1, nil
	case r.token1:
		return st.Reserve1, st.Reserve0, nil
	default:
		return nil, nil, ErrUnknownToken
	}
}

func (r *reservePool) externalUpdate(publisher Pool, u V2Update) (bool, error) {
	if u.Reserve0 == nil || u.Reserve1 == nil {
		return false, fmt.Errorf("pool %s: update without reserves", r.address.Hex())
	}
	return r.commit(publisher, V2State{
		Pool:     r.address,
		Reserve0: new(big.Int).Set(u.Reserve0),
		Reserve1: new(big.Int).Set(u.Reserve1),
		Block:    u.Block,
	}, position{block: u.Block, logIndex: int64(u.LogIndex)})
}

func (r *reservePool) autoUpdate(ctx context.Context, publisher Pool, block uint64) (bool, error) {
	if r.reader == nil {
		return false, fmt.Errorf("pool %s: no state reader", r.address.Hex())
	}
	reserve0, reserve1, err := r.reader.Reserves(ctx, r.address, block)
	if err != nil {
		return false, fmt.Errorf("read reserves: %w", err)
	}
	return r.commit(publisher, V2State{Pool: r.address, Reserve0: reserve0, Reserve1: reserve1, Block: block}, readPosition(block))
}

func (r *reservePool) commit(publisher Pool, next V2State, pos position) (bool, error) {
	changed, err := func() (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err := r.checkOrderLocked(pos); err != nil {
			return false, err
		}
		return r.commitLocked(next, pos), nil
	}()
	if err != nil {
		return false, err
	}

	r.logger.Debug("reserves updated",
		zap.Uint64("block", next.Block),
		zap.String("reserve0", next.Reserve0.String()),
		zap.String("reserve1", next.Reserve1.String()),
		zap.Bool("changed", changed),
	)
	if changed {
		r.publish(publisher, next)
	}
	return changed, nil
}

// ProductPoolConfig describes a constant product pool.
type ProductPoolConfig struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Fee0     Fee         // charged when token0 is the input
	Fee1     Fee         // charged when token1 is the input
	Fees     FeeSchedule // replaces Fee0 and Fee1 when set
	Reserve0 *big.Int
	Reserve1 *big.Int
	Block    uint64
	Reader   StateReader
	Logger   *zap.Logger
}

// V2Update carries reserves from a Sync event.
type V2Update struct {
	Block    uint64
	LogIndex uint64
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// ProductPool is a constant product (x*y=k) pool.
type ProductPool struct {
	reservePool
	fees FeeSchedule
}

// NewProductPool creates a constant product pool. Zero fees default to 0.3%.
func NewProductPool(cfg ProductPoolConfig) (*ProductPool, error) {
	fees := cfg.Fees
	if fees == nil {
		if cfg.Fee0 == (Fee{}) {
			cfg.Fee0 = DefaultV2Fee
		}
		if cfg.Fee1 == (Fee{}) {
			cfg.Fee1 = DefaultV2Fee
		}
		fees = DirectionalFee{Fee0: cfg.Fee0, Fee1: cfg.Fee1}
	}
	if !validSchedule(fees) {
		return nil, fmt.Errorf("pool %s: invalid fee", cfg.Address.Hex())
	}

	p := &ProductPool{fees: fees}
	if err := p.initReserves(cfg.Address, cfg.Token0, cfg.Token1, cfg.Reserve0, cfg.Reserve1, cfg.Block, cfg.Reader, cfg.Logger); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ProductPool) Kind() Kind { return KindV2 }

// Fee returns the fee charged when token is the input.
func (p *ProductPool) Fee(token common.Address) (Fee, error) {
	if !p.holds(token) {
		return Fee{}, ErrUnknownToken
	}
	return p.fees.InputFee(token == p.token0), nil
}

// Quote returns the output for an exact input of tokenIn.
func (p *ProductPool) Quote(state State, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	st, err := p.resolve(state)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := p.orient(st, tokenIn)
	if err != nil {
		return nil, err
	}
	return AmountOut(amountIn, reserveIn, reserveOut, p.fees.InputFee(tokenIn == p.token0))
}

// QuoteIn returns the input required for an exact output of tokenOut.
func (p *ProductPool) QuoteIn(state State, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
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
	reserveIn, reserveOut := st.Reserve0, st.Reserve1
	if !zeroForOne {
		reserveIn, reserveOut = st.Reserve1, st.Reserve0
	}
	return AmountIn(amountOut, reserveIn, reserveOut, p.fees.InputFee(zeroForOne))
}

// CalculateTokensOut prices an exact input against override or the current state.
func (p *ProductPool) CalculateTokensOut(_ context.Context, tokenIn common.Address, amountIn *big.Int, override State) (*big.Int, error) {
	return p.Quote(override, tokenIn, amountIn)
}

// CalculateTokensIn prices an exact output against override or the current state.
func (p *ProductPool) CalculateTokensIn(_ context.Context, tokenOut common.Address, amountOut *big.Int, override State) (*big.Int, error) {
	return p.QuoteIn(override, tokenOut, amountOut)
}

// AmountOut is the constant product output for an exact input after fee.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, fee Fee) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientReserves
	}
	d := big.NewInt(fee.Denominator)
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(fee.Denominator-fee.Numerator))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, d)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// AmountIn is the constant product input required for an exact output after fee.
// The last unit of a reserve cannot be bought.
func AmountIn(amountOut, reserveIn, reserveOut *big.Int, fee Fee) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || amountOut.Cmp(new(big.Int).Sub(reserveOut, big.NewInt(1))) > 0 {
		return nil, ErrInsufficientReserves
	}
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, big.NewInt(fee.Denominator))
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big.NewInt(fee.Denominator-fee.Numerator))
	numerator.Quo(numerator, denominator)
	return numerator.Add(numerator, big.NewInt(1)), nil
}

// ExternalUpdate applies reserves observed in a Sync event.
func (p *ProductPool) ExternalUpdate(u V2Update) (bool, error) {
	return p.externalUpdate(p, u)
}

// AutoUpdate reads reserves at block from the state reader. A read orders
// after every log of its block, so repeating it at the same block is stale.
func (p *ProductPool) AutoUpdate(ctx context.Context, block uint64) (bool, error) {
	return p.autoUpdate(ctx, p, block)
}

// RestoreBefore reinstates the last state recorded before block.
func (p *ProductPool) RestoreBefore(block uint64) error {
	return p.restoreBefore(p, block)
}

// DiscardBefore drops archived states older than block.
func (p *ProductPool) DiscardBefore(block uint64) error {
	return p.discardBefore(block)
}
