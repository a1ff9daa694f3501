// Package arbitrage searches closed cycles of pools for profitable trades.
package arbitrage

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/pool"
	"arbScope/internal/pubsub"
)

// DefaultMaxInput bounds the search when a cycle is built without one.
var DefaultMaxInput = new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000))

type hop struct {
	pool       pool.Pool
	tokenIn    common.Address
	tokenOut   common.Address
	zeroForOne bool
}

// Update is published to the subscribers of a cycle when one of its pools changes.
type Update struct {
	Cycle string
	Pool  common.Address
	Block uint64
}

// Cycle is an ordered loop of pools starting and ending at the input token.
// It keeps the last state published by each of its pools and prices from it.
type Cycle struct {
	id         string
	inputToken common.Address
	hops       []hop
	maxInput   *big.Int
	logger     *zap.Logger

	mu    sync.Mutex
	known map[common.Address]pool.State

	subscribers pubsub.Set
}

// NewCycle validates the token path through pools and subscribes to their updates.
// A nil maxInput defaults to DefaultMaxInput.
func NewCycle(id string, inputToken common.Address, pools []pool.Pool, maxInput *big.Int, logger *zap.Logger) (*Cycle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("cycle", id))

	if len(pools) < 2 {
		return nil, errors.New("cycle needs at least two pools")
	}
	if maxInput == nil {
		logger.Warn("no maximum input given, using default", zap.String("max_input", DefaultMaxInput.String()))
		maxInput = DefaultMaxInput
	}
	if maxInput.Sign() <= 0 {
		return nil, fmt.Errorf("invalid maximum input %s", maxInput)
	}

	hops := make([]hop, 0, len(pools))
	token := inputToken
	for i, p := range pools {
		switch p.(type) {
		case *pool.ProductPool, *pool.SolidlyPool, *pool.ConcentratedPool:
		default:
			return nil, fmt.Errorf("pool %d: unsupported pool type %T", i, p)
		}
		h := hop{pool: p, tokenIn: token}
		switch token {
		case p.Token0():
			h.zeroForOne, h.tokenOut = true, p.Token1()
		case p.Token1():
			h.tokenOut = p.Token0()
		default:
			return nil, fmt.Errorf("pool %d (%s) does not hold %s", i, p.Address().Hex(), token.Hex())
		}
		hops = append(hops, h)
		token = h.tokenOut
	}
	if token != inputToken {
		return nil, fmt.Errorf("path ends at %s, not the input token %s", token.Hex(), inputToken.Hex())
	}

	c := &Cycle{
		id:         id,
		inputToken: inputToken,
		hops:       hops,
		maxInput:   new(big.Int).Set(maxInput),
		logger:     logger,
		known:      make(map[common.Address]pool.State, len(hops)),
	}
	for _, h := range hops {
		c.known[h.pool.Address()] = h.pool.State()
		pubsub.Add(h.pool.Subscribers(), c)
	}
	return c, nil
}

func (c *Cycle) ID() string                 { return c.id }
func (c *Cycle) InputToken() common.Address { return c.inputToken }
func (c *Cycle) MaxInput() *big.Int         { return new(big.Int).Set(c.maxInput) }
func (c *Cycle) Subscribers() *pubsub.Set   { return &c.subscribers }

// Pools returns the pools of the cycle in swap order.
func (c *Cycle) Pools() []pool.Pool {
	out := make([]pool.Pool, len(c.hops))
	for i, h := range c.hops {
		out[i] = h.pool
	}
	return out
}

// Close unsubscribes the cycle from its pools.
func (c *Cycle) Close() {
	for _, h := range c.hops {
		pubsub.Remove(h.pool.Subscribers(), c)
	}
}

// KnownState returns the last state the cycle saw for the pool at address.
func (c *Cycle) KnownState(address common.Address) (pool.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.known[address]
	return st, ok
}

// Notify records pool updates and re-publishes those that change pricing to
// the subscribers of the cycle.
func (c *Cycle) Notify(_ any, message any) {
	u, ok := message.(pool.Update)
	if !ok {
		c.logger.Info("unhandled message", zap.String("type", fmt.Sprintf("%T", message)))
		return
	}
	if !c.holds(u.Pool) || u.State == nil {
		return
	}

	c.mu.Lock()
	prev := c.known[u.Pool]
	c.known[u.Pool] = u.State
	c.mu.Unlock()
	if prev != nil && pool.SameState(prev, u.State) {
		c.logger.Debug("duplicate pool update", zap.String("pool", u.Pool.Hex()), zap.Uint64("block", u.State.StateBlock()))
		return
	}
	c.subscribers.Notify(c, Update{Cycle: c.id, Pool: u.Pool, Block: u.State.StateBlock()})
}

// refreshKnown swaps a cached concentrated state for next when the cache
// still holds the index next was grown from.
func (c *Cycle) refreshKnown(address common.Address, from, next pool.State) {
	prev, ok := from.(pool.V3State)
	if !ok {
		return
	}
	grown, ok := next.(pool.V3State)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.known[address].(pool.V3State); ok && cached.Index == prev.Index && cached.Block == grown.Block {
		cached.Index = grown.Index
		c.known[address] = cached
	}
}

func (c *Cycle) holds(address common.Address) bool {
	for _, h := range c.hops {
		if h.pool.Address() == address {
			return true
		}
	}
	return false
}
