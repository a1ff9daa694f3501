package pool

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/pubsub"
)

// Pool is a liquidity pool with an archived, subscribable state.
type Pool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Kind() Kind
	State() State
	Subscribers() *pubsub.Set

	// Quote prices an exact input against state (nil for the current state) without I/O.
	Quote(state State, tokenIn common.Address, amountIn *big.Int) (*big.Int, error)
	// QuoteIn prices an exact output against state (nil for the current state) without I/O.
	QuoteIn(state State, tokenOut common.Address, amountOut *big.Int) (*big.Int, error)
	CalculateTokensOut(ctx context.Context, tokenIn common.Address, amountIn *big.Int, override State) (*big.Int, error)
	CalculateTokensIn(ctx context.Context, tokenOut common.Address, amountOut *big.Int, override State) (*big.Int, error)

	AutoUpdate(ctx context.Context, block uint64) (bool, error)
	RestoreBefore(block uint64) error
	DiscardBefore(block uint64) error
}

// position orders updates. logIndex -1 marks the start of a block and
// math.MaxInt64 a state read after the whole block.
type position struct {
	block    uint64
	logIndex int64
}

func (p position) after(o position) bool {
	if p.block != o.block {
		return p.block > o.block
	}
	return p.logIndex > o.logIndex
}

type archived struct {
	pos   position
	state State
}

// core holds what both pool shapes share: the lock, the current state, the
// per-block archive and the subscriber set.
type core struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	pos     position
	archive []archived

	subscribers pubsub.Set
}

func (c *core) init(address, token0, token1 common.Address, initial State, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.address = address
	c.token0 = token0
	c.token1 = token1
	c.logger = logger.With(zap.String("pool", address.Hex()))
	c.state = initial
	c.pos = position{block: initial.StateBlock(), logIndex: -1}
	c.archive = []archived{{pos: c.pos, state: initial}}
}

func (c *core) Address() common.Address  { return c.address }
func (c *core) Token0() common.Address   { return c.token0 }
func (c *core) Token1() common.Address   { return c.token1 }
func (c *core) Subscribers() *pubsub.Set { return &c.subscribers }

func (c *core) holds(token common.Address) bool {
	return token == c.token0 || token == c.token1
}

// State returns the current state.
func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// checkOrderLocked rejects an update that does not come after the recorded position.
func (c *core) checkOrderLocked(pos position) error {
	if !pos.after(c.pos) {
		return &StaleUpdateError{
			Pool:            c.address,
			Block:           pos.block,
			LogIndex:        pos.logIndex,
			CurrentBlock:    c.pos.block,
			CurrentLogIndex: c.pos.logIndex,
		}
	}
	return nil
}

// commitLocked installs next and archives it under its block. It reports
// whether the change is observable.
func (c *core) commitLocked(next State, pos position) bool {
	changed := !SameState(c.state, next)
	c.state = next
	c.pos = pos

	entry := archived{pos: pos, state: next}
	if n := len(c.archive); n > 0 && c.archive[n-1].pos.block == pos.block {
		c.archive[n-1] = entry
	} else {
		c.archive = append(c.archive, entry)
	}
	return changed
}

func (c *core) publish(publisher Pool, state State) {
	c.subscribers.Notify(publisher, Update{Pool: c.address, State: state})
}

// restoreBefore reinstates the last archived state strictly before block.
func (c *core) restoreBefore(publisher Pool, block uint64) error {
	restored, ok, err := func() (State, bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		i := sort.Search(len(c.archive), func(i int) bool { return c.archive[i].pos.block >= block })
		if i == 0 {
			return nil, false, &NoPriorStateError{Pool: c.address, Block: block}
		}
		if i == len(c.archive) {
			return nil, false, nil
		}
		c.archive = c.archive[:i]
		last := c.archive[i-1]
		c.state = last.state
		c.pos = last.pos
		return last.state, true, nil
	}()
	if err != nil || !ok {
		return err
	}

	c.logger.Debug("state restored", zap.Uint64("before_block", block), zap.Uint64("block", restored.StateBlock()))
	c.publish(publisher, restored)
	return nil
}

// discardBefore drops archived states older than block.
func (c *core) discardBefore(block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := sort.Search(len(c.archive), func(i int) bool { return c.archive[i].pos.block >= block })
	if i == 0 {
		return nil
	}
	if i == len(c.archive) {
		return &NoPriorStateError{Pool: c.address, Block: block}
	}
	c.archive = append([]archived(nil), c.archive[i:]...)
	return nil
}

// archivedBlocks lists the blocks with an archived state, oldest first.
func (c *core) archivedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.archive))
	for i, a := range c.archive {
		out[i] = a.pos.block
	}
	return out
}

func readPosition(block uint64) position {
	return position{block: block, logIndex: math.MaxInt64}
}
