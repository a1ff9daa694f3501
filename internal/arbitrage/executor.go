package arbitrage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"arbScope/internal/pool"
)

// Executor runs calculation jobs off the caller's goroutine.
type Executor interface {
	// Submit schedules job, blocking until the executor has capacity or ctx is done.
	Submit(ctx context.Context, job func()) error
	// Isolated reports whether jobs must run on private copies of pool state,
	// without access to the pools themselves.
	Isolated() bool
}

// GoroutineExecutor runs jobs on goroutines sharing the caller's memory.
type GoroutineExecutor struct {
	sem *semaphore.Weighted
}

// NewGoroutineExecutor returns an executor running at most workers jobs at once.
func NewGoroutineExecutor(workers int64) *GoroutineExecutor {
	if workers <= 0 {
		workers = 1
	}
	return &GoroutineExecutor{sem: semaphore.NewWeighted(workers)}
}

func (e *GoroutineExecutor) Submit(ctx context.Context, job func()) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer e.sem.Release(1)
		job()
	}()
	return nil
}

func (e *GoroutineExecutor) Isolated() bool { return false }

// IsolatedExecutor runs jobs on deep copies of the pool states they price.
// Jobs cannot reach the chain, so sparse tick indexes are rejected up front.
type IsolatedExecutor struct {
	GoroutineExecutor
}

// NewIsolatedExecutor returns an isolated executor running at most workers jobs at once.
func NewIsolatedExecutor(workers int64) *IsolatedExecutor {
	return &IsolatedExecutor{GoroutineExecutor: *NewGoroutineExecutor(workers)}
}

func (e *IsolatedExecutor) Isolated() bool { return true }

// Future is the pending result of a scheduled calculation.
type Future struct {
	JobID string

	done   chan struct{}
	cancel context.CancelFunc
	result Result
	err    error
}

// Wait blocks until the calculation finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel abandons the calculation.
func (f *Future) Cancel() { f.cancel() }

// CalculateWithPool snapshots the pool states, runs the pre-check on the
// calling goroutine and schedules the search on exec.
func (c *Cycle) CalculateWithPool(ctx context.Context, exec Executor, overrides map[common.Address]pool.State, opts Options) (*Future, error) {
	states, err := c.snapshot(overrides)
	if err != nil {
		return nil, err
	}
	isolated := exec.Isolated()
	if isolated {
		for _, st := range states {
			if v3, ok := st.(pool.V3State); ok && v3.Index.Sparse() {
				return nil, ErrSparseIndex
			}
		}
		states = copyStates(states)
	}
	if err := c.preCheck(states, opts.MinRateOfExchange); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	f := &Future{JobID: uuid.NewString(), done: make(chan struct{}), cancel: cancel}
	logger := c.logger.With(zap.String("job", f.JobID))

	err = exec.Submit(ctx, func() {
		defer close(f.done)
		defer cancel()
		f.result, f.err = c.calculate(jobCtx, states, !isolated)
		if f.err != nil {
			logger.Debug("calculation finished without result", zap.Error(f.err))
			return
		}
		logger.Debug("calculation finished", zap.String("profit", f.result.ProfitAmount.String()))
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return f, nil
}

func copyStates(states []pool.State) []pool.State {
	out := make([]pool.State, len(states))
	for i, st := range states {
		switch s := st.(type) {
		case pool.V2State:
			s.Reserve0 = new(big.Int).Set(s.Reserve0)
			s.Reserve1 = new(big.Int).Set(s.Reserve1)
			out[i] = s
		case pool.V3State:
			s.Liquidity = new(big.Int).Set(s.Liquidity)
			s.SqrtPriceX96 = new(big.Int).Set(s.SqrtPriceX96)
			s.Index = s.Index.Clone()
			out[i] = s
		default:
			out[i] = st
		}
	}
	return out
}
