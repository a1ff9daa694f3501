package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"arbScope/internal/arbitrage"
	"arbScope/internal/dex"
	"arbScope/internal/metrics"
	"arbScope/internal/model"
	"arbScope/internal/pool"
	"arbScope/internal/pubsub"
	"arbScope/internal/storage"
)

// ErrDeepReorg is returned when the chain reorganized below the tracked block hashes.
var ErrDeepReorg = errors.New("reorg deeper than the archive depth")

// LogSource is the chain access the runner needs. *chain.Client implements it.
type LogSource interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// RunConfig holds runtime settings for the follower.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64 // zero follows the chain head
	BatchSize         uint64
	PollInterval      time.Duration
	ArchiveDepth      uint64
	MaxRetries        int
	RetryBackoff      time.Duration
	MinRateOfExchange *big.Rat
}

// Dependencies are the collaborators of a Runner. Logs, Snapshots, State,
// Tokens and Metrics are optional.
type Dependencies struct {
	Source    LogSource
	Decoders  dex.Decoders
	Decode    dex.DecodeContext
	Pools     map[common.Address]pool.Pool
	Cycles    []*arbitrage.Cycle
	Executor  arbitrage.Executor
	Sink      storage.OpportunitySink
	Logs      storage.LogSink
	Snapshots SnapshotStore
	State     StateStore
	Tokens    *dex.TokenMetaCache
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Runner follows pool events, keeps pool states current and recalculates the
// cycles whose pools changed once per block.
type Runner struct {
	cfg    RunConfig
	deps   Dependencies
	logger *zap.Logger

	chainID   uint64
	addresses []common.Address
	cycles    map[string]*arbitrage.Cycle
	hashes    map[uint64]common.Hash

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewRunner builds a Runner and subscribes it to its cycles. Every cycle is
// evaluated once before the first block is applied.
func NewRunner(cfg RunConfig, deps Dependencies) (*Runner, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("opportunity sink is nil")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if len(deps.Pools) == 0 {
		return nil, fmt.Errorf("at least one pool is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Decode.Logger == nil {
		deps.Decode.Logger = deps.Logger
	}

	r := &Runner{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger,
		addresses: make([]common.Address, 0, len(deps.Pools)),
		cycles:    make(map[string]*arbitrage.Cycle, len(deps.Cycles)),
		hashes:    make(map[uint64]common.Hash),
		dirty:     make(map[string]struct{}, len(deps.Cycles)),
	}
	for address := range deps.Pools {
		r.addresses = append(r.addresses, address)
	}
	sort.Slice(r.addresses, func(i, j int) bool {
		return r.addresses[i].Cmp(r.addresses[j]) < 0
	})
	for _, c := range deps.Cycles {
		r.cycles[c.ID()] = c
		r.dirty[c.ID()] = struct{}{}
		pubsub.Add(c.Subscribers(), r)
	}
	return r, nil
}

// Notify marks the cycle behind an update for recalculation.
func (r *Runner) Notify(_ any, message any) {
	u, ok := message.(arbitrage.Update)
	if !ok {
		return
	}
	r.mu.Lock()
	r.dirty[u.Cycle] = struct{}{}
	r.mu.Unlock()
}

// Close unsubscribes the runner from its cycles.
func (r *Runner) Close() {
	for _, c := range r.cycles {
		pubsub.Remove(c.Subscribers(), r)
	}
}

// Run follows the chain until ToBlock, or until ctx is done when ToBlock is zero.
func (r *Runner) Run(ctx context.Context) error {
	chainID, err := r.deps.Source.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	r.chainID = chainID.Uint64()

	from, err := r.startBlock(ctx)
	if err != nil {
		return err
	}

	for {
		latest, err := r.latestWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		if from == 0 {
			from = latest
		}

		fork, reorged, err := r.checkReorg(ctx)
		if err != nil {
			return err
		}
		if reorged && fork < from {
			from = fork
		}

		to := latest
		if r.cfg.ToBlock != 0 && to > r.cfg.ToBlock {
			to = r.cfg.ToBlock
		}
		if from <= to {
			ranges, err := SplitRange(from, to, r.cfg.BatchSize)
			if err != nil {
				return err
			}
			for _, blockRange := range ranges {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := r.processRange(ctx, blockRange); err != nil {
					return err
				}
				from = blockRange.To + 1
			}
		}

		if r.cfg.ToBlock != 0 && from > r.cfg.ToBlock {
			r.logger.Info("reached end block", zap.Uint64("to", r.cfg.ToBlock))
			return nil
		}

		timer := time.NewTimer(r.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Runner) startBlock(ctx context.Context) (uint64, error) {
	from := r.cfg.FromBlock
	if r.deps.State == nil {
		return from, nil
	}
	last, ok, err := r.deps.State.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	if ok && last >= from {
		from = last + 1
		r.logger.Info("resume from state", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	return from, nil
}

func (r *Runner) pollInterval() time.Duration {
	if r.cfg.PollInterval <= 0 {
		return time.Second
	}
	return r.cfg.PollInterval
}

func (r *Runner) processRange(ctx context.Context, blockRange BlockRange) error {
	r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}
	logs = orderLogs(logs)

	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	rolledBack := make(map[uint64]struct{})
	var block uint64
	applied := 0

	for _, log := range logs {
		if log.BlockNumber != block {
			if block != 0 {
				if err := r.evaluate(ctx, block); err != nil {
					return err
				}
			}
			block = log.BlockNumber
		}

		var ts uint64
		if r.deps.Logs != nil {
			if ts, err = r.blockTimestampWithRetry(ctx, log.BlockNumber); err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
		}
		record := buildLogRecord(r.chainID, log, ts, ingestedAt)
		records = append(records, record)

		if log.Removed {
			if _, ok := rolledBack[log.BlockNumber]; !ok {
				rolledBack[log.BlockNumber] = struct{}{}
				r.rollback(log.BlockNumber)
			}
			continue
		}

		ok, err := r.apply(ctx, record)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}

	if block != 0 {
		if err := r.evaluate(ctx, block); err != nil {
			return err
		}
	}
	if err := r.evaluate(ctx, blockRange.To); err != nil {
		return err
	}

	if r.deps.Logs != nil {
		if err := r.deps.Logs.PutLogBatch(records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
	}
	if err := r.finishRange(ctx, blockRange.To); err != nil {
		return err
	}

	r.logger.Info("batch complete",
		zap.Int("logs", len(records)),
		zap.Int("applied", applied),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
	)
	return nil
}

// apply decodes record and applies it to its pool. It reports whether the
// event reached a pool.
func (r *Runner) apply(ctx context.Context, record model.LogRecord) (bool, error) {
	if len(record.Topics) == 0 || !r.deps.Decoders.CanDecode(record.Topics[0]) {
		return false, nil
	}
	p, ok := r.deps.Pools[common.HexToAddress(record.Address)]
	if !ok {
		return false, nil
	}

	decodeCtx := r.deps.Decode
	decodeCtx.Context = ctx
	ev, err := r.deps.Decoders.Decode(record, decodeCtx)
	if err != nil {
		r.logger.Warn("decode failed",
			zap.String("pool", record.Address),
			zap.Uint64("block", record.BlockNumber),
			zap.Uint64("log_index", record.LogIndex),
			zap.Error(err),
		)
		return false, nil
	}

	changed, err := dex.ApplyEvent(ctx, p, ev)
	var stale *pool.StaleUpdateError
	if errors.As(err, &stale) {
		r.logger.Warn("stale event skipped", zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("apply %s to %s at %d/%d: %w", ev.EventName, record.Address, record.BlockNumber, record.LogIndex, err)
	}
	r.deps.Metrics.ObserveUpdate(ev.EventName, changed)
	return true, nil
}

// rollback reinstates every pool to its state before block.
func (r *Runner) rollback(block uint64) {
	r.logger.Warn("rolling back removed block", zap.Uint64("block", block))
	r.deps.Metrics.ObserveReorg()
	for _, address := range r.addresses {
		err := r.deps.Pools[address].RestoreBefore(block)
		var noPrior *pool.NoPriorStateError
		if errors.As(err, &noPrior) {
			r.logger.Warn("no archived state before block", zap.String("pool", address.Hex()), zap.Uint64("block", block))
			continue
		}
		if err != nil {
			r.logger.Warn("restore failed", zap.String("pool", address.Hex()), zap.Error(err))
		}
	}
	for b := range r.hashes {
		if b >= block {
			delete(r.hashes, b)
		}
	}
}

// checkReorg compares the recorded hashes with the chain and rolls pools back
// to the newest block that is still canonical. It returns the block to resume from.
func (r *Runner) checkReorg(ctx context.Context) (uint64, bool, error) {
	if len(r.hashes) == 0 {
		return 0, false, nil
	}
	blocks := make([]uint64, 0, len(r.hashes))
	for b := range r.hashes {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] > blocks[j] })

	for i, b := range blocks {
		hash, err := r.blockHashWithRetry(ctx, b)
		if err != nil {
			return 0, false, fmt.Errorf("block hash %d: %w", b, err)
		}
		if hash == r.hashes[b] {
			if i == 0 {
				return 0, false, nil
			}
			r.logger.Warn("chain reorganized", zap.Uint64("common_ancestor", b), zap.Uint64("head", blocks[0]))
			r.rollback(b + 1)
			return b + 1, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: no canonical block at or after %d", ErrDeepReorg, blocks[len(blocks)-1])
}

func (r *Runner) finishRange(ctx context.Context, to uint64) error {
	hash, err := r.blockHashWithRetry(ctx, to)
	if err != nil {
		return fmt.Errorf("block hash %d: %w", to, err)
	}
	r.hashes[to] = hash

	if r.cfg.ArchiveDepth > 0 && to > r.cfg.ArchiveDepth {
		horizon := to - r.cfg.ArchiveDepth
		for _, address := range r.addresses {
			err := r.deps.Pools[address].DiscardBefore(horizon)
			var noPrior *pool.NoPriorStateError
			if err != nil && !errors.As(err, &noPrior) {
				return fmt.Errorf("discard archive of %s: %w", address.Hex(), err)
			}
		}
		for b := range r.hashes {
			if b < horizon {
				delete(r.hashes, b)
			}
		}
		if forgetter, ok := r.deps.Source.(interface{ ForgetBefore(uint64) }); ok {
			forgetter.ForgetBefore(horizon)
		}
	}

	if r.deps.Snapshots != nil {
		snaps := make([]model.PoolSnapshot, 0, len(r.addresses))
		for _, address := range r.addresses {
			snaps = append(snaps, pool.Snapshot(r.deps.Pools[address]))
		}
		if err := r.deps.Snapshots.SavePoolSnapshots(ctx, r.chainID, snaps); err != nil {
			return fmt.Errorf("save snapshots: %w", err)
		}
	}

	if r.deps.State != nil {
		if err := r.deps.State.Save(ctx, to); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	r.deps.Metrics.ObserveBlock(to)
	return nil
}

type pendingCalculation struct {
	cycle  *arbitrage.Cycle
	future *arbitrage.Future
	start  time.Time
}

// evaluate recalculates the dirty cycles against the states at block and
// stores the profitable results.
func (r *Runner) evaluate(ctx context.Context, block uint64) error {
	ids := r.takeDirty()
	if len(ids) == 0 {
		return nil
	}

	opts := arbitrage.Options{MinRateOfExchange: r.cfg.MinRateOfExchange}
	pending := make([]pendingCalculation, 0, len(ids))
	for _, id := range ids {
		c, ok := r.cycles[id]
		if !ok {
			continue
		}
		start := time.Now()
		future, err := c.CalculateWithPool(ctx, r.deps.Executor, nil, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.observe(id, block, start, err)
			continue
		}
		pending = append(pending, pendingCalculation{cycle: c, future: future, start: start})
	}

	foundAt := time.Now().UTC()
	opportunities := make([]model.Opportunity, 0, len(pending))
	for _, calc := range pending {
		res, err := calc.future.Wait(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.observe(calc.cycle.ID(), block, calc.start, err)
			continue
		}
		if res.ProfitAmount == nil || res.ProfitAmount.Sign() <= 0 {
			r.observe(calc.cycle.ID(), block, calc.start, &arbitrage.NoSolutionError{Reason: "no profit"})
			continue
		}
		r.observe(calc.cycle.ID(), block, calc.start, nil)

		opp := NewOpportunity(r.chainID, calc.cycle.ID(), block, res, r.decimals(ctx, res.InputToken), foundAt)
		r.logger.Info("opportunity found",
			zap.String("cycle", opp.CycleID),
			zap.Uint64("block", block),
			zap.String("input", opp.InputAmount),
			zap.String("profit", opp.Profit),
		)
		opportunities = append(opportunities, opp)
	}

	if len(opportunities) == 0 {
		return nil
	}
	if err := r.deps.Sink.PutOpportunities(ctx, opportunities); err != nil {
		return fmt.Errorf("store opportunities: %w", err)
	}
	r.deps.Metrics.ObserveOpportunities(len(opportunities))
	return nil
}

func (r *Runner) takeDirty() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.dirty = make(map[string]struct{}, len(r.cycles))
	sort.Strings(ids)
	return ids
}

func (r *Runner) observe(cycle string, block uint64, start time.Time, err error) {
	result := metrics.ResultProfit
	var (
		rate      *arbitrage.RateBelowMinimumError
		liquidity *arbitrage.NoLiquidityError
		solution  *arbitrage.NoSolutionError
	)
	switch {
	case err == nil:
	case errors.As(err, &rate), errors.As(err, &liquidity):
		result = metrics.ResultRejected
		r.logger.Debug("cycle rejected", zap.String("cycle", cycle), zap.Uint64("block", block), zap.Error(err))
	case errors.As(err, &solution):
		result = metrics.ResultNoSolution
		r.logger.Debug("no solution", zap.String("cycle", cycle), zap.Uint64("block", block), zap.Error(err))
	default:
		result = metrics.ResultError
		r.logger.Warn("calculation failed", zap.String("cycle", cycle), zap.Uint64("block", block), zap.Error(err))
	}
	r.deps.Metrics.ObserveCalculation(cycle, result, time.Since(start))
}

func (r *Runner) decimals(ctx context.Context, token common.Address) uint8 {
	if r.deps.Tokens == nil {
		return 18
	}
	if meta, ok := r.deps.Tokens.Get(token); ok {
		return meta.Decimals
	}
	if r.deps.Decode.Chain == nil {
		return 18
	}
	decimals, err := r.deps.Tokens.Decimals(ctx, r.deps.Decode.Chain, token)
	if err != nil {
		r.logger.Warn("token decimals unavailable", zap.String("token", token.Hex()), zap.Error(err))
		return 18
	}
	return decimals
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.deps.Source.FilterLogs(ctx, fromBlock, toBlock, r.addresses, nil)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = r.deps.Source.LatestBlockNumber(ctx)
		if err != nil {
			r.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return latest, err
}

func (r *Runner) blockHashWithRetry(ctx context.Context, blockNumber uint64) (common.Hash, error) {
	var hash common.Hash
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		hash, err = r.deps.Source.BlockHash(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block hash fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return hash, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.deps.Source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}
