package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidityVault/internal/model"
)

// LogSource is the chain access the runner needs. *chain.Client satisfies it.
type LogSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Handler consumes ordered logs one batch at a time.
type Handler interface {
	HandleLogs(ctx context.Context, logs []model.LogRecord) error
	// State is persisted with the checkpoint after every batch.
	State() (json.RawMessage, error)
	// Restore loads the state of a previous checkpoint before the first batch.
	Restore(state json.RawMessage) error
}

// RunConfig holds runtime settings for the runner.
type RunConfig struct {
	FromBlock    uint64
	ToBlock      uint64
	Addresses    []common.Address
	Topic0       []common.Hash
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner streams logs from the chain into a Handler.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	handler    Handler
	checkpoint Checkpointer
	metrics    *Metrics
	logger     *zap.Logger
	retry      retrier
	// seen dedupes logs within the current batch. Ranges never overlap, so it
	// is cleared once a batch is checkpointed.
	seen map[string]struct{}
}

// NewRunner builds a Runner. checkpoint and metrics may be nil.
func NewRunner(cfg RunConfig, source LogSource, handler Handler, checkpoint Checkpointer, metrics *Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		handler:    handler,
		checkpoint: checkpoint,
		metrics:    metrics,
		logger:     logger,
		retry:      newRetrier(cfg.MaxRetries, cfg.RetryBackoff, metrics, logger),
		seen:       make(map[string]struct{}),
	}
}

// Run executes the indexing loop and returns the last processed block.
func (r *Runner) Run(ctx context.Context) (uint64, error) {
	if r.source == nil {
		return 0, fmt.Errorf("log source is nil")
	}
	if r.handler == nil {
		return 0, fmt.Errorf("handler is nil")
	}
	if r.cfg.BatchSize == 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return 0, fmt.Errorf("at least one address is required")
	}

	chainID, err := r.source.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.source.LatestBlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	lastProcessed := uint64(0)
	if from > 0 {
		lastProcessed = from - 1
	}
	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return 0, err
		}
		if ok && cp.LastProcessedBlock >= from {
			if err := r.handler.Restore(cp.State); err != nil {
				return 0, fmt.Errorf("restore checkpoint state: %w", err)
			}
			from = cp.LastProcessedBlock + 1
			lastProcessed = cp.LastProcessedBlock
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return lastProcessed, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return lastProcessed, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return lastProcessed, ctx.Err()
		default:
		}

		if err := r.runBatch(ctx, chainIDValue, blockRange); err != nil {
			return lastProcessed, err
		}
		lastProcessed = blockRange.To
	}

	return lastProcessed, nil
}

func (r *Runner) runBatch(ctx context.Context, chainID uint64, blockRange BlockRange) error {
	r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return fmt.Errorf("filter logs %s: %w", blockRange, err)
	}
	sortLogs(logs)

	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed || r.isDuplicate(log) {
			continue
		}
		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		records = append(records, buildLogRecord(chainID, log, ts, ingestedAt))
	}

	if err := r.handler.HandleLogs(ctx, records); err != nil {
		return fmt.Errorf("handle logs %s: %w", blockRange, err)
	}

	if r.checkpoint != nil {
		state, err := r.handler.State()
		if err != nil {
			return fmt.Errorf("checkpoint state: %w", err)
		}
		cp := Checkpoint{LastProcessedBlock: blockRange.To, State: state}
		if err := r.checkpoint.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	clear(r.seen)
	r.metrics.observeBatch(len(records), blockRange.To)
	r.logger.Info("batch complete", zap.Int("logs", len(records)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	return nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := r.retry.do(ctx, "filter_logs", func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Addresses, r.cfg.Topic0)
		return err
	}, zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := r.retry.do(ctx, "block_timestamp", func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		return err
	}, zap.Uint64("block_number", blockNumber))
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
