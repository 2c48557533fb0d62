package indexer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ethscriptions-protocol/indexer/config"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/logger"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
)

// Processor is the Block Processor of spec.md §4.6: it drives a moving
// window of blocks through fetch -> classify -> materialize -> checkpoint,
// with bounded fetch concurrency and strictly sequential application.
type Processor struct {
	pool         *rpcpool.Pool
	db           *gorm.DB
	materializer *Materializer
	batchSize    uint64
	concurrency  int
	pollInterval time.Duration
}

// NewProcessor wires a Processor from cfg, substituting sane defaults for
// zero-valued config fields, matching the teacher's habit in
// CreateBlockIndexer.
func NewProcessor(pool *rpcpool.Pool, db *gorm.DB, cfg config.IndexerConfig) *Processor {
	batchSize := uint64(cfg.BatchSize)
	if batchSize == 0 {
		batchSize = 100
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Processor{
		pool:         pool,
		db:           db,
		materializer: NewMaterializer(NewProtocolHandlers()),
		batchSize:    batchSize,
		concurrency:  concurrency,
		pollInterval: pollInterval,
	}
}

// Run drives the IDLE -> FETCH_HEAD -> CHOOSE_BATCH -> FETCH_BLOCKS ->
// APPLY -> CHECKPOINT state machine of spec.md §4.6 until ctx is canceled.
// Every batch's blocks are applied and checkpointed strictly in order
// before the next batch's fetch begins; when caught up to head, Run polls
// at pollInterval.
func (p *Processor) Run(ctx context.Context, startBlock uint64) error {
	cp, err := database.GetOrCreateCheckpoint(p.db, startBlock)
	if err != nil {
		return errors.Wrap(err, "indexer: load checkpoint")
	}

	checkpoint := cp.LastProcessedBlock

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		head, err := p.pool.GetBlockNumber(ctx)
		if err != nil {
			logger.Error("indexer: fetch head failed: %v", err)

			if !sleepCtx(ctx, p.pollInterval) {
				return ctx.Err()
			}

			continue
		}

		if head <= checkpoint {
			if !sleepCtx(ctx, p.pollInterval) {
				return ctx.Err()
			}

			continue
		}

		to := head
		if to > checkpoint+p.batchSize {
			to = checkpoint + p.batchSize
		}

		newCheckpoint, err := p.runBatch(ctx, checkpoint+1, to)
		if err != nil {
			logger.Error("indexer: batch [%d,%d] aborted, not checkpointed past %d: %v", checkpoint+1, to, newCheckpoint, err)
			checkpoint = newCheckpoint

			if !sleepCtx(ctx, p.pollInterval) {
				return ctx.Err()
			}

			continue
		}

		if newCheckpoint == checkpoint {
			// Nothing in this batch could be fetched; back off instead of
			// hammering a still-unhealthy pool.
			if !sleepCtx(ctx, p.pollInterval) {
				return ctx.Err()
			}
		}

		checkpoint = newCheckpoint
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
