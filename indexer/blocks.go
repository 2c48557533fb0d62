package indexer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/logger"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
)

// logTopics is the ESIP-1/2/3 topic-0 filter every log fetch narrows to;
// the pool never has to pull unrelated contract event traffic.
var logTopics = []common.Hash{
	topicTransferEthscription,
	topicTransferForPreviousOwner,
	topicCreateEthscription,
}

type fetchResult struct {
	block *rpcpool.Block
	logs  []types.Log
	err   error
}

// runBatch fetches blocks [from, to] with bounded concurrency and applies
// them strictly in order, stopping — without checkpointing past — the
// first block that could not be fetched from any endpoint. Only fetching
// is parallel; classification and materialization stay single-threaded.
func (p *Processor) runBatch(ctx context.Context, from, to uint64) (uint64, error) {
	n := int(to-from) + 1
	results := make([]fetchResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := 0; i < n; i++ {
		i := i

		g.Go(func() error {
			results[i] = p.fetchBlock(gctx, from+uint64(i))
			return nil // a per-block failure is recorded, never aborts the group
		})
	}
	_ = g.Wait()

	checkpoint := from - 1

	for i := 0; i < n; i++ {
		blockNumber := from + uint64(i)
		r := results[i]

		if r.err != nil {
			logger.Error("indexer: skipping block %d after exhausting all endpoints: %v", blockNumber, r.err)
			break
		}

		if err := p.applyBlock(r.block, r.logs); err != nil {
			return checkpoint, errors.Wrapf(err, "indexer: apply block %d", blockNumber)
		}

		if err := database.AdvanceCheckpoint(p.db, blockNumber, r.block.Timestamp); err != nil {
			return checkpoint, errors.Wrapf(err, "indexer: advance checkpoint to %d", blockNumber)
		}

		checkpoint = blockNumber
	}

	return checkpoint, nil
}

func (p *Processor) fetchBlock(ctx context.Context, blockNumber uint64) fetchResult {
	block, err := p.pool.GetBlockByNumber(ctx, blockNumber)
	if err != nil {
		return fetchResult{err: err}
	}

	logs, err := p.pool.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockNumber),
		ToBlock:   new(big.Int).SetUint64(blockNumber),
		Topics:    [][]common.Hash{logTopics},
	})
	if err != nil {
		return fetchResult{err: err}
	}

	return fetchResult{block: block, logs: logs}
}

// applyBlock classifies every transaction and log of block/logs and
// applies the resulting intents strictly in order: all transaction
// intents in block order first, then all log intents in log order
// (spec.md §4.3) — this ordering is load-bearing, since a Transfer
// appearing before its Create in the same block must fail owner-match.
func (p *Processor) applyBlock(block *rpcpool.Block, logs []types.Log) error {
	var intents []Intent

	for _, tx := range block.Txs {
		intents = append(intents, ClassifyTransaction(tx, block.Number, block.Timestamp)...)
	}

	for _, l := range logs {
		if intent, ok := ClassifyLog(l, block.Number, block.Timestamp); ok {
			intents = append(intents, intent)
		}
	}

	for _, intent := range intents {
		if err := p.materializer.ApplyIntent(p.db, intent); err != nil {
			return err
		}
	}

	return nil
}
