// Package rpcpool implements the RPC Pool of an on-chain indexer: a
// round-robin pool of untrusted JSON-RPC endpoints that fails over on
// rate-limit responses and transport errors, exposing exactly the three
// calls the block-processing pipeline needs.
//
// It generalizes the shape of a client wrapper that abstracts over several
// underlying implementations behind an index and switch-dispatched methods
// — the same shape used elsewhere to abstract over different chain
// flavors — onto a new axis: which endpoint of the same flavor is live.
package rpcpool

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/ethscriptions-protocol/indexer/boff"
	"github.com/ethscriptions-protocol/indexer/config"
	"github.com/ethscriptions-protocol/indexer/logger"
)

// Block is a trimmed block view carrying exactly what the Classifier
// needs. It is fetched via a raw eth_getBlockByNumber call rather than
// ethclient's typed BlockByNumber, because the canonical *types.Transaction
// does not carry a sender address — go-ethereum recovers senders from the
// signature on demand, and this indexer trusts its RPC endpoints and never
// verifies signatures, so it reads the "from" field the node already
// computed instead.
type Block struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	Txs       []Tx
}

// Tx is one transaction of a Block, in the order it appears in the block.
type Tx struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address // nil for a contract-creation transaction
	Input []byte
}

type rawBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []rawTx        `json:"transactions"`
}

type rawTx struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// Pool is a Block Processor-owned pool of JSON-RPC clients. The
// processor's concurrent block fetches all share one Pool, so the
// current-endpoint index is read and rotated from several goroutines at
// once; it is atomic so those accesses are race-free. A rotation is a
// separate load and store, so two concurrent rotations may advance the
// index by one endpoint rather than two.
type Pool struct {
	urls    []string
	clients []*ethclient.Client
	chainID *big.Int
	current atomic.Int32
}

// Dial connects to every endpoint in urls and verifies each reports the
// expected chainID (static-network mode, per the indexer's "fixed chain-id
// binding" policy — this avoids a per-call chain-id probe that would hang
// against a degraded endpoint). An endpoint that cannot be dialed or whose
// chain ID mismatches causes Dial to fail outright: a misconfigured pool
// should never silently index the wrong chain.
func Dial(ctx context.Context, urls []string, chainID int64) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.New("rpcpool: no endpoints configured")
	}

	p := &Pool{
		urls:    urls,
		clients: make([]*ethclient.Client, len(urls)),
		chainID: big.NewInt(chainID),
	}

	for i, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, errors.Wrapf(err, "rpcpool: dial %s", url)
		}

		got, err := client.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "rpcpool: chain ID probe of %s", url)
		}
		if got.Cmp(p.chainID) != 0 {
			return nil, errors.Errorf("rpcpool: endpoint %s reports chain ID %s, expected %d", url, got, chainID)
		}

		p.clients[i] = client
	}

	return p, nil
}

func (p *Pool) Len() int {
	return len(p.clients)
}

// Current returns the index of the endpoint the pool is currently using.
func (p *Pool) Current() int {
	return int(p.current.Load()) % len(p.clients)
}

func (p *Pool) rotate() {
	next := (p.current.Load() + 1) % int32(len(p.clients))
	p.current.Store(next)
}

func (p *Pool) client() *ethclient.Client {
	return p.clients[p.Current()]
}

// GetBlockNumber returns the current head block number as reported by the
// live endpoint.
func (p *Pool) GetBlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, p, "GetBlockNumber", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// GetBlockByNumber fetches a block, including the sender, recipient, and
// calldata of every transaction, by number.
func (p *Pool) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	return call(ctx, p, "GetBlockByNumber", func(ctx context.Context, c *ethclient.Client) (*Block, error) {
		var msg json.RawMessage
		if err := c.Client().CallContext(ctx, &msg, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
			return nil, err
		}
		if len(msg) == 0 || string(msg) == "null" {
			return nil, ethereum.NotFound
		}

		var raw rawBlock
		if err := json.Unmarshal(msg, &raw); err != nil {
			return nil, errors.Wrap(err, "rpcpool: decode block")
		}

		txs := make([]Tx, len(raw.Transactions))
		for i, t := range raw.Transactions {
			txs[i] = Tx{Hash: t.Hash, From: t.From, To: t.To, Input: []byte(t.Input)}
		}

		return &Block{
			Number:    uint64(raw.Number),
			Hash:      raw.Hash,
			Timestamp: uint64(raw.Timestamp),
			Txs:       txs,
		}, nil
	})
}

// GetLogs fetches every log matching q — the indexer uses this to collect
// ESIP-1/2/3 events of one block at a time.
func (p *Pool) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, p, "GetLogs", func(ctx context.Context, c *ethclient.Client) ([]types.Log, error) {
		return c.FilterLogs(ctx, q)
	})
}

// call drives a single logical RPC operation across the pool: it retries
// the current endpoint with exponential backoff for ordinary transport
// errors, and rotates to the next endpoint immediately — without consuming
// a retry — the moment a call is classified as rate-limited or a single
// attempt exceeds config.Timeout. It gives up only once every endpoint has
// been tried once in a full lap without success.
func call[T any](ctx context.Context, p *Pool, name string, fn func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < p.Len(); attempt++ {
		client := p.client()

		result, err := boff.RetryWithMaxElapsed(ctx, func() (T, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, config.Timeout)
			defer cancel()

			v, err := fn(attemptCtx, client)
			if err != nil && (isRateLimited(err) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) {
				// Stop retrying this endpoint immediately; rotate below.
				return zero, backoff.Permanent(err)
			}
			return v, err
		}, name)

		if err == nil {
			return result, nil
		}

		lastErr = err
		logger.Debug("rpcpool: %s failed on endpoint %s: %s", name, p.urls[p.Current()], err)
		p.rotate()
	}

	return zero, errors.Wrapf(lastErr, "rpcpool: %s exhausted all %d endpoints", name, p.Len())
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return true
	}

	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 429 {
		return true
	}

	return strings.Contains(err.Error(), "429")
}
