package indexer

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethscriptions-protocol/indexer/codec"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
	fixture "github.com/ethscriptions-protocol/indexer/testing"
)

const testChainID = 84532

func newTestProcessor(t *testing.T, chain *fixture.MockChain) *Processor {
	t.Helper()

	url := chain.Start()
	t.Cleanup(chain.Close)

	pool, err := rpcpool.Dial(context.Background(), []string{url}, testChainID)
	require.NoError(t, err)

	db := setupTestDB(t)

	return &Processor{
		pool:         pool,
		db:           db,
		materializer: newMaterializer(),
		batchSize:    100,
		concurrency:  4,
	}
}

// contentID is the base inscription id of uri: the hash of its canonical
// form, the same identity the classifier computes.
func contentID(uri string) string {
	return codec.SHA256LowerHex([]byte(codec.Canonicalize(uri)))
}

// txHash turns a readable fixture label into a 32-byte hex hash, the only
// shape the RPC pool's block and log decoding accepts for a tx hash.
func txHash(label string) string {
	return codec.SHA256LowerHex([]byte(label))
}

func TestScenarioCreateThenEOATransfer(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	creator := "0x1111111111111111111111111111111111111111"
	recipient := "0x2222222222222222222222222222222222222222"
	uri := "data:,hello-scenario"

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, []fixture.BlockTx{
		{Hash: txHash("b1t1"), From: creator, To: creator, Input: "0x" + hex.EncodeToString([]byte(uri))},
	})
	chain.Logs = fixture.BuildLogs(nil)

	proc := newTestProcessor(t, chain)

	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	id := contentID(uri)
	insc, err := database.FetchInscription(proc.db, id)
	require.NoError(t, err)
	require.Equal(t, creator, insc.CurrentOwner)

	idBytes, err := hex.DecodeString(id[2:])
	require.NoError(t, err)

	chain.Blocks[2] = fixture.BuildBlock(2, 2000, []fixture.BlockTx{
		{Hash: txHash("b2t1"), From: creator, To: recipient, Input: "0x" + hex.EncodeToString(idBytes)},
	})

	cp, err = proc.runBatch(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cp)

	insc, err = database.FetchInscription(proc.db, id)
	require.NoError(t, err)
	require.Equal(t, recipient, insc.CurrentOwner)
}

func TestScenarioRPCFailoverStillAdvancesCheckpoint(t *testing.T) {
	creator := "0x3333333333333333333333333333333333333333"
	uri := "data:,failover"

	block := []fixture.BlockTx{
		{Hash: txHash("f1t1"), From: creator, To: creator, Input: "0x" + hex.EncodeToString([]byte(uri))},
	}

	primary := fixture.NewMockChain(testChainID)
	primary.Blocks[1] = fixture.BuildBlock(1, 1000, block)
	primary.Logs = fixture.BuildLogs(nil)

	backup := fixture.NewMockChain(testChainID)
	backup.Blocks[1] = fixture.BuildBlock(1, 1000, block)
	backup.Logs = fixture.BuildLogs(nil)

	primaryURL := primary.Start()
	t.Cleanup(primary.Close)
	backupURL := backup.Start()
	t.Cleanup(backup.Close)

	pool, err := rpcpool.Dial(context.Background(), []string{primaryURL, backupURL}, testChainID)
	require.NoError(t, err)

	// The primary endpoint rate-limits every call from here on; the pool
	// must fail over to the backup within the same batch and still
	// advance the checkpoint.
	primary.FailCalls.Store(1 << 20)

	db := setupTestDB(t)
	proc := &Processor{pool: pool, db: db, materializer: newMaterializer(), batchSize: 100, concurrency: 2}

	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	_, err = database.FetchInscription(proc.db, contentID(uri))
	require.NoError(t, err)
}

func TestScenarioESIP6DuplicateSequencing(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	creator1 := "0x4444444444444444444444444444444444444444"
	creator2 := "0x5555555555555555555555555555555555555555"
	creator3 := "0x1010101010101010101010101010101010101010"

	// The "rule=esip6" marker is stripped during canonicalization (it is
	// governance metadata, not content), so all three calldatas share one
	// base content hash despite differing surface text.
	plainURI := "data:,dup-esip6"
	esip6URI := "data:,dup-esip6;rule=esip6"

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, []fixture.BlockTx{
		{Hash: txHash("d1t1"), From: creator1, To: creator1, Input: "0x" + hex.EncodeToString([]byte(plainURI))},
		{Hash: txHash("d1t2"), From: creator2, To: creator2, Input: "0x" + hex.EncodeToString([]byte(esip6URI))},
		{Hash: txHash("d1t3"), From: creator3, To: creator3, Input: "0x" + hex.EncodeToString([]byte(esip6URI))},
	})
	chain.Logs = fixture.BuildLogs(nil)

	proc := newTestProcessor(t, chain)

	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	base := contentID(plainURI)
	require.Equal(t, base, contentID(esip6URI), "the esip6 marker must not affect content identity")

	plain, err := database.FetchInscription(proc.db, base)
	require.NoError(t, err)
	require.Equal(t, creator1, plain.CurrentOwner)
	require.Nil(t, plain.ESIP6Sequence)

	first, err := database.FetchInscription(proc.db, database.BaseHashID(base, 1))
	require.NoError(t, err)
	require.Equal(t, creator2, first.CurrentOwner)
	require.NotNil(t, first.ESIP6Sequence)
	require.Equal(t, 1, *first.ESIP6Sequence)

	second, err := database.FetchInscription(proc.db, database.BaseHashID(base, 2))
	require.NoError(t, err)
	require.Equal(t, creator3, second.CurrentOwner)
	require.NotNil(t, second.ESIP6Sequence)
	require.Equal(t, 2, *second.ESIP6Sequence)
}

// TestScenarioReprocessingBlockIsNoOp re-runs the exact same block a
// second time, as an overlapping batch window or a retry after a crash
// between apply and checkpoint would. Every ESIP-6 sibling must land at
// the same id it did the first time, with no phantom extra rows.
func TestScenarioReprocessingBlockIsNoOp(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	creator1 := "0x2020202020202020202020202020202020202020"
	creator2 := "0x3030303030303030303030303030303030303030"

	plainURI := "data:,reprocess"
	esip6URI := "data:,reprocess;rule=esip6"

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, []fixture.BlockTx{
		{Hash: txHash("p1t1"), From: creator1, To: creator1, Input: "0x" + hex.EncodeToString([]byte(plainURI))},
		{Hash: txHash("p1t2"), From: creator2, To: creator2, Input: "0x" + hex.EncodeToString([]byte(esip6URI))},
	})
	chain.Logs = fixture.BuildLogs(nil)

	proc := newTestProcessor(t, chain)

	_, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)

	// Re-run the identical block, simulating a checkpoint that never
	// advanced past it.
	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	base := contentID(plainURI)

	sibling, err := database.FetchInscription(proc.db, database.BaseHashID(base, 1))
	require.NoError(t, err)
	require.Equal(t, 1, *sibling.ESIP6Sequence)

	_, err = database.FetchInscription(proc.db, database.BaseHashID(base, 2))
	require.Error(t, err, "reprocessing must not mint a second ESIP-6 sibling")

	var total int64
	require.NoError(t, proc.db.Model(&database.Inscription{}).
		Where("id = ? OR id LIKE ?", base, base+"-%").
		Count(&total).Error)
	require.Equal(t, int64(2), total, "exactly the plain create and its one sibling, no phantom rows")
}

func TestScenarioBulkTransferESIP5(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	creator := "0x6666666666666666666666666666666666666666"
	recipient := "0x7777777777777777777777777777777777777777"

	uriA := "data:,bulk-a"
	uriB := "data:,bulk-b"

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, []fixture.BlockTx{
		{Hash: txHash("e1t1"), From: creator, To: creator, Input: "0x" + hex.EncodeToString([]byte(uriA))},
		{Hash: txHash("e1t2"), From: creator, To: creator, Input: "0x" + hex.EncodeToString([]byte(uriB))},
	})
	chain.Logs = fixture.BuildLogs(nil)

	proc := newTestProcessor(t, chain)
	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	idA := contentID(uriA)
	idB := contentID(uriB)

	bytesA, err := hex.DecodeString(idA[2:])
	require.NoError(t, err)
	bytesB, err := hex.DecodeString(idB[2:])
	require.NoError(t, err)

	chain.Blocks[2] = fixture.BuildBlock(2, 2000, []fixture.BlockTx{
		{Hash: txHash("e2t1"), From: creator, To: recipient, Input: "0x" + hex.EncodeToString(bytesA) + hex.EncodeToString(bytesB)},
	})

	cp, err = proc.runBatch(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cp)

	inscA, err := database.FetchInscription(proc.db, idA)
	require.NoError(t, err)
	require.Equal(t, recipient, inscA.CurrentOwner)

	inscB, err := database.FetchInscription(proc.db, idB)
	require.NoError(t, err)
	require.Equal(t, recipient, inscB.CurrentOwner)
}

// TestRunContinuesPastBatchStoreFailure exercises the disposition of a
// genuine store failure inside a protocol handler at the level of the outer
// Run loop: it must log the failure and keep polling rather than returning
// and taking the whole process down with it, and the checkpoint must not
// advance past the block that failed.
func TestRunContinuesPastBatchStoreFailure(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	creator := "0xd0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0"
	uri := `data:application/json,{"p":"store-failing-test-handler","op":"whatever"}`

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, []fixture.BlockTx{
		{Hash: txHash("r1t1"), From: creator, To: creator, Input: "0x" + hex.EncodeToString([]byte(uri))},
	})
	chain.Logs = fixture.BuildLogs(nil)

	proc := newTestProcessor(t, chain)
	proc.pollInterval = 10 * time.Millisecond

	protocols := NewProtocolHandlers()
	protocols["store-failing-test-handler"] = storeFailingHandler{}
	proc.materializer = NewMaterializer(protocols)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := proc.Run(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded, "Run must exit via context cancellation, not a returned batch error")

	cp, err := database.GetOrCreateCheckpoint(proc.db, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.LastProcessedBlock, "the failing block must never be checkpointed")
}

func TestScenarioContractCreateViaLog(t *testing.T) {
	chain := fixture.NewMockChain(testChainID)

	contract := "0x8888888888888888888888888888888888888888"
	initialOwner := "0x9999999999999999999999999999999999999999"
	uri := "data:,contract-create"

	chain.Blocks[1] = fixture.BuildBlock(1, 1000, nil)
	chain.Logs = fixture.BuildLogs([]fixture.FixtureLog{
		{
			Address:     contract,
			Topics:      []string{topicCreateEthscription.Hex(), addressToTopic(addr(initialOwner)).Hex()},
			Data:        "0x" + hex.EncodeToString(encodeABIString(t, uri)),
			TxHash:      txHash("aaa1"),
			LogIndex:    0,
			BlockNumber: 1,
		},
	})

	proc := newTestProcessor(t, chain)
	cp, err := proc.runBatch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)

	insc, err := database.FetchInscription(proc.db, contentID(uri))
	require.NoError(t, err)
	require.True(t, insc.CreatedByContract)
	require.Equal(t, initialOwner, insc.CurrentOwner)
}
