package indexer

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethscriptions-protocol/indexer/codec"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
)

func addr(s string) common.Address { return common.HexToAddress(s) }

func TestClassifyTransactionIgnoresNoRecipient(t *testing.T) {
	tx := rpcTx(addr("0xaaaa"), nil, []byte("data:,hello"))
	assert.Nil(t, ClassifyTransaction(tx, 100, 1000))
}

func TestClassifyTransactionSelfTransferCreate(t *testing.T) {
	from := addr("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tx := rpcTx(from, &from, []byte("data:,hello"))

	intents := ClassifyTransaction(tx, 100, 1000)
	require.Len(t, intents, 1)

	got := intents[0]
	assert.Equal(t, IntentCreate, got.Kind)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got.Create.Creator)
	assert.Equal(t, got.Create.Creator, got.Create.InitialOwner)
	assert.Equal(t, codec.SHA256LowerHex([]byte("data:,hello")), got.Create.ContentHash)
	assert.False(t, got.Create.ESIP6)
	assert.False(t, got.Create.CreatedByContract)
}

func TestClassifyTransactionSelfTransferESIP6(t *testing.T) {
	from := addr("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx := rpcTx(from, &from, []byte("data:,foo;rule=esip6"))

	intents := ClassifyTransaction(tx, 100, 1000)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Create.ESIP6)
}

func TestClassifyTransactionIgnoresNonDataURISelfTransfer(t *testing.T) {
	from := addr("0xcccccccccccccccccccccccccccccccccccccccc")
	tx := rpcTx(from, &from, []byte("not a data uri"))
	assert.Nil(t, ClassifyTransaction(tx, 100, 1000))
}

func TestClassifyTransactionIgnoresInvalidUTF8SelfTransfer(t *testing.T) {
	from := addr("0xdddddddddddddddddddddddddddddddddddddddd")
	tx := rpcTx(from, &from, []byte{0xff, 0xfe, 0xfd})
	assert.Nil(t, ClassifyTransaction(tx, 100, 1000))
}

func TestClassifyTransactionBulkTransferSingle(t *testing.T) {
	from := addr("0x1111111111111111111111111111111111111111"[:42])
	to := addr("0x2222222222222222222222222222222222222222"[:42])
	id := make([]byte, 32)
	id[31] = 0x01

	tx := rpcTx(from, &to, id)

	intents := ClassifyTransaction(tx, 300, 1000)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentTransfer, intents[0].Kind)
	assert.Equal(t, database.TransferEOA, intents[0].Transfer.TransferType)
	assert.Equal(t, "0x"+"0000000000000000000000000000000000000000000000000000000000000001", intents[0].Transfer.InscriptionID)
}

func TestClassifyTransactionBulkTransferTwo(t *testing.T) {
	from := addr("0x1111111111111111111111111111111111111111"[:42])
	to := addr("0x2222222222222222222222222222222222222222"[:42])
	ids := make([]byte, 64)
	ids[31] = 0x01
	ids[63] = 0x02

	tx := rpcTx(from, &to, ids)

	intents := ClassifyTransaction(tx, 300, 1000)
	require.Len(t, intents, 2)
	for _, it := range intents {
		assert.Equal(t, database.TransferEOA, it.Transfer.TransferType)
		assert.Equal(t, from.Hex(), common.HexToAddress(it.Transfer.From).Hex())
		assert.Equal(t, to.Hex(), common.HexToAddress(it.Transfer.To).Hex())
	}
	assert.NotEqual(t, intents[0].Transfer.InscriptionID, intents[1].Transfer.InscriptionID)
}

func TestClassifyTransactionBulkTransferNonMultipleIgnored(t *testing.T) {
	from := addr("0x1111111111111111111111111111111111111111"[:42])
	to := addr("0x2222222222222222222222222222222222222222"[:42])
	tx := rpcTx(from, &to, make([]byte, 48)) // 96 hex chars, not a multiple of 32 bytes

	assert.Nil(t, ClassifyTransaction(tx, 300, 1000))
}

func TestClassifyTransactionOrdinaryTransferIgnored(t *testing.T) {
	from := addr("0x1111111111111111111111111111111111111111"[:42])
	to := addr("0x2222222222222222222222222222222222222222"[:42])
	tx := rpcTx(from, &to, []byte{0x01, 0x02, 0x03})

	assert.Nil(t, ClassifyTransaction(tx, 300, 1000))
}

func TestClassifyLogUnknownTopicIgnored(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	_, ok := ClassifyLog(log, 100, 1000)
	assert.False(t, ok)
}

func TestClassifyLogTransferEthscription(t *testing.T) {
	recipient := addr("0x3333333333333333333333333333333333333333"[:42])
	id := common.HexToHash("0x" + "01" + "00000000000000000000000000000000000000000000000000000000000")

	log := types.Log{
		Address: addr("0xcccccccccccccccccccccccccccccccccccccccc"),
		Topics: []common.Hash{
			topicTransferEthscription,
			addressToTopic(recipient),
			id,
		},
		TxHash: common.HexToHash("0xabc"),
		Index:  3,
	}

	intent, ok := ClassifyLog(log, 100, 1000)
	require.True(t, ok)
	assert.Equal(t, IntentTransfer, intent.Kind)
	assert.Equal(t, database.TransferESIP1, intent.Transfer.TransferType)
	assert.Equal(t, recipient.Hex(), common.HexToAddress(intent.Transfer.To).Hex())
	require.NotNil(t, intent.Transfer.LogIndex)
	assert.Equal(t, uint(3), *intent.Transfer.LogIndex)
}

func TestClassifyLogTransferForPreviousOwner(t *testing.T) {
	prev := addr("0x4444444444444444444444444444444444444444"[:42])
	recipient := addr("0x5555555555555555555555555555555555555555"[:42])
	id := common.HexToHash("0x02")

	log := types.Log{
		Address: addr("0xdddddddddddddddddddddddddddddddddddddddd"),
		Topics: []common.Hash{
			topicTransferForPreviousOwner,
			addressToTopic(prev),
			addressToTopic(recipient),
			id,
		},
		TxHash: common.HexToHash("0xdef"),
		Index:  1,
	}

	intent, ok := ClassifyLog(log, 100, 1000)
	require.True(t, ok)
	assert.Equal(t, database.TransferESIP2, intent.Transfer.TransferType)
	assert.Equal(t, prev.Hex(), common.HexToAddress(intent.Transfer.From).Hex())
	assert.Equal(t, recipient.Hex(), common.HexToAddress(intent.Transfer.To).Hex())
}

func TestClassifyLogCreateEthscription(t *testing.T) {
	initialOwner := addr("0x6666666666666666666666666666666666666666"[:42])
	contract := addr("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"[:42])

	uri := "data:,xyz"
	data := encodeABIString(t, uri)

	log := types.Log{
		Address: contract,
		Topics:  []common.Hash{topicCreateEthscription, addressToTopic(initialOwner)},
		Data:    data,
		TxHash:  common.HexToHash("0x1234"),
	}

	intent, ok := ClassifyLog(log, 200, 2000)
	require.True(t, ok)
	assert.Equal(t, IntentCreate, intent.Kind)
	assert.True(t, intent.Create.CreatedByContract)
	assert.Equal(t, strings.ToLower(contract.Hex()), intent.Create.CreatorContract)
	assert.Equal(t, initialOwner.Hex(), common.HexToAddress(intent.Create.InitialOwner).Hex())
	assert.Equal(t, codec.SHA256LowerHex([]byte(uri)), intent.Create.ContentHash)
}

// --- helpers ---

func rpcTx(from common.Address, to *common.Address, input []byte) rpcpool.Tx {
	return rpcpool.Tx{From: from, To: to, Input: input}
}

func addressToTopic(a common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], a.Bytes())
	return h
}

func encodeABIString(t *testing.T, s string) []byte {
	t.Helper()

	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)

	args := abi.Arguments{{Type: stringType}}
	packed, err := args.Pack(s)
	require.NoError(t, err)

	return packed
}
