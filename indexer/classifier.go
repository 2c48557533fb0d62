// Package indexer implements the protocol state machine of an
// ethscriptions indexer: the Classifier that turns raw transactions and
// event logs into typed intents, the Materializer that applies those
// intents to the store, the per-protocol-tag Protocol Handlers, and the
// Block Processor that orchestrates fetch/classify/materialize/checkpoint
// across a moving window of blocks.
package indexer

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/ethscriptions-protocol/indexer/codec"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
)

// IntentKind distinguishes which field of an Intent is populated.
type IntentKind int

const (
	IntentIgnore IntentKind = iota
	IntentCreate
	IntentTransfer
)

// CreateIntent is the classifier's output for a Create candidate, whether
// an EOA self-transfer or an ESIP-3 contract-emitted creation.
type CreateIntent struct {
	Creator           string
	InitialOwner      string
	ContentURI        string // canonicalized, per codec.Canonicalize
	ContentType       string
	ContentHash       string // sha256 of the canonical URI, without any ESIP-6 suffix
	ESIP6             bool
	TxHash            string
	BlockNumber       uint64
	Timestamp         uint64
	CreatedByContract bool
	CreatorContract   string
}

// TransferIntent is the classifier's output for any of the three transfer
// flavors: EOA (calldata), ESIP-1 (contract-emitted), ESIP-2
// (contract-emitted with an expected previous owner).
type TransferIntent struct {
	InscriptionID   string
	From            string // sender for EOA; expected previous owner for ESIP-2; ignored (recomputed) for ESIP-1
	To              string
	TxHash          string
	BlockNumber     uint64
	Timestamp       uint64
	LogIndex        *uint
	ContractAddress string
	TransferType    database.TransferType
}

// Intent is a single classified unit of work, applied by the Materializer
// in the strict order the Block Processor hands them over.
type Intent struct {
	Kind     IntentKind
	Create   CreateIntent
	Transfer TransferIntent
}

// Topic-0 signatures of the three ethscriptions protocol events, computed
// once at package init from their signature strings rather than hardcoded
// as hash literals. Nothing validates the strings: a typo yields a
// different hash, and matching logs are then silently not recognized.
var (
	topicTransferEthscription     = crypto.Keccak256Hash([]byte("ethscriptions_protocol_TransferEthscription(address,bytes32)"))
	topicTransferForPreviousOwner = crypto.Keccak256Hash([]byte("ethscriptions_protocol_TransferEthscriptionForPreviousOwner(address,address,bytes32)"))
	topicCreateEthscription       = crypto.Keccak256Hash([]byte("ethscriptions_protocol_CreateEthscription(address,string)"))

	stringABIArgs abi.Arguments
)

func init() {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err) // static type construction; cannot fail at runtime
	}

	stringABIArgs = abi.Arguments{{Type: stringType}}
}

const dataURIPrefix = "data:"

// ClassifyTransaction inspects one transaction of block (number,
// timestamp) and returns zero or more intents: a self-transfer whose
// calldata decodes to a data URI yields one Create intent; calldata whose
// length is a positive multiple of 32 bytes yields one Transfer intent per
// 32-byte chunk (ESIP-5); anything else yields nothing.
func ClassifyTransaction(tx rpcpool.Tx, blockNumber, timestamp uint64) []Intent {
	if tx.To == nil {
		return nil
	}

	from := strings.ToLower(tx.From.Hex())
	to := strings.ToLower(tx.To.Hex())

	if from == to {
		create, ok := classifyCreateCalldata(tx, from, blockNumber, timestamp)
		if !ok {
			return nil
		}

		return []Intent{{Kind: IntentCreate, Create: create}}
	}

	return classifyBulkTransfer(tx, from, to, blockNumber, timestamp)
}

func classifyCreateCalldata(tx rpcpool.Tx, from string, blockNumber, timestamp uint64) (CreateIntent, bool) {
	uri, ok := codec.ToUTF8(tx.Input)
	if !ok || !strings.HasPrefix(uri, dataURIPrefix) {
		return CreateIntent{}, false
	}

	esip6 := codec.HasRuleESIP6(uri)
	canonical := codec.Canonicalize(uri)

	return CreateIntent{
		Creator:      from,
		InitialOwner: from,
		ContentURI:   canonical,
		ContentType:  codec.ContentType(canonical),
		ContentHash:  codec.SHA256LowerHex([]byte(canonical)),
		ESIP6:        esip6,
		TxHash:       tx.Hash.Hex(),
		BlockNumber:  blockNumber,
		Timestamp:    timestamp,
	}, true
}

// esip5ChunkBytes is the size, in bytes, of a single inscription id
// encoded in ESIP-5 bulk-transfer calldata (a sha256 digest).
const esip5ChunkBytes = 32

func classifyBulkTransfer(tx rpcpool.Tx, from, to string, blockNumber, timestamp uint64) []Intent {
	if len(tx.Input) == 0 || len(tx.Input)%esip5ChunkBytes != 0 {
		return nil
	}

	k := len(tx.Input) / esip5ChunkBytes
	intents := make([]Intent, 0, k)

	for i := 0; i < k; i++ {
		chunk := tx.Input[i*esip5ChunkBytes : (i+1)*esip5ChunkBytes]
		intents = append(intents, Intent{
			Kind: IntentTransfer,
			Transfer: TransferIntent{
				InscriptionID: "0x" + hex.EncodeToString(chunk),
				From:          from,
				To:            to,
				TxHash:        tx.Hash.Hex(),
				BlockNumber:   blockNumber,
				Timestamp:     timestamp,
				TransferType:  database.TransferEOA,
			},
		})
	}

	return intents
}

// ClassifyLog inspects one event log of block (number, timestamp) and
// returns the intent it represents. It reports false for any log whose
// topic-0 is not one of the three ethscriptions protocol signatures, or
// whose topic/data shape is otherwise malformed.
func ClassifyLog(log types.Log, blockNumber, timestamp uint64) (Intent, bool) {
	if len(log.Topics) == 0 {
		return Intent{}, false
	}

	switch log.Topics[0] {
	case topicTransferEthscription:
		return classifyContractTransfer(log, blockNumber, timestamp)
	case topicTransferForPreviousOwner:
		return classifyContractTransferForPreviousOwner(log, blockNumber, timestamp)
	case topicCreateEthscription:
		return classifyContractCreate(log, blockNumber, timestamp)
	default:
		return Intent{}, false
	}
}

func classifyContractTransfer(log types.Log, blockNumber, timestamp uint64) (Intent, bool) {
	if len(log.Topics) < 3 {
		return Intent{}, false
	}

	idx := log.Index

	return Intent{
		Kind: IntentTransfer,
		Transfer: TransferIntent{
			InscriptionID:   "0x" + hex.EncodeToString(log.Topics[2][:]),
			To:              strings.ToLower(addressFromTopic(log.Topics[1]).Hex()),
			TxHash:          log.TxHash.Hex(),
			BlockNumber:     blockNumber,
			Timestamp:       timestamp,
			LogIndex:        &idx,
			ContractAddress: strings.ToLower(log.Address.Hex()),
			TransferType:    database.TransferESIP1,
		},
	}, true
}

func classifyContractTransferForPreviousOwner(log types.Log, blockNumber, timestamp uint64) (Intent, bool) {
	if len(log.Topics) < 4 {
		return Intent{}, false
	}

	idx := log.Index

	return Intent{
		Kind: IntentTransfer,
		Transfer: TransferIntent{
			InscriptionID:   "0x" + hex.EncodeToString(log.Topics[3][:]),
			From:            strings.ToLower(addressFromTopic(log.Topics[1]).Hex()),
			To:              strings.ToLower(addressFromTopic(log.Topics[2]).Hex()),
			TxHash:          log.TxHash.Hex(),
			BlockNumber:     blockNumber,
			Timestamp:       timestamp,
			LogIndex:        &idx,
			ContractAddress: strings.ToLower(log.Address.Hex()),
			TransferType:    database.TransferESIP2,
		},
	}, true
}

func classifyContractCreate(log types.Log, blockNumber, timestamp uint64) (Intent, bool) {
	if len(log.Topics) < 2 {
		return Intent{}, false
	}

	uri, err := decodeABIString(log.Data)
	if err != nil || !strings.HasPrefix(uri, dataURIPrefix) {
		return Intent{}, false
	}

	esip6 := codec.HasRuleESIP6(uri)
	canonical := codec.Canonicalize(uri)
	contract := strings.ToLower(log.Address.Hex())

	return Intent{
		Kind: IntentCreate,
		Create: CreateIntent{
			Creator:           contract,
			InitialOwner:      strings.ToLower(addressFromTopic(log.Topics[1]).Hex()),
			ContentURI:        canonical,
			ContentType:       codec.ContentType(canonical),
			ContentHash:       codec.SHA256LowerHex([]byte(canonical)),
			ESIP6:             esip6,
			TxHash:            log.TxHash.Hex(),
			BlockNumber:       blockNumber,
			Timestamp:         timestamp,
			CreatedByContract: true,
			CreatorContract:   contract,
		},
	}, true
}

// addressFromTopic recovers a right-padded address topic by taking its
// trailing 20 bytes.
func addressFromTopic(t common.Hash) common.Address {
	return common.BytesToAddress(t[12:])
}

func decodeABIString(data []byte) (string, error) {
	vals, err := stringABIArgs.UnpackValues(data)
	if err != nil {
		return "", errors.Wrap(err, "indexer: abi-decode string")
	}
	if len(vals) == 0 {
		return "", errors.New("indexer: abi-decoded no values")
	}

	s, ok := vals[0].(string)
	if !ok {
		return "", errors.New("indexer: abi-decoded value is not a string")
	}

	return s, nil
}
