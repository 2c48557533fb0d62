// Package testing provides an in-process JSON-RPC fixture server standing
// in for an EVM node during indexer tests: canned chain ID, head number,
// per-block bodies and per-range logs, plus a knob to simulate rate
// limiting so RPC Pool failover can be exercised without a live endpoint.
package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MockChain is a canned-response stand-in for a single JSON-RPC endpoint.
// Tests populate Blocks and Logs directly; MockChain never executes real
// chain logic, it only replays fixtures.
type MockChain struct {
	ChainID   int64
	Blocks    map[uint64]json.RawMessage
	Logs      json.RawMessage
	FailCalls atomic.Int32  // each call while >0 serves HTTP 429 and decrements
	Delay     time.Duration // if set, every response is held for this long first

	server *httptest.Server
}

func NewMockChain(chainID int64) *MockChain {
	return &MockChain{ChainID: chainID, Blocks: make(map[uint64]json.RawMessage)}
}

// Start launches the fixture server and returns its URL.
func (m *MockChain) Start() string {
	r := mux.NewRouter()
	r.HandleFunc("/", m.handle)
	m.server = httptest.NewServer(r)

	return m.server.URL
}

func (m *MockChain) Close() {
	if m.server != nil {
		m.server.Close()
	}
}

func (m *MockChain) handle(w http.ResponseWriter, req *http.Request) {
	if m.Delay > 0 {
		select {
		case <-req.Context().Done():
			return
		case <-time.After(m.Delay):
		}
	}

	if m.FailCalls.Load() > 0 {
		m.FailCalls.Add(-1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	var r rpcRequest
	if err := json.Unmarshal(body, &r); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: r.ID}

	switch r.Method {
	case "eth_chainId":
		resp.Result = json.RawMessage(fmt.Sprintf(`"0x%x"`, m.ChainID))

	case "eth_blockNumber":
		resp.Result = json.RawMessage(fmt.Sprintf(`"0x%x"`, m.maxBlock()))

	case "eth_getBlockByNumber":
		var numStr string
		if len(r.Params) > 0 {
			_ = json.Unmarshal(r.Params[0], &numStr)
		}

		num, ok := m.resolveBlockNumber(numStr)
		block, found := m.Blocks[num]
		if !ok || !found {
			resp.Result = json.RawMessage("null")
		} else {
			resp.Result = block
		}

	case "eth_getLogs":
		if m.Logs != nil {
			resp.Result = m.Logs
		} else {
			resp.Result = json.RawMessage("[]")
		}

	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + r.Method}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (m *MockChain) maxBlock() uint64 {
	var max uint64
	for n := range m.Blocks {
		if n > max {
			max = n
		}
	}

	return max
}

// BlockTx is one transaction of a fixture block, in the shape the raw
// eth_getBlockByNumber response carries it (sender included, since this is
// exactly the field the indexer's RPC pool reads instead of recovering it
// from a signature).
type BlockTx struct {
	Hash  string
	From  string
	To    string // empty for a contract-creation transaction
	Input string // "0x"-prefixed hex
}

// BuildBlock renders a fixture block as the raw JSON eth_getBlockByNumber
// would return it.
func BuildBlock(number, timestamp uint64, txs []BlockTx) json.RawMessage {
	type jsonTx struct {
		Hash  string  `json:"hash"`
		From  string  `json:"from"`
		To    *string `json:"to"`
		Input string  `json:"input"`
	}

	jsonTxs := make([]jsonTx, len(txs))
	for i, t := range txs {
		jt := jsonTx{Hash: t.Hash, From: t.From, Input: t.Input}
		if t.To != "" {
			to := t.To
			jt.To = &to
		}
		jsonTxs[i] = jt
	}

	out := struct {
		Number       string   `json:"number"`
		Hash         string   `json:"hash"`
		Timestamp    string   `json:"timestamp"`
		Transactions []jsonTx `json:"transactions"`
	}{
		Number:       fmt.Sprintf("0x%x", number),
		Hash:         fmt.Sprintf("0x%064x", number), // synthetic, never validated
		Timestamp:    fmt.Sprintf("0x%x", timestamp),
		Transactions: jsonTxs,
	}

	raw, _ := json.Marshal(out)
	return raw
}

// FixtureLog is one event log of a fixture eth_getLogs response.
type FixtureLog struct {
	Address     string
	Topics      []string
	Data        string // "0x"-prefixed hex
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
}

// BuildLogs renders a slice of fixture logs as the raw JSON eth_getLogs
// would return them, in the exact field shape types.Log unmarshals.
func BuildLogs(logs []FixtureLog) json.RawMessage {
	type jsonLog struct {
		Address          string   `json:"address"`
		Topics           []string `json:"topics"`
		Data             string   `json:"data"`
		BlockNumber      string   `json:"blockNumber"`
		TransactionHash  string   `json:"transactionHash"`
		TransactionIndex string   `json:"transactionIndex"`
		BlockHash        string   `json:"blockHash"`
		LogIndex         string   `json:"logIndex"`
		Removed          bool     `json:"removed"`
	}

	out := make([]jsonLog, len(logs))
	for i, l := range logs {
		data := l.Data
		if data == "" {
			data = "0x"
		}

		out[i] = jsonLog{
			Address:          l.Address,
			Topics:           l.Topics,
			Data:             data,
			BlockNumber:      fmt.Sprintf("0x%x", l.BlockNumber),
			TransactionHash:  l.TxHash,
			TransactionIndex: "0x0",
			BlockHash:        fmt.Sprintf("0x%064x", l.BlockNumber),
			LogIndex:         fmt.Sprintf("0x%x", l.LogIndex),
			Removed:          false,
		}
	}

	raw, _ := json.Marshal(out)
	return raw
}

func (m *MockChain) resolveBlockNumber(s string) (uint64, bool) {
	if s == "latest" || s == "" {
		return m.maxBlock(), true
	}

	s = strings.TrimPrefix(s, "0x")

	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}
