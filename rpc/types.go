// Package rpc exposes ledger and arena state via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/vm/modules/arena"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC error codes, then server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
	CodeTxRejected     = -32002
	CodeRateLimited    = -32005
)

// ChainTime is the tip's height and block time, the clock arena operations
// are judged by.
type ChainTime struct {
	Height int64 `json:"height"`
	Unix   int64 `json:"unix"`
	DayID  int64 `json:"day_id"`
}

// RoundView is a round record plus the prize not yet assigned to a rank.
type RoundView struct {
	*core.Round
	Unallocated uint64 `json:"unallocated"`
}

// VaultsView lists derived addresses with short display labels.
type VaultsView struct {
	Vaults arena.Vaults       `json:"vaults"`
	Labels map[string]string `json:"labels"`
}

// SendTxResult is returned by sendTx.
type SendTxResult struct {
	TxID string `json:"tx_id"`
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
