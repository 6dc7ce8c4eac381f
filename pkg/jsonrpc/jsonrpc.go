// Package jsonrpc carries the JSON-RPC 2.0 envelope types used on both the
// inbound and upstream surfaces. Params and IDs stay raw so that forwarded
// requests are relayed byte-for-byte.
package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
)

const Version = "2.0"

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NullID is the ID used when the request's own ID could not be recovered.
var NullID = json.RawMessage("null")

// IsBatch reports whether body is a JSON array, i.e. a batch request.
func IsBatch(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func NewResult(id json.RawMessage, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	if id == nil {
		id = NullID
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError wraps an AppError in a response envelope. Only the code and
// message cross the wire; the internal cause stays server-side.
func NewError(id json.RawMessage, appErr *errors.AppError) Response {
	if id == nil {
		id = NullID
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: appErr.Code, Message: appErr.Message},
	}
}
