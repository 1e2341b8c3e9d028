package emulator

import (
	"encoding/json"
	"fmt"
)

// Request is a command received from a client.
type Request struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type response struct {
	ID        uint64 `json:"id"`
	Result    any    `json:"result,omitempty"`
	Error     *Error `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type event struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Error is a protocol-level rejection. Handlers return it to control the
// code and message the client sees; any other error is reported as -32000.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s (%d)", e.Message, e.Code) }

// Protocol error codes.
const (
	CodeServerError    int64 = -32000
	CodeInvalidParams  int64 = -32602
	CodeMethodNotFound int64 = -32601
)
