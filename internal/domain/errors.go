package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol engine. Every outcome a caller can observe
// other than success matches exactly one of these with errors.Is.
var (
	ErrSendFailed       = fmt.Errorf("send failed")
	ErrRemote           = fmt.Errorf("remote error")
	ErrDeserialization  = fmt.Errorf("payload does not match expected type")
	ErrDecode           = fmt.Errorf("malformed frame")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrInvalidParams    = fmt.Errorf("command params not encodable")

	// Configuration errors.
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
)

// RemoteError is the peer's explicit rejection of a command.
type RemoteError struct {
	ID      uint64
	Method  string
	Payload ErrorPayload
}

func (e *RemoteError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s (id %d): %s (%d)", e.Method, e.ID, e.Payload.Message, e.Payload.Code)
	}
	return fmt.Sprintf("id %d: %s (%d)", e.ID, e.Payload.Message, e.Payload.Code)
}

// Is makes errors.Is(err, ErrRemote) match any *RemoteError.
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Conn.Call")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable outcome category for logs and metrics.
type ErrorCode string

const (
	CodeOK               ErrorCode = "OK"
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeSendFailed       ErrorCode = "SEND_FAILED"
	CodeRemote           ErrorCode = "REMOTE_ERROR"
	CodeDeserialization  ErrorCode = "DESERIALIZATION"
	CodeDecode           ErrorCode = "DECODE"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	CodeInvalidParams    ErrorCode = "INVALID_PARAMS"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
)

// codeOrder is checked in sequence; a send failure caused by a closed
// connection reports as CONNECTION_CLOSED rather than SEND_FAILED.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrConnectionClosed, CodeConnectionClosed},
	{ErrRemote, CodeRemote},
	{ErrDeserialization, CodeDeserialization},
	{ErrInvalidParams, CodeInvalidParams},
	{ErrSendFailed, CodeSendFailed},
	{ErrDecode, CodeDecode},
	{ErrConfigLoad, CodeConfigLoad},
}

// ErrorCodeOf returns the code for err. A nil error maps to CodeOK.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
