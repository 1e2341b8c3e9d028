package domain

import "encoding/json"

// CommandFrame is an outgoing request. ID is assigned by the connection at
// send time and is never reused for the lifetime of the connection.
type CommandFrame struct {
	ID        uint64
	Method    string
	Params    any    // nil when the command takes no parameters
	SessionID string // flat-mode target session, empty for the browser session
}

// ErrorPayload is the error object a peer returns in place of a result.
type ErrorPayload struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ResponseFrame answers exactly one CommandFrame with the same ID.
// At most one of Result and Error is meaningful; Error wins when both are set.
type ResponseFrame struct {
	ID        uint64
	Result    json.RawMessage
	Error     *ErrorPayload
	SessionID string
}

// EventFrame is an unsolicited notification. It carries no ID.
type EventFrame struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Incoming is a classified inbound frame. Exactly one field is non-nil.
type Incoming struct {
	Response *ResponseFrame
	Event    *EventFrame
}

// IsResponse reports whether the frame correlates to a command.
func (in Incoming) IsResponse() bool { return in.Response != nil }

// FrameMapper translates between transport payloads and frames.
// Implementations must be safe for concurrent use.
type FrameMapper interface {
	// EncodeCommand serialises a command for the transport.
	EncodeCommand(frame CommandFrame) ([]byte, error)
	// DecodeIncoming classifies a raw frame. A frame carrying a non-null id is
	// a response; anything else with a method is an event. Failures wrap ErrDecode.
	DecodeIncoming(data []byte) (Incoming, error)
	// DecodeTyped deserialises payload into target, a non-nil pointer.
	// Failures wrap ErrDeserialization.
	DecodeTyped(payload json.RawMessage, target any) error
}
