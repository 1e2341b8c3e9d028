package domain

import (
	"encoding/json"
	"reflect"
)

// Event is an EventFrame after typed decoding.
//
// Params holds a pointer to the decoded value when a type was known (supplied
// by the subscriber or found in the registry) and the raw payload otherwise.
type Event struct {
	Method    string
	SessionID string
	Params    any
	Raw       json.RawMessage
}

// Typed reports whether Params was decoded into a concrete type.
func (e Event) Typed() bool {
	_, raw := e.Params.(json.RawMessage)
	return e.Params != nil && !raw
}

// EventDecoder turns an EventFrame into an Event. When typ is nil the decoder
// picks a type by method name and falls back to the raw payload.
type EventDecoder interface {
	DecodeEvent(frame EventFrame, typ reflect.Type) (Event, error)
}
