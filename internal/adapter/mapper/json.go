// Package mapper converts between DevTools wire frames and the domain frame
// model, and decodes payloads into caller-chosen Go types.
package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"cdpmux/internal/domain"
)

// wireFrame is the union of every inbound frame shape. ID is a pointer so an
// absent or null id can be told apart from id 0.
type wireFrame struct {
	ID        *uint64              `json:"id,omitempty"`
	Method    string               `json:"method,omitempty"`
	Params    json.RawMessage      `json:"params,omitempty"`
	Result    json.RawMessage      `json:"result,omitempty"`
	Error     *domain.ErrorPayload `json:"error,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
}

type wireCommand struct {
	ID        uint64 `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// JSON is the JSON implementation of domain.FrameMapper and
// domain.EventDecoder. It holds no state besides the event registry.
type JSON struct {
	registry *Registry
}

// NewJSON creates a mapper backed by registry. A nil registry is replaced by
// an empty one, so every event decodes to its raw payload.
func NewJSON(registry *Registry) *JSON {
	if registry == nil {
		registry = NewRegistry()
	}
	return &JSON{registry: registry}
}

// Registry returns the event type registry used by DecodeEvent.
func (m *JSON) Registry() *Registry { return m.registry }

// EncodeCommand implements domain.FrameMapper.
func (m *JSON) EncodeCommand(frame domain.CommandFrame) ([]byte, error) {
	if frame.Method == "" {
		return nil, domain.NewDomainError("Mapper.EncodeCommand", domain.ErrInvalidParams, "empty method")
	}
	data, err := json.Marshal(wireCommand{
		ID:        frame.ID,
		Method:    frame.Method,
		Params:    frame.Params,
		SessionID: frame.SessionID,
	})
	if err != nil {
		return nil, domain.NewDomainError("Mapper.EncodeCommand", domain.ErrInvalidParams, err.Error())
	}
	return data, nil
}

// DecodeIncoming implements domain.FrameMapper.
func (m *JSON) DecodeIncoming(data []byte) (domain.Incoming, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Incoming{}, domain.NewDomainError("Mapper.DecodeIncoming", domain.ErrDecode, err.Error())
	}
	if w.ID != nil {
		return domain.Incoming{Response: &domain.ResponseFrame{
			ID:        *w.ID,
			Result:    w.Result,
			Error:     w.Error,
			SessionID: w.SessionID,
		}}, nil
	}
	if w.Method == "" {
		return domain.Incoming{}, domain.NewDomainError("Mapper.DecodeIncoming", domain.ErrDecode, "frame has neither id nor method")
	}
	return domain.Incoming{Event: &domain.EventFrame{
		Method:    w.Method,
		Params:    w.Params,
		SessionID: w.SessionID,
	}}, nil
}

// DecodeCommand reads an encoded command back. Params come back as
// json.RawMessage, or nil when the command had none.
func (m *JSON) DecodeCommand(data []byte) (domain.CommandFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.CommandFrame{}, domain.NewDomainError("Mapper.DecodeCommand", domain.ErrDecode, err.Error())
	}
	if w.ID == nil || w.Method == "" {
		return domain.CommandFrame{}, domain.NewDomainError("Mapper.DecodeCommand", domain.ErrDecode, "command needs id and method")
	}
	frame := domain.CommandFrame{ID: *w.ID, Method: w.Method, SessionID: w.SessionID}
	if len(w.Params) > 0 {
		frame.Params = w.Params
	}
	return frame, nil
}

// DecodeTyped implements domain.FrameMapper. A nil target discards the
// payload; an empty or null payload leaves target untouched.
func (m *JSON) DecodeTyped(payload json.RawMessage, target any) error {
	if target == nil {
		return nil
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return domain.NewDomainError("Mapper.DecodeTyped", domain.ErrDeserialization,
			fmt.Sprintf("target %T is not a non-nil pointer", target))
	}
	if isEmpty(payload) {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return domain.NewDomainError("Mapper.DecodeTyped", domain.ErrDeserialization, err.Error())
	}
	return nil
}

// DecodeEvent implements domain.EventDecoder. The payload type is typ when
// given, else the registry entry for the method; unknown methods keep the raw
// payload in Params.
func (m *JSON) DecodeEvent(frame domain.EventFrame, typ reflect.Type) (domain.Event, error) {
	ev := domain.Event{
		Method:    frame.Method,
		SessionID: frame.SessionID,
		Raw:       frame.Params,
	}
	if typ == nil {
		var ok bool
		if typ, ok = m.registry.Lookup(frame.Method); !ok {
			ev.Params = frame.Params
			return ev, nil
		}
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	ptr := reflect.New(typ).Interface()
	if err := m.DecodeTyped(frame.Params, ptr); err != nil {
		return ev, domain.WrapOp(frame.Method, err)
	}
	ev.Params = ptr
	return ev, nil
}

func isEmpty(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
