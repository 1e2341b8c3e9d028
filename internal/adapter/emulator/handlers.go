package emulator

import (
	"context"
	"encoding/json"
)

const protocolVersion = "1.3"

// DOMCounters is what Memory.getDOMCounters reports.
type DOMCounters struct {
	Documents        int64 `json:"documents"`
	Nodes            int64 `json:"nodes"`
	JsEventListeners int64 `json:"jsEventListeners"`
}

// SetDOMCounters changes the Memory.getDOMCounters answer.
func (s *Server) SetDOMCounters(c DOMCounters) {
	s.countersMu.Lock()
	s.counters = c
	s.countersMu.Unlock()
}

func (s *Server) registerBuiltins() {
	s.Handle("Browser.getVersion", func(context.Context, *Client, Request) (any, error) {
		return map[string]string{
			"protocolVersion": protocolVersion,
			"product":         s.product,
			"revision":        "0",
			"userAgent":       s.product,
			"jsVersion":       "0",
		}, nil
	})

	s.Handle("Memory.getDOMCounters", func(context.Context, *Client, Request) (any, error) {
		s.countersMu.Lock()
		defer s.countersMu.Unlock()
		return s.counters, nil
	})

	// Runtime.evaluate echoes the expression as a string value and logs it to
	// the console first, so clients observe an event before the response.
	s.Handle("Runtime.evaluate", func(_ context.Context, c *Client, req Request) (any, error) {
		var params struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Expression == "" {
			return nil, &Error{Code: CodeInvalidParams, Message: "Invalid parameters: expression"}
		}
		c.Emit("Console.messageAdded", map[string]any{
			"message": map[string]any{
				"source": "console-api",
				"level":  "log",
				"text":   params.Expression,
			},
		}, req.SessionID)
		return map[string]any{
			"result": map[string]any{"type": "string", "value": params.Expression},
		}, nil
	})
}
