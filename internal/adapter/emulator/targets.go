package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// targets tracks emulated pages and the flat sessions attached to them.
type targets struct {
	mu       sync.Mutex
	pages    map[string]string // target id -> url
	sessions map[string]string // session id -> target id
}

func newTargets() *targets {
	return &targets{pages: make(map[string]string), sessions: make(map[string]string)}
}

func (t *targets) create(url string) string {
	id := ulid.Make().String()
	t.mu.Lock()
	t.pages[id] = url
	t.mu.Unlock()
	return id
}

func (t *targets) attach(targetID string) (sessionID, url string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, ok = t.pages[targetID]
	if !ok {
		return "", "", false
	}
	sessionID = ulid.Make().String()
	t.sessions[sessionID] = targetID
	return sessionID, url, true
}

func (t *targets) close(targetID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pages[targetID]; !ok {
		return false
	}
	delete(t.pages, targetID)
	for s, id := range t.sessions {
		if id == targetID {
			delete(t.sessions, s)
		}
	}
	return true
}

// navigate updates the page behind sessionID.
func (t *targets) navigate(sessionID, url string) (targetID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	targetID, ok = t.sessions[sessionID]
	if ok {
		t.pages[targetID] = url
	}
	return targetID, ok
}

// Pages returns the number of open emulated pages.
func (s *Server) Pages() int {
	s.targets.mu.Lock()
	defer s.targets.mu.Unlock()
	return len(s.targets.pages)
}

func (s *Server) registerTargetHandlers() {
	s.Handle("Target.createTarget", func(_ context.Context, _ *Client, req Request) (any, error) {
		var params struct {
			URL string `json:"url"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.URL == "" {
			params.URL = "about:blank"
		}
		return map[string]string{"targetId": s.targets.create(params.URL)}, nil
	})

	// Attaching in flat mode announces the session with
	// Target.attachedToTarget before answering.
	s.Handle("Target.attachToTarget", func(_ context.Context, c *Client, req Request) (any, error) {
		var params struct {
			TargetID string `json:"targetId"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		sessionID, url, ok := s.targets.attach(params.TargetID)
		if !ok {
			return nil, &Error{Code: CodeServerError, Message: "No target with given id found"}
		}
		c.Emit("Target.attachedToTarget", map[string]any{
			"sessionId": sessionID,
			"targetInfo": map[string]any{
				"targetId": params.TargetID,
				"type":     "page",
				"title":    url,
				"url":      url,
				"attached": true,
			},
			"waitingForDebugger": false,
		}, req.SessionID)
		return map[string]string{"sessionId": sessionID}, nil
	})

	s.Handle("Target.closeTarget", func(_ context.Context, _ *Client, req Request) (any, error) {
		var params struct {
			TargetID string `json:"targetId"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if !s.targets.close(params.TargetID) {
			return nil, &Error{Code: CodeServerError, Message: "No target with given id found"}
		}
		return nil, nil
	})

	// Page.navigate only exists on page sessions. The load event is emitted
	// ahead of the response.
	s.Handle("Page.navigate", func(_ context.Context, c *Client, req Request) (any, error) {
		var params struct {
			URL string `json:"url"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		targetID, ok := s.targets.navigate(req.SessionID, params.URL)
		if !ok {
			return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
		}
		c.Emit("Page.loadEventFired", map[string]any{
			"timestamp": float64(time.Now().UnixNano()) / 1e9,
		}, req.SessionID)
		return map[string]any{"frameId": targetID, "loaderId": ulid.Make().String()}, nil
	})
}

func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "Invalid parameters: " + err.Error()}
	}
	return nil
}
