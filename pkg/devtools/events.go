package devtools

import (
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"cdpmux/internal/usecase/rpc"
)

// Event names with typed payloads.
const (
	EventConsoleMessageAdded            = "Console.messageAdded"
	EventRuntimeConsoleAPICalled        = "Runtime.consoleAPICalled"
	EventRuntimeExceptionThrown         = "Runtime.exceptionThrown"
	EventRuntimeExecutionContextCreated = "Runtime.executionContextCreated"
	EventLogEntryAdded                  = "Log.entryAdded"
	EventPageLoadEventFired             = "Page.loadEventFired"
	EventPageDomContentEventFired       = "Page.domContentEventFired"
	EventTargetAttachedToTarget         = "Target.attachedToTarget"
)

// ConsoleMessageAdded is the payload of the deprecated Console domain's
// messageAdded event, which cdproto no longer generates.
type ConsoleMessageAdded struct {
	Message ConsoleMessage `json:"message"`
}

// ConsoleMessage is one console entry.
type ConsoleMessage struct {
	Source string `json:"source"`
	Level  string `json:"level"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Line   int64  `json:"line,omitempty"`
	Column int64  `json:"column,omitempty"`
}

// EventTypes maps event names to payload prototypes, for registration with
// the event type registry so catch-all subscribers receive typed payloads.
func EventTypes() map[string]any {
	return map[string]any{
		EventConsoleMessageAdded:            ConsoleMessageAdded{},
		EventRuntimeConsoleAPICalled:        runtime.EventConsoleAPICalled{},
		EventRuntimeExceptionThrown:         runtime.EventExceptionThrown{},
		EventRuntimeExecutionContextCreated: runtime.EventExecutionContextCreated{},
		EventLogEntryAdded:                  log.EventEntryAdded{},
		EventPageLoadEventFired:             page.EventLoadEventFired{},
		EventPageDomContentEventFired:       page.EventDomContentEventFired{},
		EventTargetAttachedToTarget:         target.EventAttachedToTarget{},
	}
}

// ConsoleMessages subscribes to Console.messageAdded.
func ConsoleMessages(c *rpc.Conn) (<-chan ConsoleMessageAdded, func()) {
	return rpc.Subscribe[ConsoleMessageAdded](c, EventConsoleMessageAdded)
}

// LogEntries subscribes to Log.entryAdded.
func LogEntries(c *rpc.Conn) (<-chan log.EventEntryAdded, func()) {
	return rpc.Subscribe[log.EventEntryAdded](c, EventLogEntryAdded)
}

// LoadEvents subscribes to Page.loadEventFired.
func LoadEvents(c *rpc.Conn) (<-chan page.EventLoadEventFired, func()) {
	return rpc.Subscribe[page.EventLoadEventFired](c, EventPageLoadEventFired)
}

// ExceptionsThrown subscribes to Runtime.exceptionThrown.
func ExceptionsThrown(c *rpc.Conn) (<-chan runtime.EventExceptionThrown, func()) {
	return rpc.Subscribe[runtime.EventExceptionThrown](c, EventRuntimeExceptionThrown)
}
