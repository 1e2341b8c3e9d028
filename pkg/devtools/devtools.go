// Package devtools holds typed call sites for a few DevTools protocol
// domains on top of an rpc.Conn.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/memory"
	"github.com/chromedp/cdproto/runtime"

	"cdpmux/internal/usecase/rpc"
)

// GetVersion calls Browser.getVersion.
func GetVersion(ctx context.Context, c *rpc.Conn) (browser.GetVersionReturns, error) {
	return rpc.Invoke[browser.GetVersionReturns](ctx, c, "Browser.getVersion", nil)
}

// GetDOMCounters calls Memory.getDOMCounters.
func GetDOMCounters(ctx context.Context, c *rpc.Conn) (memory.GetDOMCountersReturns, error) {
	return rpc.Invoke[memory.GetDOMCountersReturns](ctx, c, "Memory.getDOMCounters", nil)
}

// Enable calls <domain>.enable, e.g. Enable(ctx, c, "Page").
func Enable(ctx context.Context, c *rpc.Conn, domain string) error {
	return c.Call(ctx, domain+".enable", nil, nil).Wait(ctx)
}

// Disable calls <domain>.disable.
func Disable(ctx context.Context, c *rpc.Conn, domain string) error {
	return c.Call(ctx, domain+".disable", nil, nil).Wait(ctx)
}

// EvaluateResult is the reply to Runtime.evaluate. Values stay raw JSON.
type EvaluateResult struct {
	Result struct {
		Type        string          `json:"type"`
		Subtype     string          `json:"subtype,omitempty"`
		Value       json.RawMessage `json:"value,omitempty"`
		Description string          `json:"description,omitempty"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

// Evaluate runs expression in the page's default context and returns its
// value by value. A thrown exception is reported as an error.
func Evaluate(ctx context.Context, c *rpc.Conn, expression string) (EvaluateResult, error) {
	res, err := rpc.Invoke[EvaluateResult](ctx, c, "Runtime.evaluate", &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
	})
	if err != nil {
		return res, err
	}
	if res.ExceptionDetails != nil {
		return res, fmt.Errorf("evaluate %q: %s", expression, res.ExceptionDetails.Text)
	}
	return res, nil
}
