package devtools

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"cdpmux/internal/usecase/rpc"
)

// CreatePage opens a new page target at url ("" means about:blank).
func CreatePage(ctx context.Context, c *rpc.Conn, url string) (target.ID, error) {
	res, err := rpc.Invoke[target.CreateTargetReturns](ctx, c, "Target.createTarget", &target.CreateTargetParams{URL: url})
	if err != nil {
		return "", err
	}
	return res.TargetID, nil
}

// Attach attaches to id in flat mode. Commands for the page go through
// rpc.Conn.CallSession with the returned session id.
func Attach(ctx context.Context, c *rpc.Conn, id target.ID) (target.SessionID, error) {
	res, err := rpc.Invoke[target.AttachToTargetReturns](ctx, c, "Target.attachToTarget", &target.AttachToTargetParams{
		TargetID: id,
		Flatten:  true,
	})
	if err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// CloseTarget closes a page target.
func CloseTarget(ctx context.Context, c *rpc.Conn, id target.ID) error {
	return c.Call(ctx, "Target.closeTarget", &target.CloseTargetParams{TargetID: id}, nil).Wait(ctx)
}

// Navigate loads url in the page behind sessionID. A navigation the browser
// reports as failed is returned as an error.
func Navigate(ctx context.Context, c *rpc.Conn, sessionID target.SessionID, url string) (page.NavigateReturns, error) {
	res, err := rpc.InvokeSession[page.NavigateReturns](ctx, c, string(sessionID), "Page.navigate", &page.NavigateParams{URL: url})
	if err != nil {
		return res, err
	}
	if res.ErrorText != "" {
		return res, &NavigationError{URL: url, Text: res.ErrorText}
	}
	return res, nil
}

// NavigationError is a navigation the browser accepted but could not complete.
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string { return "navigate " + e.URL + ": " + e.Text }
