package action

import (
	"context"
	"errors"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// navigationExecutor handles navigate, goBack, goForward, refresh, and
// setViewport.
type navigationExecutor struct{}

func (navigationExecutor) Execute(ctx context.Context, _ *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)

	switch act.Kind {
	case types.ActionNavigate:
		waitUntil := waitUntilOrDefault(act.WaitUntil)
		nav, err := page.Navigate(ctx, act.URL, waitUntil)
		if err != nil {
			return res.Fail(types.KindNavigationFailed, err), err
		}
		res.Data = map[string]any{"url": nav.URL, "title": nav.Title, "statusCode": nav.StatusCode}
		res.Meta("requestedUrl", act.URL)
		res.Meta("waitUntil", waitUntil)

	case types.ActionGoBack:
		nav, err := page.Back(ctx)
		if err != nil {
			return failHistory(res, err), err
		}
		res.Data = map[string]any{"url": nav.URL, "title": nav.Title}

	case types.ActionGoForward:
		nav, err := page.Forward(ctx)
		if err != nil {
			return failHistory(res, err), err
		}
		res.Data = map[string]any{"url": nav.URL, "title": nav.Title}

	case types.ActionRefresh:
		nav, err := page.Reload(ctx, waitUntilOrDefault(act.WaitUntil))
		if err != nil {
			return res.Fail(types.KindNavigationFailed, err), err
		}
		res.Data = map[string]any{"url": nav.URL, "title": nav.Title}

	case types.ActionSetViewport:
		scale := act.Scale
		if scale == 0 {
			scale = 1
		}
		if err := page.SetViewport(ctx, act.Width, act.Height, scale); err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = map[string]any{"width": act.Width, "height": act.Height, "scale": scale}
	}
	return res, nil
}

func waitUntilOrDefault(waitUntil string) string {
	if waitUntil == "" {
		return types.WaitUntilLoad
	}
	return waitUntil
}

// failHistory distinguishes "no history in that direction" from a real
// navigation failure.
func failHistory(res *types.ActionResult, err error) *types.ActionResult {
	if errors.Is(err, types.ErrNoHistory) {
		return res.Fail(types.KindInvalidInput, err)
	}
	return res.Fail(types.KindNavigationFailed, err)
}
