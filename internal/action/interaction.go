package action

import (
	"context"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// interactionExecutor handles click, type, and scroll.
type interactionExecutor struct{}

func (interactionExecutor) Execute(ctx context.Context, _ *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)
	res.Meta("selector", act.Selector)

	switch act.Kind {
	case types.ActionClick:
		if act.WaitForSelector {
			if err := page.WaitSelector(ctx, act.Selector, true, false); err != nil {
				return res.Fail(types.KindElementNotFound, err), err
			}
		}
		clicks := act.ClickCount
		if clicks <= 0 {
			clicks = 1
		}
		button := act.Button
		if button == "" {
			button = "left"
		}
		if err := page.Click(ctx, act.Selector, button, clicks); err != nil {
			return res.Fail(types.KindInteractionFailed, err), err
		}
		res.Data = map[string]any{"clicked": act.Selector, "button": button, "clickCount": clicks}

	case types.ActionType:
		if act.WaitForSelector {
			if err := page.WaitSelector(ctx, act.Selector, true, false); err != nil {
				return res.Fail(types.KindElementNotFound, err), err
			}
		}
		delay := time.Duration(act.DurationMs) * time.Millisecond
		if err := page.Type(ctx, act.Selector, act.Text, delay, act.ClearFirst); err != nil {
			return res.Fail(types.KindInteractionFailed, err), err
		}
		res.Data = map[string]any{"typed": len(act.Text), "cleared": act.ClearFirst}

	case types.ActionScroll:
		if err := scroll(ctx, page, act); err != nil {
			return res.Fail(types.KindInteractionFailed, err), err
		}
		res.Data = map[string]any{"scrolled": true}
	}
	return res, nil
}

// scroll resolves the target three ways: a selector scrolls the element into
// view, coordinates scroll to an absolute offset, a direction scrolls by the
// given distance.
func scroll(ctx context.Context, page browser.Page, act *types.Action) error {
	duration := time.Duration(act.DurationMs) * time.Millisecond

	if act.Selector != "" {
		return page.ScrollIntoView(ctx, act.Selector)
	}
	if act.X != nil || act.Y != nil {
		var dx, dy float64
		if act.X != nil {
			dx = *act.X
		}
		if act.Y != nil {
			dy = *act.Y
		}
		return page.ScrollBy(ctx, dx, dy, act.Smooth, duration)
	}

	distance := float64(act.Distance)
	if distance == 0 {
		distance = 500
	}
	var dx, dy float64
	switch act.Direction {
	case "up":
		dy = -distance
	case "down":
		dy = distance
	case "left":
		dx = -distance
	case "right":
		dx = distance
	}
	return page.ScrollBy(ctx, dx, dy, act.Smooth, duration)
}
