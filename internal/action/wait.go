package action

import (
	"context"
	"fmt"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// waitExecutor dispatches the wait action to a strategy keyed on the wait
// kind.
type waitExecutor struct{}

type waitStrategy func(ctx context.Context, page browser.Page, act *types.Action) error

func waitStrategyFor(kind string) (waitStrategy, error) {
	switch kind {
	case types.WaitSelector:
		return waitForSelector, nil
	case types.WaitNavigation:
		return waitForNavigation, nil
	case types.WaitTimeout:
		return waitForTimeout, nil
	case types.WaitFunction:
		return waitForFunction, nil
	case types.WaitLoadState:
		return waitForLoadState, nil
	case types.WaitNetworkIdle:
		return waitForNetworkIdle, nil
	default:
		return nil, fmt.Errorf("unknown wait type %q", kind)
	}
}

func (waitExecutor) Execute(ctx context.Context, _ *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)
	res.Meta("waitType", act.WaitKind)

	strategy, err := waitStrategyFor(act.WaitKind)
	if err != nil {
		return res.Fail(types.KindInvalidInput, err), err
	}
	if err := strategy(ctx, page, act); err != nil {
		return res.Fail(types.KindTimeout, err), err
	}
	res.Data = map[string]any{"waited": act.WaitKind}
	return res, nil
}

func waitForSelector(ctx context.Context, page browser.Page, act *types.Action) error {
	visible := act.Visible != nil && *act.Visible
	hidden := act.Hidden != nil && *act.Hidden
	return page.WaitSelector(ctx, act.Selector, visible, hidden)
}

func waitForNavigation(ctx context.Context, page browser.Page, act *types.Action) error {
	return page.WaitNavigation(ctx, waitUntilOrDefault(act.WaitUntil))
}

// waitForTimeout is a pure sleep, bounded by the action deadline.
func waitForTimeout(ctx context.Context, _ browser.Page, act *types.Action) error {
	timer := time.NewTimer(time.Duration(act.TimeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitForFunction(ctx context.Context, page browser.Page, act *types.Action) error {
	interval := 100 * time.Millisecond
	if act.DurationMs > 0 {
		interval = time.Duration(act.DurationMs) * time.Millisecond
	}
	return page.WaitFunction(ctx, act.Function, interval)
}

func waitForLoadState(ctx context.Context, page browser.Page, act *types.Action) error {
	state := act.State
	if state == "" {
		state = "load"
	}
	return page.WaitLoad(ctx, state)
}

func waitForNetworkIdle(ctx context.Context, page browser.Page, act *types.Action) error {
	quiet := 500 * time.Millisecond
	if act.DurationMs > 0 {
		quiet = time.Duration(act.DurationMs) * time.Millisecond
	}
	return page.WaitNetworkIdle(ctx, quiet)
}
