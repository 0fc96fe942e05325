package action

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Env carries per-dispatch identity and limits into executor strategies.
type Env struct {
	SessionID string
	ContextID string
	PageID    string

	// DefaultTimeout applies when the action carries none; MaxTimeout caps
	// whatever the action asks for.
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// DownloadDir is the root under which per-context sandboxes live.
	DownloadDir string

	// Handles tracks evaluation handles for cleanup on session end.
	Handles *HandleRegistry
}

// Deadline resolves the effective timeout for the action.
func (e *Env) Deadline(act *types.Action) time.Duration {
	d := act.Timeout(e.DefaultTimeout)
	if e.MaxTimeout > 0 && d > e.MaxTimeout {
		d = e.MaxTimeout
	}
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Strategy executes one action family against a page.
type Strategy interface {
	Execute(ctx context.Context, env *Env, page browser.Page, act *types.Action) (*types.ActionResult, error)
}

// Registry dispatches actions to the strategy registered for their family.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds the registry with all built-in families wired.
func NewRegistry() *Registry {
	return &Registry{
		strategies: map[string]Strategy{
			"navigation":  &navigationExecutor{},
			"interaction": &interactionExecutor{},
			"wait":        &waitExecutor{},
			"evaluation":  &evaluationExecutor{},
			"extraction":  &extractionExecutor{},
			"file":        &fileExecutor{},
		},
	}
}

// Register installs or replaces the strategy for a family.
func (r *Registry) Register(family string, s Strategy) {
	r.strategies[family] = s
}

// Execute resolves the strategy and runs the action under its deadline. The
// returned error is the raw executor failure for the classifier; the result
// is always non-nil.
func (r *Registry) Execute(ctx context.Context, env *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()

	family := act.Family()
	strategy, ok := r.strategies[family]
	if !ok {
		res := types.NewResult(act.Kind, start).Fail(types.KindInvalidInput, types.ErrUnknownAction)
		return res.Finish(start), types.ErrUnknownAction
	}

	ctx, cancel := context.WithTimeout(ctx, env.Deadline(act))
	defer cancel()

	res, err := strategy.Execute(ctx, env, page, act)
	if res == nil {
		res = types.NewResult(act.Kind, start)
	}
	res.Finish(start)

	if err != nil {
		log.Debug().
			Str("action", act.Kind).
			Str("family", family).
			Err(err).
			Dur("elapsed", time.Since(start)).
			Msg("Action failed")
		return res, err
	}
	return res, nil
}
