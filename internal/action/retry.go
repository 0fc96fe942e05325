package action

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/audit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// RetryPolicy bounds repeated execution of retryable failures with
// exponential backoff. Every attempt raises an audit event; recovery after a
// failed attempt raises a retry-success event.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sink        audit.Sink
}

// DefaultRetryPolicy matches production defaults: three attempts, 500ms base.
func DefaultRetryPolicy(sink audit.Sink) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Sink:        sink,
	}
}

// Execute runs the action through the registry, retrying transient failures
// up to the attempt cap. The returned result reflects the final attempt.
func (p *RetryPolicy) Execute(ctx context.Context, reg *Registry, env *Env, page browser.Page, act *types.Action) *types.ActionResult {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var res *types.ActionResult
	var err error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		res, err = reg.Execute(ctx, env, page, act)
		if err == nil {
			if attempt > 1 {
				res.Meta("retryAttempt", attempt-1)
				p.emit(audit.EventRetrySuccess, env, act, map[string]any{
					"attempt": attempt,
				})
			}
			return res
		}

		kind := Classify(err)
		retryable := Retryable(err)
		p.emit(audit.EventActionRetry, env, act, map[string]any{
			"attempt":   attempt,
			"error":     err.Error(),
			"kind":      string(kind),
			"retryable": retryable,
		})
		if kind == types.KindSecurityViolation {
			p.emit(audit.EventSecurityViolation, env, act, map[string]any{
				"error": err.Error(),
			})
		}

		if !retryable || attempt == attempts {
			break
		}
		if !p.sleep(ctx, attempt) {
			break
		}
		log.Debug().
			Str("action", act.Kind).
			Int("attempt", attempt).
			Err(err).
			Msg("Retrying action")
	}

	res.Meta("attempts", made)
	if kind := Classify(err); res.ErrorKind == "" && kind != "" {
		res.Fail(kind, err)
	}
	p.emit(audit.EventActionFailed, env, act, map[string]any{
		"error": err.Error(),
		"kind":  string(res.ErrorKind),
	})
	return res
}

// sleep waits out the backoff for the attempt; false means the context died.
func (p *RetryPolicy) sleep(ctx context.Context, attempt int) bool {
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *RetryPolicy) emit(eventType string, env *Env, act *types.Action, fields map[string]any) {
	if p.Sink == nil {
		return
	}
	fields["sessionId"] = env.SessionID
	fields["contextId"] = env.ContextID
	fields["pageId"] = env.PageID
	fields["action"] = act.Kind
	p.Sink.Emit(eventType, fields)
}
