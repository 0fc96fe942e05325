package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/audit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// flakyStrategy fails a scripted number of attempts before succeeding.
type flakyStrategy struct {
	failures int
	err      error
	calls    int
}

func (s *flakyStrategy) Execute(_ context.Context, _ *Env, _ browser.Page, act *types.Action) (*types.ActionResult, error) {
	s.calls++
	start := time.Now()
	res := types.NewResult(act.Kind, start)
	if s.calls <= s.failures {
		return res.Fail(Classify(s.err), s.err).Finish(start), s.err
	}
	res.Data = "ok"
	return res.Finish(start), nil
}

func retryFixture(failures int, err error) (*RetryPolicy, *Registry, *audit.Recorder, *flakyStrategy) {
	rec := audit.NewRecorder()
	policy := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Sink: rec}
	reg := NewRegistry()
	flaky := &flakyStrategy{failures: failures, err: err}
	reg.Register("navigation", flaky)
	return policy, reg, rec, flaky
}

func TestRetryThenSucceed(t *testing.T) {
	policy, reg, rec, flaky := retryFixture(1, errors.New("navigation failed: transient"))

	res := policy.Execute(context.Background(), reg, testEnv(), browser.NewFakePage(), &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"})

	if !res.Success {
		t.Fatalf("expected success after retry: %s", res.Error)
	}
	if flaky.calls != 2 {
		t.Fatalf("calls: %d", flaky.calls)
	}
	if res.Metadata["retryAttempt"] != 1 {
		t.Fatalf("retryAttempt metadata: %v", res.Metadata)
	}
	if got := rec.ByType(audit.EventRetrySuccess); len(got) != 1 {
		t.Fatalf("expected one retry-success event, got %d", len(got))
	}
	// The failed first attempt emitted its own event.
	if got := rec.ByType(audit.EventActionRetry); len(got) != 1 {
		t.Fatalf("expected one attempt event, got %d", len(got))
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy, reg, rec, flaky := retryFixture(99, errors.New("operation timed out"))

	res := policy.Execute(context.Background(), reg, testEnv(), browser.NewFakePage(), &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"})

	if res.Success {
		t.Fatal("expected terminal failure")
	}
	if flaky.calls != 3 {
		t.Fatalf("calls: %d", flaky.calls)
	}
	if res.ErrorKind != types.KindTimeout {
		t.Fatalf("kind: %s", res.ErrorKind)
	}
	if res.Metadata["attempts"] != 3 {
		t.Fatalf("attempts metadata: %v", res.Metadata)
	}
	if got := rec.ByType(audit.EventActionRetry); len(got) != 3 {
		t.Fatalf("attempt events: %d", len(got))
	}
	if got := rec.ByType(audit.EventActionFailed); len(got) != 1 {
		t.Fatalf("terminal events: %d", len(got))
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	policy, reg, _, flaky := retryFixture(99, errors.New("invalid selector '#['"))

	res := policy.Execute(context.Background(), reg, testEnv(), browser.NewFakePage(), &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"})

	if res.Success {
		t.Fatal("expected failure")
	}
	if flaky.calls != 1 {
		t.Fatalf("non-retryable error must not retry, calls: %d", flaky.calls)
	}
}

func TestRetrySecurityViolationNeverRetriesAndAudits(t *testing.T) {
	secErr := fmt.Errorf("%w: blocked pattern", types.ErrSecurityViolation)
	policy, reg, rec, flaky := retryFixture(99, secErr)

	res := policy.Execute(context.Background(), reg, testEnv(), browser.NewFakePage(), &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"})

	if res.Success || flaky.calls != 1 {
		t.Fatalf("security violation must fail on first attempt, calls=%d", flaky.calls)
	}
	if got := rec.ByType(audit.EventSecurityViolation); len(got) != 1 {
		t.Fatalf("security events: %d", len(got))
	}
}

func TestRetryEventsCarryIdentity(t *testing.T) {
	policy, reg, rec, _ := retryFixture(99, errors.New("timed out"))

	policy.Execute(context.Background(), reg, testEnv(), browser.NewFakePage(), &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"})

	events := rec.Events()
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	for _, ev := range events {
		if ev.Fields["sessionId"] != "sess-1" || ev.Fields["action"] != types.ActionNavigate {
			t.Fatalf("event missing identity: %+v", ev)
		}
	}
}
