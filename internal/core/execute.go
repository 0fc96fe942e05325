package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/action"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/audit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Execute runs one action against a page. Resolution and authorization
// failures come back as errors for the adapter to translate; validation and
// execution failures come back inside the structured result.
func (s *Service) Execute(ctx context.Context, sessionID, contextID, pageID string, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetContext(ctx, sessionID, contextID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if rec.ContextID != contextID {
		return nil, types.ErrNotOwner
	}
	_ = s.store.TouchSession(ctx, sess.ID)

	if res := s.validate(ctx, sessionID, contextID, pageID, act, start); res != nil {
		return res, nil
	}

	breaker := s.breakers.Get("actions")
	if !breaker.Allow() {
		res := types.NewResult(act.Kind, start).Fail(types.KindCircuitOpen, types.ErrCircuitOpen)
		return res.Finish(start), nil
	}

	env := &action.Env{
		SessionID:      sessionID,
		ContextID:      contextID,
		PageID:         pageID,
		DefaultTimeout: s.cfg.DefaultTimeout,
		MaxTimeout:     s.cfg.MaxTimeout,
		DownloadDir:    s.cfg.DownloadDir,
		Handles:        s.handles,
	}

	var res *types.ActionResult
	err = s.pages.Do(ctx, pageID, func(p browser.Page) error {
		res = s.retry.Execute(ctx, s.registry, env, p, act)
		return nil
	})
	if err != nil {
		// The live page is gone; the stored record may lag behind.
		return nil, err
	}

	s.recordBreaker(breaker, res)
	s.reportProxy(contextID, res, start)
	s.recordNavigation(ctx, rec, res)
	_ = s.store.TouchContext(ctx, contextID)
	return res, nil
}

// validate runs the validator chain; a non-nil result means rejection.
func (s *Service) validate(ctx context.Context, sessionID, contextID, pageID string, act *types.Action, start time.Time) *types.ActionResult {
	vr := s.pipeline.Run(ctx, act, action.PipelineOptions{})
	if vr.Valid() {
		return nil
	}

	kind := types.KindInvalidInput
	event := audit.EventValidationFailed
	if securityRejected(act) {
		kind = types.KindSecurityViolation
		event = audit.EventSecurityViolation
	}
	s.sink.Emit(event, map[string]any{
		"sessionId": sessionID,
		"contextId": contextID,
		"pageId":    pageID,
		"action":    act.Kind,
		"errors":    vr.Errors,
	})
	log.Debug().Str("action", act.Kind).Strs("errors", vr.Errors).Msg("Action rejected")

	res := types.NewResult(act.Kind, start).Fail(kind, types.ErrValidationFailed)
	res.Meta("validationErrors", vr.Errors)
	if len(vr.Warnings) > 0 {
		res.Meta("validationWarnings", vr.Warnings)
	}
	return res.Finish(start)
}

// securityRejected reports whether the code-bearing part of the action fails
// the security screen, distinguishing a security rejection from a plain
// structural one.
func securityRejected(act *types.Action) bool {
	switch act.Kind {
	case types.ActionEvaluate, types.ActionEvaluateHandle, types.ActionInjectScript:
		code := act.Code
		if code == "" {
			code = act.Function
		}
		return !action.CheckJS(code).Valid()
	case types.ActionInjectCSS:
		return !action.CheckCSS(act.Code).Valid()
	case types.ActionWait:
		if act.WaitKind == types.WaitFunction && act.Function != "" {
			return !action.CheckJS(act.Function).Valid()
		}
	}
	return false
}

// recordBreaker feeds the action breaker. Only upstream-shaped failures
// count; a validator or selector mistake is not a reason to open.
func (s *Service) recordBreaker(breaker *circuit.Breaker, res *types.ActionResult) {
	if res.Success {
		breaker.RecordSuccess()
		return
	}
	switch res.ErrorKind {
	case types.KindNavigationFailed, types.KindTimeout, types.KindPageGone, types.KindUpstreamUnavailable:
		breaker.RecordFailure()
	}
}

// reportProxy feeds the proxy manager's health model with the action
// outcome and stamps the proxy id into the result. Only network-shaped
// failures count against the proxy.
func (s *Service) reportProxy(contextID string, res *types.ActionResult, start time.Time) {
	if s.proxies == nil || !s.proxies.Enabled() {
		return
	}
	inst, err := s.proxies.ProxyFor(contextID)
	if err != nil {
		return
	}
	res.Meta("proxyId", inst.ID)
	if res.Success {
		s.proxies.ReportSuccess(contextID, inst.ID, time.Since(start))
		return
	}
	switch res.ErrorKind {
	case types.KindNavigationFailed, types.KindTimeout, types.KindUpstreamUnavailable:
		s.proxies.ReportError(contextID, inst.ID, types.NewTaggedError(res.ErrorKind, res.Error, nil))
	}
}

// recordNavigation keeps the stored page record's URL in sync after
// navigation-family actions.
func (s *Service) recordNavigation(ctx context.Context, rec *store.Page, res *types.ActionResult) {
	if !res.Success {
		return
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		return
	}
	url, ok := data["url"].(string)
	if !ok || url == "" || url == rec.URL {
		return
	}
	rec.URL = url
	if err := s.store.UpdatePage(ctx, rec); err != nil {
		log.Debug().Err(err).Str("page_id", rec.ID).Msg("Page record update skipped")
	}
}
