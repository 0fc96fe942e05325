package action

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

const (
	maxWaitTimeoutMs = 300_000
	maxJSCodeBytes   = 50 * 1024
	maxCSSCodeBytes  = 100 * 1024
	maxEvalArgs      = 10
	maxEvalArgBytes  = 10 * 1024
)

var validWaitUntil = map[string]bool{
	"":                              true,
	types.WaitUntilLoad:             true,
	types.WaitUntilDOMContentLoaded: true,
	types.WaitUntilNetworkIdle0:     true,
	types.WaitUntilNetworkIdle2:     true,
}

// navigationValidator checks navigation-family actions: URL shape, scheme,
// host block-list, and wait-until milestone.
type navigationValidator struct {
	cfg ValidatorConfig
}

func (navigationValidator) Name() string { return "navigation" }

func (v *navigationValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	if act.Family() != "navigation" {
		return res
	}

	if !validWaitUntil[act.WaitUntil] {
		res.errorf("waitUntil must be one of load, domcontentloaded, networkidle0, networkidle2")
	}

	switch act.Kind {
	case types.ActionNavigate:
		v.checkURL(act.URL, res)
	case types.ActionSetViewport:
		if act.Width <= 0 || act.Height <= 0 {
			res.errorf("viewport width and height must be positive")
		}
		if act.Scale < 0 {
			res.errorf("viewport scale must not be negative")
		}
	}
	return res
}

func (v *navigationValidator) checkURL(raw string, res *ValidationResult) {
	if raw == "" {
		res.errorf("url is required")
		return
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		res.errorf("url is not parseable: %v", err)
		return
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "http", "https":
		// SSRF screen: loopback, private ranges, cloud metadata, and the
		// encoding tricks that hide them.
		if err := security.ValidateURL(raw); err != nil {
			res.errorf("url rejected: %v", err)
			return
		}
	case "about":
	case "file":
		if !v.cfg.AllowFileURLs {
			res.errorf("file:// URLs are not allowed")
		}
	default:
		res.errorf("url scheme %q is not allowed", scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	for _, blocked := range v.cfg.BlockedHosts {
		if host == strings.ToLower(blocked) {
			res.errorf("host %q is blocked", host)
			return
		}
	}
}

var validButtons = map[string]bool{"": true, "left": true, "right": true, "middle": true}

var validDirections = map[string]bool{"up": true, "down": true, "left": true, "right": true}

// interactionValidator checks click, type, and scroll actions.
type interactionValidator struct{}

func (interactionValidator) Name() string { return "interaction" }

func (interactionValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	if act.Family() != "interaction" {
		return res
	}

	switch act.Kind {
	case types.ActionClick:
		if act.Selector == "" {
			res.errorf("click requires a selector")
		}
		if !validButtons[act.Button] {
			res.errorf("button must be left, right, or middle")
		}
		if act.ClickCount < 0 {
			res.errorf("clickCount must not be negative")
		}
	case types.ActionType:
		if act.Selector == "" {
			res.errorf("type requires a selector")
		}
	case types.ActionScroll:
		hasSelector := act.Selector != ""
		hasCoords := act.X != nil || act.Y != nil
		hasDirection := act.Direction != ""
		if !hasSelector && !hasCoords && !hasDirection {
			res.errorf("scroll requires a selector, coordinates, or a direction")
		}
		if act.X != nil && *act.X < 0 {
			res.errorf("scroll x must not be negative")
		}
		if act.Y != nil && *act.Y < 0 {
			res.errorf("scroll y must not be negative")
		}
		if hasDirection && !validDirections[act.Direction] {
			res.errorf("scroll direction must be up, down, left, or right")
		}
		if act.DurationMs < 0 || act.DurationMs > maxWaitTimeoutMs {
			res.errorf("scroll duration out of range")
		}
	}
	return res
}

// waitValidator checks wait actions kind by kind.
type waitValidator struct{}

func (waitValidator) Name() string { return "wait" }

func (waitValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	if act.Kind != types.ActionWait {
		return res
	}

	switch act.WaitKind {
	case types.WaitSelector:
		if act.Selector == "" {
			res.errorf("selector wait requires a selector")
		}
		if act.Visible != nil && act.Hidden != nil && *act.Visible && *act.Hidden {
			res.errorf("selector wait cannot require both visible and hidden")
		}
	case types.WaitNavigation:
		if !validWaitUntil[act.WaitUntil] {
			res.errorf("waitUntil must be one of load, domcontentloaded, networkidle0, networkidle2")
		}
	case types.WaitTimeout:
		if act.TimeoutMs <= 0 || act.TimeoutMs > maxWaitTimeoutMs {
			res.errorf("timeout wait duration must be 1..%d ms", maxWaitTimeoutMs)
		}
	case types.WaitFunction:
		if act.Function == "" {
			res.errorf("function wait requires a function body")
		}
	case types.WaitLoadState:
		switch act.State {
		case "", "load", "domcontentloaded", "networkidle":
		default:
			res.errorf("unknown load state %q", act.State)
		}
	case types.WaitNetworkIdle:
		if act.TimeoutMs < 0 || act.TimeoutMs > maxWaitTimeoutMs {
			res.errorf("networkIdle wait duration out of range")
		}
	case "":
		res.errorf("wait requires a waitType")
	default:
		res.errorf("unknown wait type %q", act.WaitKind)
	}
	return res
}

var (
	validImageFormats = map[string]bool{"": true, "png": true, "jpeg": true, "webp": true}
	validPDFFormats   = map[string]bool{
		"": true, "letter": true, "legal": true, "tabloid": true, "ledger": true,
		"a0": true, "a1": true, "a2": true, "a3": true, "a4": true, "a5": true, "a6": true,
	}
	pageRangesRe = regexp.MustCompile(`^(\d+(-\d+)?)(,\d+(-\d+)?)*$`)
	cssLengthRe  = regexp.MustCompile(`^\d+(\.\d+)?(px|in|cm|mm)?$`)
)

// contentValidator checks screenshot and pdf capture parameters.
type contentValidator struct{}

func (contentValidator) Name() string { return "content" }

func (contentValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	switch act.Kind {
	case types.ActionScreenshot:
		format := strings.ToLower(act.Format)
		if !validImageFormats[format] {
			res.errorf("screenshot format must be png, jpeg, or webp")
		}
		if act.Quality < 0 || act.Quality > 100 {
			res.errorf("quality must be 0..100")
		} else if act.Quality > 0 && format != "jpeg" && format != "webp" {
			res.warnf("quality only applies to jpeg and webp screenshots")
		}
		if act.Clip != nil {
			c := act.Clip
			if c.X < 0 || c.Y < 0 || c.Width <= 0 || c.Height <= 0 {
				res.errorf("clip region must be non-negative with positive size")
			}
		}
	case types.ActionPDF:
		if !validPDFFormats[strings.ToLower(act.Format)] {
			res.errorf("pdf format must be letter, legal, tabloid, ledger, or a0..a6")
		}
		if act.Scale != 0 && (act.Scale < 0.1 || act.Scale > 2) {
			res.errorf("pdf scale must be 0.1..2")
		}
		if act.PageRanges != "" && !pageRangesRe.MatchString(act.PageRanges) {
			res.errorf("pageRanges must match e.g. 1-5,8,11-13")
		}
		if act.Margin != nil {
			for name, val := range map[string]string{
				"top": act.Margin.Top, "bottom": act.Margin.Bottom,
				"left": act.Margin.Left, "right": act.Margin.Right,
			} {
				if val != "" && !cssLengthRe.MatchString(val) {
					res.errorf("margin %s %q is not a CSS length", name, val)
				}
			}
		}
	}
	return res
}

// evaluationValidator checks size limits on code and arguments. Pattern
// screening is the security validator's job.
type evaluationValidator struct{}

func (evaluationValidator) Name() string { return "evaluation" }

func (evaluationValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	switch act.Kind {
	case types.ActionEvaluate, types.ActionEvaluateHandle, types.ActionInjectScript:
		if act.Code == "" && act.Function == "" {
			res.errorf("%s requires code", act.Kind)
			return res
		}
		if len(evalCode(act)) > maxJSCodeBytes {
			res.errorf("script exceeds %d bytes", maxJSCodeBytes)
		}
		checkEvalArgs(act, res)
	case types.ActionInjectCSS:
		if act.Code == "" {
			res.errorf("injectCSS requires code")
			return res
		}
		if len(act.Code) > maxCSSCodeBytes {
			res.errorf("stylesheet exceeds %d bytes", maxCSSCodeBytes)
		}
	}
	return res
}

func evalCode(act *types.Action) string {
	if act.Code != "" {
		return act.Code
	}
	return act.Function
}

func checkEvalArgs(act *types.Action, res *ValidationResult) {
	if len(act.Args) > maxEvalArgs {
		res.errorf("at most %d arguments are allowed", maxEvalArgs)
		return
	}
	for i, raw := range act.Args {
		if len(raw) > maxEvalArgBytes {
			res.errorf("argument %d exceeds %d bytes", i, maxEvalArgBytes)
			continue
		}
		if !json.Valid(raw) {
			res.errorf("argument %d is not valid JSON", i)
		}
	}
}
