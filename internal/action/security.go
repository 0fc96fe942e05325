package action

import (
	"context"
	"regexp"
	"strings"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Dangerous JavaScript constructs rejected outright. Matching runs on the
// source with whitespace collapsed, so `eval (x)` and `eval(x)` both trip.
// Patterns are case-sensitive: `Function(` is the constructor, a plain
// anonymous `function(` is fine.
var jsBlockedPatterns = []struct {
	pattern string
	reason  string
}{
	{"eval(", "dynamic code evaluation"},
	{"Function(", "dynamic function construction"},
	{"setTimeout(", "timer-based code execution"},
	{"setInterval(", "timer-based code execution"},
	{"import(", "dynamic module import"},
	{"require(", "module loading"},
	{"XMLHttpRequest", "raw network access"},
	{"fetch(", "raw network access"},
	{"process.", "process access"},
	{"globalThis", "global object access"},
	{"__proto__", "prototype pollution"},
	{"constructor.constructor", "prototype chain walking"},
	{"Object.getPrototypeOf", "prototype chain walking"},
	{"Object.setPrototypeOf", "prototype chain walking"},
}

var cssBlockedPatterns = []struct {
	pattern string
	reason  string
}{
	{"javascript:", "script URL in stylesheet"},
	{"expression(", "IE expression"},
	{"behavior:", "IE behavior binding"},
	{"binding:", "XBL binding"},
}

var cssDataScriptRe = regexp.MustCompile(`data:[^,]*script`)

// Suspicious Unicode that can hide malicious code from review: zero-width
// characters and bidi overrides.
var suspiciousRunes = map[rune]string{
	'\u200b': "zero-width space",
	'\u200c': "zero-width non-joiner",
	'\u200d': "zero-width joiner",
	'\ufeff': "zero-width no-break space",
	'\u202a': "bidi embedding",
	'\u202b': "bidi embedding",
	'\u202c': "bidi pop",
	'\u202d': "bidi override",
	'\u202e': "bidi override",
	'\u2066': "bidi isolate",
	'\u2067': "bidi isolate",
	'\u2068': "bidi isolate",
	'\u2069': "bidi isolate",
}

// XSS screening for code that writes to the DOM. `<script` and script URLs
// are errors; sink usage like innerHTML is a warning.
var (
	inlineHandlerRe = regexp.MustCompile(`\.on[a-z]+\s*=`)
	xssErrorNeedles = []string{"<script", "javascript:"}
	xssWarnNeedles  = []string{"innerhtml", "outerhtml", "document.write", "insertadjacenthtml"}
)

func collapseSource(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// CheckJS screens a JavaScript body for dangerous patterns and suspicious
// Unicode.
func CheckJS(code string) *ValidationResult {
	res := &ValidationResult{}
	collapsed := collapseSource(code)
	norm := strings.ToLower(collapsed)

	for _, p := range jsBlockedPatterns {
		if strings.Contains(collapsed, p.pattern) {
			res.errorf("script contains blocked pattern %q (%s)", p.pattern, p.reason)
		}
	}
	for _, r := range code {
		if reason, ok := suspiciousRunes[r]; ok {
			res.errorf("script contains suspicious Unicode (%s)", reason)
			break
		}
	}
	checkXSS(norm, code, res)
	return res
}

// CheckCSS screens a stylesheet for script-bearing constructs.
func CheckCSS(code string) *ValidationResult {
	res := &ValidationResult{}
	norm := strings.ToLower(collapseSource(code))

	for _, p := range cssBlockedPatterns {
		if strings.Contains(norm, p.pattern) {
			res.errorf("stylesheet contains blocked pattern %q (%s)", p.pattern, p.reason)
		}
	}
	if cssDataScriptRe.MatchString(norm) {
		res.errorf("stylesheet contains a script-bearing data URL")
	}
	return res
}

func checkXSS(norm, original string, res *ValidationResult) {
	for _, needle := range xssErrorNeedles {
		if strings.Contains(norm, needle) {
			res.errorf("script contains XSS vector %q", needle)
		}
	}
	if inlineHandlerRe.MatchString(strings.ToLower(original)) {
		res.errorf("script assigns an inline event handler")
	}
	for _, needle := range xssWarnNeedles {
		if strings.Contains(norm, needle) {
			res.warnf("script writes to the DOM via %q", needle)
		}
	}
}

// securityValidator applies pattern screening to every action that carries
// code: the evaluation family and function waits.
type securityValidator struct{}

func (securityValidator) Name() string { return "security" }

func (securityValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	switch act.Kind {
	case types.ActionEvaluate, types.ActionEvaluateHandle, types.ActionInjectScript:
		return CheckJS(evalCode(act))
	case types.ActionInjectCSS:
		return CheckCSS(act.Code)
	case types.ActionWait:
		if act.WaitKind == types.WaitFunction && act.Function != "" {
			return CheckJS(act.Function)
		}
	}
	return &ValidationResult{}
}
