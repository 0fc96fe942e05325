package action

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

func testPipeline() *Pipeline {
	return NewPipeline(ValidatorConfig{
		AllowFileURLs: false,
		BlockedHosts:  []string{"internal.corp"},
	})
}

func runChain(t *testing.T, act *types.Action) *ValidationResult {
	t.Helper()
	return testPipeline().Run(context.Background(), act, PipelineOptions{})
}

func wantError(t *testing.T, res *ValidationResult, fragment string) {
	t.Helper()
	for _, e := range res.Errors {
		if strings.Contains(e, fragment) {
			return
		}
	}
	t.Fatalf("expected error containing %q, got %v", fragment, res.Errors)
}

func TestValidateNavigation(t *testing.T) {
	tests := []struct {
		name string
		act  types.Action
		want string // error fragment, "" means valid
	}{
		{"valid https", types.Action{Kind: types.ActionNavigate, URL: "https://example.com"}, ""},
		{"valid about", types.Action{Kind: types.ActionNavigate, URL: "about:blank"}, ""},
		{"empty url", types.Action{Kind: types.ActionNavigate}, "url is required"},
		{"javascript scheme", types.Action{Kind: types.ActionNavigate, URL: "javascript:alert(1)"}, "not allowed"},
		{"file scheme blocked", types.Action{Kind: types.ActionNavigate, URL: "file:///etc/passwd"}, "not allowed"},
		{"blocked host", types.Action{Kind: types.ActionNavigate, URL: "https://internal.corp/admin"}, "blocked"},
		{"loopback ip", types.Action{Kind: types.ActionNavigate, URL: "http://127.0.0.1:8080/admin"}, "rejected"},
		{"localhost", types.Action{Kind: types.ActionNavigate, URL: "http://localhost/"}, "rejected"},
		{"private range", types.Action{Kind: types.ActionNavigate, URL: "http://192.168.1.10/"}, "rejected"},
		{"cloud metadata", types.Action{Kind: types.ActionNavigate, URL: "http://169.254.169.254/latest/meta-data/"}, "rejected"},
		{"decimal loopback encoding", types.Action{Kind: types.ActionNavigate, URL: "http://2130706433/"}, "rejected"},
		{"bad waitUntil", types.Action{Kind: types.ActionNavigate, URL: "https://example.com", WaitUntil: "loaded"}, "waitUntil"},
		{"viewport zero", types.Action{Kind: types.ActionSetViewport, Width: 0, Height: 600}, "positive"},
		{"viewport ok", types.Action{Kind: types.ActionSetViewport, Width: 1280, Height: 720}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChain(t, &tt.act)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			wantError(t, res, tt.want)
		})
	}
}

func TestValidateFileURLWhenAllowed(t *testing.T) {
	p := NewPipeline(ValidatorConfig{AllowFileURLs: true})
	res := p.Run(context.Background(), &types.Action{
		Kind: types.ActionNavigate,
		URL:  "file:///tmp/report.html",
	}, PipelineOptions{})
	if !res.Valid() {
		t.Fatalf("file URL must pass when allowed, got %v", res.Errors)
	}
}

func TestValidateInteraction(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name string
		act  types.Action
		want string
	}{
		{"click ok", types.Action{Kind: types.ActionClick, Selector: "#go"}, ""},
		{"click no selector", types.Action{Kind: types.ActionClick}, "selector"},
		{"click bad button", types.Action{Kind: types.ActionClick, Selector: "#go", Button: "side"}, "button"},
		{"type no selector", types.Action{Kind: types.ActionType, Text: "hi"}, "selector"},
		{"scroll no target", types.Action{Kind: types.ActionScroll}, "requires"},
		{"scroll bad direction", types.Action{Kind: types.ActionScroll, Direction: "diagonal"}, "direction"},
		{"scroll negative coord", types.Action{Kind: types.ActionScroll, Y: &neg}, "negative"},
		{"scroll by direction ok", types.Action{Kind: types.ActionScroll, Direction: "down", Distance: 300}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChain(t, &tt.act)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			wantError(t, res, tt.want)
		})
	}
}

func TestValidateWait(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		act  types.Action
		want string
	}{
		{"selector ok", types.Action{Kind: types.ActionWait, WaitKind: types.WaitSelector, Selector: ".done"}, ""},
		{"selector visible and hidden", types.Action{Kind: types.ActionWait, WaitKind: types.WaitSelector, Selector: ".x", Visible: &yes, Hidden: &yes}, "both"},
		{"timeout zero", types.Action{Kind: types.ActionWait, WaitKind: types.WaitTimeout}, "duration"},
		{"timeout too long", types.Action{Kind: types.ActionWait, WaitKind: types.WaitTimeout, TimeoutMs: 400_000}, "duration"},
		{"timeout ok", types.Action{Kind: types.ActionWait, WaitKind: types.WaitTimeout, TimeoutMs: 1000}, ""},
		{"function empty", types.Action{Kind: types.ActionWait, WaitKind: types.WaitFunction}, "function"},
		{"missing kind", types.Action{Kind: types.ActionWait}, "waitType"},
		{"unknown kind", types.Action{Kind: types.ActionWait, WaitKind: "vibes"}, "unknown wait type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChain(t, &tt.act)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			wantError(t, res, tt.want)
		})
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name     string
		act      types.Action
		want     string
		wantWarn bool
	}{
		{"png ok", types.Action{Kind: types.ActionScreenshot, Format: "png"}, "", false},
		{"bad format", types.Action{Kind: types.ActionScreenshot, Format: "bmp"}, "format", false},
		{"quality out of range", types.Action{Kind: types.ActionScreenshot, Format: "jpeg", Quality: 120}, "quality", false},
		{"quality on png warns", types.Action{Kind: types.ActionScreenshot, Format: "png", Quality: 80}, "", true},
		{"bad clip", types.Action{Kind: types.ActionScreenshot, Clip: &types.ClipRect{X: -1, Width: 10, Height: 10}}, "clip", false},
		{"pdf bad format", types.Action{Kind: types.ActionPDF, Format: "b5"}, "format", false},
		{"pdf bad scale", types.Action{Kind: types.ActionPDF, Format: "a4", Scale: 5}, "scale", false},
		{"pdf bad ranges", types.Action{Kind: types.ActionPDF, PageRanges: "1-,x"}, "pageRanges", false},
		{"pdf ok", types.Action{Kind: types.ActionPDF, Format: "a4", Scale: 1, PageRanges: "1-5,8"}, "", false},
		{"pdf bad margin", types.Action{Kind: types.ActionPDF, Margin: &types.PDFMargin{Top: "two inches"}}, "margin", false},
		{"pdf margin ok", types.Action{Kind: types.ActionPDF, Margin: &types.PDFMargin{Top: "1cm", Left: "10mm"}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChain(t, &tt.act)
			if tt.want != "" {
				wantError(t, res, tt.want)
				return
			}
			if !res.Valid() {
				t.Fatalf("expected valid, got %v", res.Errors)
			}
			if tt.wantWarn && len(res.Warnings) == 0 {
				t.Fatal("expected a warning")
			}
		})
	}
}

func TestValidateEvaluationLimits(t *testing.T) {
	big := strings.Repeat("a", maxJSCodeBytes+1)
	bigArg, _ := json.Marshal(strings.Repeat("b", maxEvalArgBytes))

	tests := []struct {
		name string
		act  types.Action
		want string
	}{
		{"ok", types.Action{Kind: types.ActionEvaluate, Code: "1 + 1"}, ""},
		{"no code", types.Action{Kind: types.ActionEvaluate}, "requires code"},
		{"oversized js", types.Action{Kind: types.ActionEvaluate, Code: big}, "exceeds"},
		{"too many args", types.Action{Kind: types.ActionEvaluate, Code: "x", Args: make([]json.RawMessage, 11)}, "arguments"},
		{"oversized arg", types.Action{Kind: types.ActionEvaluate, Code: "x", Args: []json.RawMessage{bigArg}}, "exceeds"},
		{"bad json arg", types.Action{Kind: types.ActionEvaluate, Code: "x", Args: []json.RawMessage{json.RawMessage("{nope")}}, "not valid JSON"},
		{"css ok", types.Action{Kind: types.ActionInjectCSS, Code: "body { color: red }"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChain(t, &tt.act)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			wantError(t, res, tt.want)
		})
	}
}

func TestPipelineUnknownKind(t *testing.T) {
	res := runChain(t, &types.Action{Kind: "teleport"})
	wantError(t, res, "unknown action type")
}

func TestPipelineSkipValidators(t *testing.T) {
	act := types.Action{Kind: types.ActionNavigate} // would fail navigation
	res := testPipeline().Run(context.Background(), &act, PipelineOptions{
		SkipValidators: []string{"navigation"},
	})
	if !res.Valid() {
		t.Fatalf("skipped validator must not run, got %v", res.Errors)
	}
}

func TestPipelineStopOnFirstError(t *testing.T) {
	// Oversized code fails the evaluation validator; the eval( pattern would
	// also fail the later security validator.
	act := types.Action{Kind: types.ActionEvaluate, Code: "eval(" + strings.Repeat("a", maxJSCodeBytes) + ")"}
	full := testPipeline().Run(context.Background(), &act, PipelineOptions{})
	stopped := testPipeline().Run(context.Background(), &act, PipelineOptions{StopOnFirstError: true})
	if len(full.Errors) < 2 {
		t.Fatalf("expected multiple errors, got %v", full.Errors)
	}
	if len(stopped.Errors) >= len(full.Errors) {
		t.Fatalf("stopOnFirstError must short-circuit: %d vs %d", len(stopped.Errors), len(full.Errors))
	}
}

func TestPipelineParallelMatchesSequential(t *testing.T) {
	act := types.Action{Kind: types.ActionNavigate, URL: "javascript:x"}
	seq := testPipeline().Run(context.Background(), &act, PipelineOptions{})
	par := testPipeline().Run(context.Background(), &act, PipelineOptions{Parallel: true})
	if len(seq.Errors) != len(par.Errors) {
		t.Fatalf("parallel run must find the same errors: %v vs %v", seq.Errors, par.Errors)
	}
}

func TestPipelineTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := testPipeline().Run(ctx, &types.Action{Kind: types.ActionNavigate, URL: "https://example.com"}, PipelineOptions{
		Timeout: time.Nanosecond,
	})
	if res.Valid() {
		t.Fatal("dead context must fail validation")
	}
}
