package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action kinds, grouped by family. New kinds register an executor strategy at
// init; unknown kinds are rejected during validation.
const (
	// Navigation family
	ActionNavigate    = "navigate"
	ActionGoBack      = "goBack"
	ActionGoForward   = "goForward"
	ActionRefresh     = "refresh"
	ActionSetViewport = "setViewport"

	// Interaction family
	ActionClick  = "click"
	ActionType   = "type"
	ActionScroll = "scroll"

	// Wait family
	ActionWait = "wait"

	// Evaluation family
	ActionEvaluate       = "evaluate"
	ActionEvaluateHandle = "evaluateHandle"
	ActionInjectScript   = "injectScript"
	ActionInjectCSS      = "injectCSS"

	// Extraction family
	ActionScreenshot = "screenshot"
	ActionPDF        = "pdf"
	ActionGetContent = "getContent"
	ActionGetCookies = "getCookies"
	ActionGetTitle   = "getTitle"
	ActionGetURL     = "getUrl"

	// File family
	ActionUpload = "upload"
	ActionDownload = "download"
	ActionCookie   = "cookie"
)

// Wait kinds accepted by the wait action.
const (
	WaitSelector    = "selector"
	WaitNavigation  = "navigation"
	WaitTimeout     = "timeout"
	WaitFunction    = "function"
	WaitLoadState   = "loadState"
	WaitNetworkIdle = "networkIdle"
)

// Wait-until page lifecycle milestones.
const (
	WaitUntilLoad             = "load"
	WaitUntilDOMContentLoaded = "domcontentloaded"
	WaitUntilNetworkIdle0     = "networkidle0"
	WaitUntilNetworkIdle2     = "networkidle2"
)

// Action is the tagged record dispatched through the validator chain and the
// executor registry. Only the fields relevant to the kind are populated.
type Action struct {
	Kind string `json:"type"`

	// Navigation
	URL       string  `json:"url,omitempty"`
	WaitUntil string  `json:"waitUntil,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Scale     float64 `json:"scale,omitempty"`

	// Interaction
	Selector     string `json:"selector,omitempty"`
	Text         string `json:"text,omitempty"`
	ClearFirst   bool   `json:"clearFirst,omitempty"`
	ClickCount   int    `json:"clickCount,omitempty"`
	Button       string `json:"button,omitempty"`
	X            *float64 `json:"x,omitempty"`
	Y            *float64 `json:"y,omitempty"`
	Direction    string `json:"direction,omitempty"`
	Distance     int    `json:"distance,omitempty"`
	Smooth       bool   `json:"smooth,omitempty"`
	DurationMs   int    `json:"duration,omitempty"`
	WaitForSelector bool `json:"waitForSelector,omitempty"`

	// Wait
	WaitKind string `json:"waitType,omitempty"`
	Visible  *bool  `json:"visible,omitempty"`
	Hidden   *bool  `json:"hidden,omitempty"`
	Function string `json:"function,omitempty"`
	State    string `json:"state,omitempty"`

	// Evaluation
	Code          string            `json:"code,omitempty"`
	Args          []json.RawMessage `json:"args,omitempty"`
	ReturnByValue bool              `json:"returnByValue,omitempty"`

	// Extraction
	Format        string     `json:"format,omitempty"`
	Quality       int        `json:"quality,omitempty"`
	FullPage      bool       `json:"fullPage,omitempty"`
	Clip          *ClipRect  `json:"clip,omitempty"`
	Landscape     bool       `json:"landscape,omitempty"`
	Margin        *PDFMargin `json:"margin,omitempty"`
	PageRanges    string     `json:"pageRanges,omitempty"`
	HeaderTemplate string    `json:"headerTemplate,omitempty"`
	FooterTemplate string    `json:"footerTemplate,omitempty"`
	PrintBackground bool     `json:"printBackground,omitempty"`

	// File
	Files           []string        `json:"files,omitempty"`
	Path            string          `json:"path,omitempty"`
	WaitForDownload bool            `json:"waitForDownload,omitempty"`
	CookieOp        string          `json:"operation,omitempty"`
	Cookies         []Cookie        `json:"cookies,omitempty"`

	// Common
	TimeoutMs int `json:"timeout,omitempty"`
}

// Timeout returns the action timeout, falling back to def when unset.
func (a *Action) Timeout(def time.Duration) time.Duration {
	if a.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Family returns the executor family for the action kind, or "" for unknown
// kinds.
func (a *Action) Family() string {
	switch a.Kind {
	case ActionNavigate, ActionGoBack, ActionGoForward, ActionRefresh, ActionSetViewport:
		return "navigation"
	case ActionClick, ActionType, ActionScroll:
		return "interaction"
	case ActionWait:
		return "wait"
	case ActionEvaluate, ActionEvaluateHandle, ActionInjectScript, ActionInjectCSS:
		return "evaluation"
	case ActionScreenshot, ActionPDF, ActionGetContent, ActionGetCookies, ActionGetTitle, ActionGetURL:
		return "extraction"
	case ActionUpload, ActionDownload, ActionCookie:
		return "file"
	default:
		return ""
	}
}

// ClipRect is a capture region for screenshots.
type ClipRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PDFMargin holds CSS-unit margins for PDF rendering.
type PDFMargin struct {
	Top    string `json:"top,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Left   string `json:"left,omitempty"`
	Right  string `json:"right,omitempty"`
}

// Cookie represents a browser cookie crossing the API boundary.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ActionResult is the structured outcome of one action execution.
type ActionResult struct {
	Success    bool           `json:"success"`
	ActionType string         `json:"actionType"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  ErrorKind      `json:"errorKind,omitempty"`
	DurationMs int64          `json:"duration"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Meta sets a metadata key, allocating the map on first use.
func (r *ActionResult) Meta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, 4)
	}
	r.Metadata[key] = value
}

// NewResult builds a result for an action started at start.
func NewResult(actionType string, start time.Time) *ActionResult {
	return &ActionResult{
		ActionType: actionType,
		Timestamp:  start,
		Success:    true,
	}
}

// Finish stamps the duration. Duration is never negative, even if the clock
// stepped backwards mid-action.
func (r *ActionResult) Finish(start time.Time) *ActionResult {
	d := time.Since(start).Milliseconds()
	if d < 0 {
		d = 0
	}
	r.DurationMs = d
	return r
}

// Fail marks the result failed with the given kind and error.
func (r *ActionResult) Fail(kind ErrorKind, err error) *ActionResult {
	r.Success = false
	r.ErrorKind = kind
	if err != nil {
		r.Error = fmt.Sprintf("%s: %v", kind.Label(), err)
	} else {
		r.Error = kind.Label()
	}
	return r
}

// ContextConfig is the logical browser configuration carried by a context and
// applied to every page bound for it.
type ContextConfig struct {
	ViewportWidth   int               `json:"viewportWidth,omitempty"`
	ViewportHeight  int               `json:"viewportHeight,omitempty"`
	UserAgent       string            `json:"userAgent,omitempty"`
	Locale          string            `json:"locale,omitempty"`
	Timezone        string            `json:"timezone,omitempty"`
	Geolocation     *Geolocation      `json:"geolocation,omitempty"`
	Permissions     []string          `json:"permissions,omitempty"`
	HTTPUsername    string            `json:"httpUsername,omitempty"`
	HTTPPassword    string            `json:"httpPassword,omitempty"`
	IgnoreTLSErrors bool              `json:"ignoreTLSErrors,omitempty"`
	JavaScriptOff   bool              `json:"javaScriptDisabled,omitempty"`
	BypassCSP       bool              `json:"bypassCSP,omitempty"`
	ExtraHeaders    map[string]string `json:"extraHeaders,omitempty"`
}

// Geolocation override for a context.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}
