// Package browser manages the pool of browser processes: leases, health,
// recycling, adaptive scaling, and per-browser page management.
package browser

import (
	"context"
	"time"

	"github.com/ysmood/gson"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Engine launches browser processes. The pool talks to browsers only through
// this interface so tests can substitute a fake.
type Engine interface {
	NewBrowser(ctx context.Context, opts BrowserOptions) (Browser, error)
}

// BrowserOptions configure one browser launch.
type BrowserOptions struct {
	// ProxyURL sets the process-level proxy. Empty means direct.
	ProxyURL string
}

// Browser is one live browser process.
type Browser interface {
	PID() int
	// NewPage opens a page with the context configuration applied. proxyURL
	// carries credentials for CDP auth when the process-level proxy needs
	// them.
	NewPage(ctx context.Context, cfg types.ContextConfig, proxyURL string) (Page, error)
	// Healthy probes responsiveness. Must be cheap; called on acquire and by
	// the background health check.
	Healthy(ctx context.Context) bool
	Close() error
}

// ScreenshotOptions control page capture.
type ScreenshotOptions struct {
	Format   string // png, jpeg, webp
	Quality  int    // jpeg/webp only
	FullPage bool
	Clip     *types.ClipRect
	Selector string // crop to element when set
}

// PDFOptions control PDF rendering.
type PDFOptions struct {
	Format          string // letter, legal, tabloid, ledger, a0..a6
	Landscape       bool
	Scale           float64
	Margin          *types.PDFMargin
	PageRanges      string
	HeaderTemplate  string
	FooterTemplate  string
	PrintBackground bool
}

// NavigationResult reports where a navigation landed.
type NavigationResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Page is one tab. All blocking operations honor ctx; executors wrap calls
// with the action timeout.
type Page interface {
	Navigate(ctx context.Context, url, waitUntil string) (*NavigationResult, error)
	Back(ctx context.Context) (*NavigationResult, error)
	Forward(ctx context.Context) (*NavigationResult, error)
	Reload(ctx context.Context, waitUntil string) (*NavigationResult, error)
	HistoryLength(ctx context.Context) (int, error)
	SetViewport(ctx context.Context, width, height int, scale float64) error

	Click(ctx context.Context, selector, button string, clicks int) error
	Type(ctx context.Context, selector, text string, delay time.Duration, clearFirst bool) error
	ScrollBy(ctx context.Context, dx, dy float64, smooth bool, duration time.Duration) error
	ScrollIntoView(ctx context.Context, selector string) error

	WaitSelector(ctx context.Context, selector string, visible, hidden bool) error
	WaitNavigation(ctx context.Context, waitUntil string) error
	WaitFunction(ctx context.Context, js string, poll time.Duration) error
	WaitLoad(ctx context.Context, state string) error
	WaitNetworkIdle(ctx context.Context, idle time.Duration) error

	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// EvalHandle evaluates js and keeps the result inside the page, returning
	// an opaque handle id for later release.
	EvalHandle(ctx context.Context, js string) (string, error)
	ReleaseHandle(ctx context.Context, handleID string) error
	AddScript(ctx context.Context, js string) error
	AddStyle(ctx context.Context, css string) error

	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	ClearCookies(ctx context.Context) error

	SetFiles(ctx context.Context, selector string, paths []string) error
	// SetDownloadDir routes downloads triggered by this page into dir.
	SetDownloadDir(ctx context.Context, dir string) error

	// Close is idempotent.
	Close(ctx context.Context) error
}
