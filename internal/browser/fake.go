package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ysmood/gson"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// FakeEngine is an in-memory Engine for tests. Launch failures and browser
// health are scriptable.
type FakeEngine struct {
	mu        sync.Mutex
	launched  int
	failNext  int
	browsers  []*FakeBrowser
	newPageFn func() *FakePage
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

// FailNext makes the next n launches fail.
func (e *FakeEngine) FailNext(n int) {
	e.mu.Lock()
	e.failNext = n
	e.mu.Unlock()
}

// Launched returns how many browsers were successfully launched.
func (e *FakeEngine) Launched() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launched
}

// Browsers returns every browser the engine launched, including closed ones.
func (e *FakeEngine) Browsers() []*FakeBrowser {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*FakeBrowser, len(e.browsers))
	copy(out, e.browsers)
	return out
}

// StubPages makes new pages come from fn instead of the default.
func (e *FakeEngine) StubPages(fn func() *FakePage) {
	e.mu.Lock()
	e.newPageFn = fn
	e.mu.Unlock()
}

func (e *FakeEngine) NewBrowser(_ context.Context, opts BrowserOptions) (Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext > 0 {
		e.failNext--
		return nil, fmt.Errorf("%w: scripted launch failure", types.ErrBrowserLaunch)
	}
	e.launched++
	b := &FakeBrowser{
		engine:   e,
		pid:      1000 + e.launched,
		healthy:  true,
		ProxyURL: opts.ProxyURL,
	}
	e.browsers = append(e.browsers, b)
	return b, nil
}

// FakeBrowser implements Browser.
type FakeBrowser struct {
	engine   *FakeEngine
	pid      int
	ProxyURL string

	mu      sync.Mutex
	healthy bool
	closed  bool
	pages   []*FakePage
}

func (b *FakeBrowser) PID() int { return b.pid }

// SetHealthy scripts the next health probes.
func (b *FakeBrowser) SetHealthy(ok bool) {
	b.mu.Lock()
	b.healthy = ok
	b.mu.Unlock()
}

func (b *FakeBrowser) Healthy(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy && !b.closed
}

func (b *FakeBrowser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Pages returns every page this browser opened, including closed ones.
func (b *FakeBrowser) Pages() []*FakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*FakePage, len(b.pages))
	copy(out, b.pages)
	return out
}

func (b *FakeBrowser) NewPage(_ context.Context, cfg types.ContextConfig, proxyURL string) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, types.ErrBrowserGone
	}
	var p *FakePage
	b.engine.mu.Lock()
	fn := b.engine.newPageFn
	b.engine.mu.Unlock()
	if fn != nil {
		p = fn()
	} else {
		p = NewFakePage()
	}
	p.Config = cfg
	p.ProxyURL = proxyURL
	b.pages = append(b.pages, p)
	return p, nil
}

// FakePage implements Page, recording calls and returning scripted values.
type FakePage struct {
	Config   types.ContextConfig
	ProxyURL string

	mu     sync.Mutex
	calls  []string
	closed bool

	// Scripted behavior
	Err         error // returned by every operation when set
	NavFailures int   // next n navigations fail with a transient error
	NavStatus   int   // response status for navigations, 200 when unset
	CurrentURL  string
	PageTitle  string
	Content    string
	EvalValue  any
	History    int
	CookieJar  []types.Cookie
	Screenshot_ []byte
	PDFData    []byte
	handleSeq  int
	handles    map[string]bool
}

func NewFakePage() *FakePage {
	return &FakePage{
		CurrentURL:  "about:blank",
		PageTitle:   "blank",
		Content:     "<html><body></body></html>",
		History:     1,
		Screenshot_: []byte("png-bytes"),
		PDFData:     []byte("pdf-bytes"),
		handles:     make(map[string]bool),
	}
}

func (p *FakePage) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.Err
}

// Calls returns the recorded operations in order.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) nav() *NavigationResult {
	status := p.NavStatus
	if status == 0 {
		status = 200
	}
	return &NavigationResult{URL: p.CurrentURL, Title: p.PageTitle, StatusCode: status}
}

func (p *FakePage) Navigate(_ context.Context, url, waitUntil string) (*NavigationResult, error) {
	if err := p.record("navigate " + url); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.NavFailures > 0 {
		p.NavFailures--
		p.mu.Unlock()
		return nil, errors.New("navigation failed: scripted transient error")
	}
	p.CurrentURL = url
	p.History++
	p.mu.Unlock()
	return p.nav(), nil
}

func (p *FakePage) Back(context.Context) (*NavigationResult, error) {
	if err := p.record("back"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.History <= 1 {
		return nil, types.ErrNoHistory
	}
	p.History--
	return p.nav(), nil
}

func (p *FakePage) Forward(context.Context) (*NavigationResult, error) {
	if err := p.record("forward"); err != nil {
		return nil, err
	}
	return nil, types.ErrNoHistory
}

func (p *FakePage) Reload(_ context.Context, _ string) (*NavigationResult, error) {
	if err := p.record("reload"); err != nil {
		return nil, err
	}
	return p.nav(), nil
}

func (p *FakePage) HistoryLength(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.History, nil
}

func (p *FakePage) SetViewport(_ context.Context, w, h int, scale float64) error {
	return p.record(fmt.Sprintf("setViewport %dx%d@%g", w, h, scale))
}

func (p *FakePage) Click(_ context.Context, selector, button string, clicks int) error {
	return p.record(fmt.Sprintf("click %s %s x%d", selector, button, clicks))
}

func (p *FakePage) Type(_ context.Context, selector, text string, _ time.Duration, clearFirst bool) error {
	return p.record(fmt.Sprintf("type %s %q clear=%v", selector, text, clearFirst))
}

func (p *FakePage) ScrollBy(_ context.Context, dx, dy float64, smooth bool, _ time.Duration) error {
	return p.record(fmt.Sprintf("scroll %g,%g smooth=%v", dx, dy, smooth))
}

func (p *FakePage) ScrollIntoView(_ context.Context, selector string) error {
	return p.record("scrollIntoView " + selector)
}

func (p *FakePage) WaitSelector(_ context.Context, selector string, visible, hidden bool) error {
	return p.record(fmt.Sprintf("waitSelector %s visible=%v hidden=%v", selector, visible, hidden))
}

func (p *FakePage) WaitNavigation(_ context.Context, waitUntil string) error {
	return p.record("waitNavigation " + waitUntil)
}

func (p *FakePage) WaitFunction(_ context.Context, js string, _ time.Duration) error {
	return p.record("waitFunction")
}

func (p *FakePage) WaitLoad(_ context.Context, state string) error {
	return p.record("waitLoad " + state)
}

func (p *FakePage) WaitNetworkIdle(_ context.Context, _ time.Duration) error {
	return p.record("waitNetworkIdle")
}

func (p *FakePage) Eval(_ context.Context, js string, _ ...any) (gson.JSON, error) {
	if err := p.record("eval"); err != nil {
		return gson.New(nil), err
	}
	return gson.New(p.EvalValue), nil
}

func (p *FakePage) EvalHandle(_ context.Context, js string) (string, error) {
	if err := p.record("evalHandle"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handleSeq++
	id := fmt.Sprintf("handle-%d", p.handleSeq)
	p.handles[id] = true
	return id, nil
}

func (p *FakePage) ReleaseHandle(_ context.Context, handleID string) error {
	if err := p.record("releaseHandle " + handleID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.handles[handleID] {
		return types.ErrHandleNotFound
	}
	delete(p.handles, handleID)
	return nil
}

// LiveHandles returns the count of unreleased handles.
func (p *FakePage) LiveHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *FakePage) AddScript(_ context.Context, _ string) error { return p.record("addScript") }
func (p *FakePage) AddStyle(_ context.Context, _ string) error  { return p.record("addStyle") }

func (p *FakePage) Screenshot(_ context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := p.record("screenshot " + opts.Format); err != nil {
		return nil, err
	}
	return p.Screenshot_, nil
}

func (p *FakePage) PDF(_ context.Context, opts PDFOptions) ([]byte, error) {
	if err := p.record("pdf " + opts.Format); err != nil {
		return nil, err
	}
	return p.PDFData, nil
}

func (p *FakePage) HTML(context.Context) (string, error) {
	if err := p.record("html"); err != nil {
		return "", err
	}
	return p.Content, nil
}

func (p *FakePage) Title(context.Context) (string, error) {
	if err := p.record("title"); err != nil {
		return "", err
	}
	return p.PageTitle, nil
}

func (p *FakePage) URL(context.Context) (string, error) {
	if err := p.record("url"); err != nil {
		return "", err
	}
	return p.CurrentURL, nil
}

func (p *FakePage) Cookies(context.Context) ([]types.Cookie, error) {
	if err := p.record("cookies"); err != nil {
		return nil, err
	}
	return p.CookieJar, nil
}

func (p *FakePage) SetCookies(_ context.Context, cookies []types.Cookie) error {
	if err := p.record("setCookies"); err != nil {
		return err
	}
	p.mu.Lock()
	p.CookieJar = append(p.CookieJar, cookies...)
	p.mu.Unlock()
	return nil
}

func (p *FakePage) ClearCookies(context.Context) error {
	if err := p.record("clearCookies"); err != nil {
		return err
	}
	p.mu.Lock()
	p.CookieJar = nil
	p.mu.Unlock()
	return nil
}

func (p *FakePage) SetFiles(_ context.Context, selector string, paths []string) error {
	return p.record(fmt.Sprintf("setFiles %s %v", selector, paths))
}

func (p *FakePage) SetDownloadDir(_ context.Context, dir string) error {
	return p.record("setDownloadDir " + dir)
}

func (p *FakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.calls = append(p.calls, "close")
	return nil
}
