package browser

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// RodEngine launches real Chromium processes over CDP.
type RodEngine struct {
	cfg *config.Config
}

// NewRodEngine creates the production engine.
func NewRodEngine(cfg *config.Config) *RodEngine {
	return &RodEngine{cfg: cfg}
}

// createLauncher builds a launcher with flags tuned for container use and
// anti-detection. Launchers are single-use; every launch gets a fresh one.
func (e *RodEngine) createLauncher(proxyURL string) *launcher.Launcher {
	l := launcher.New()

	if e.cfg.BrowserPath != "" {
		l = l.Bin(e.cfg.BrowserPath)
	}

	if e.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; headed mode needs an explicit off.
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if proxyURL != "" {
		l = l.Set("proxy-server", proxyURL)
		log.Debug().Str("proxy", security.RedactProxyURL(proxyURL)).Msg("Browser proxy configured")
	}

	// Prevent WebRTC from leaking the real egress IP past the proxy.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	if e.cfg.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
		l = l.Delete("enable-automation")
		l = l.Set("disable-features", "Translate,TranslateUI,WebRtcHideLocalIpsWithMdns")
		l = l.Set("use-gl", "swiftshader").
			Set("use-angle", "swiftshader").
			Set("enable-unsafe-swiftshader").
			Set("enable-webgl").
			Set("enable-webgl2")
	}

	if e.cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote")

	l = l.Set("disable-gpu-sandbox")
	if runtime.GOARCH == "arm" || runtime.GOARCH == "arm64" {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// NewBrowser launches a browser process and connects over CDP.
func (e *RodEngine) NewBrowser(ctx context.Context, opts BrowserOptions) (Browser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l := e.createLauncher(opts.ProxyURL)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect: %v", types.ErrBrowserLaunch, err)
	}

	if e.cfg.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	log.Debug().Int("pid", l.PID()).Msg("Browser launched")
	return &rodBrowser{engine: e, browser: b, lc: l}, nil
}

type rodBrowser struct {
	engine *RodEngine
	browser *rod.Browser
	lc      *launcher.Launcher
}

func (b *rodBrowser) PID() int { return b.lc.PID() }

func (b *rodBrowser) Healthy(ctx context.Context) bool {
	probe, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer probe.Close()
	return probe.Context(ctx).Navigate("about:blank") == nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.lc.Cleanup()
	return err
}

// NewPage opens a page and applies the context configuration: viewport, UA,
// locale, timezone, geolocation, permissions, headers, CSP bypass, script
// toggle, and proxy credentials.
func (b *rodBrowser) NewPage(ctx context.Context, cfg types.ContextConfig, proxyURL string) (Page, error) {
	var page *rod.Page
	var err error
	if b.engine.cfg.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	rp := &rodPage{page: page, browser: b}
	if err := rp.applyConfig(ctx, cfg, proxyURL); err != nil {
		_ = page.Close()
		return nil, err
	}
	return rp, nil
}

type rodPage struct {
	page    *rod.Page
	browser *rodBrowser
	closed  atomic.Bool

	mu       sync.Mutex
	cleanups []func()
}

func (p *rodPage) ctx(ctx context.Context) *rod.Page {
	return p.page.Context(ctx)
}

func (p *rodPage) applyConfig(ctx context.Context, cfg types.ContextConfig, proxyURL string) error {
	page := p.ctx(ctx)

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}

	if cfg.UserAgent != "" || cfg.Locale != "" {
		ua := &proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}
		if cfg.Locale != "" {
			ua.AcceptLanguage = cfg.Locale
		}
		if ua.UserAgent == "" {
			// CDP rejects an empty UA override; fetch the real one first.
			version, err := proto.BrowserGetVersion{}.Call(page)
			if err != nil {
				return fmt.Errorf("get browser version: %w", err)
			}
			ua.UserAgent = version.UserAgent
		}
		if err := page.SetUserAgent(ua); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	if cfg.Timezone != "" {
		err := proto.EmulationSetTimezoneOverride{TimezoneID: cfg.Timezone}.Call(page)
		if err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}

	if cfg.Geolocation != nil {
		g := cfg.Geolocation
		err := proto.EmulationSetGeolocationOverride{
			Latitude:  &g.Latitude,
			Longitude: &g.Longitude,
			Accuracy:  &g.Accuracy,
		}.Call(page)
		if err != nil {
			return fmt.Errorf("set geolocation: %w", err)
		}
	}

	if len(cfg.Permissions) > 0 {
		perms := make([]proto.BrowserPermissionType, 0, len(cfg.Permissions))
		for _, name := range cfg.Permissions {
			if pt, ok := permissionTypes[name]; ok {
				perms = append(perms, pt)
			} else {
				log.Warn().Str("permission", name).Msg("Unknown permission ignored")
			}
		}
		if len(perms) > 0 {
			err := proto.BrowserGrantPermissions{Permissions: perms}.Call(p.browser.browser)
			if err != nil {
				return fmt.Errorf("grant permissions: %w", err)
			}
		}
	}

	if len(cfg.ExtraHeaders) > 0 {
		kv := make([]string, 0, len(cfg.ExtraHeaders)*2)
		for k, v := range cfg.ExtraHeaders {
			kv = append(kv, k, v)
		}
		cleanup, err := page.SetExtraHeaders(kv)
		if err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
		p.addCleanup(cleanup)
	}

	if cfg.BypassCSP {
		if err := (proto.PageSetBypassCSP{Enabled: true}).Call(page); err != nil {
			return fmt.Errorf("bypass csp: %w", err)
		}
	}

	if cfg.JavaScriptOff {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
			return fmt.Errorf("disable scripts: %w", err)
		}
	}

	// One fetch-domain auth handler covers both proxy credentials and HTTP
	// basic auth challenges.
	proxyUser, proxyPass := credentialsFromURL(proxyURL)
	if proxyUser != "" || cfg.HTTPUsername != "" {
		cleanup, err := p.installAuthHandler(ctx, proxyUser, proxyPass, cfg.HTTPUsername, cfg.HTTPPassword)
		if err != nil {
			return err
		}
		p.addCleanup(cleanup)
	}

	return nil
}

func (p *rodPage) addCleanup(fn func()) {
	p.mu.Lock()
	p.cleanups = append(p.cleanups, fn)
	p.mu.Unlock()
}

// installAuthHandler answers CDP auth challenges: proxy challenges with proxy
// credentials, server challenges with HTTP credentials.
func (p *rodPage) installAuthHandler(ctx context.Context, proxyUser, proxyPass, httpUser, httpPass string) (func(), error) {
	err := proto.FetchEnable{HandleAuthRequests: true}.Call(p.page)
	if err != nil {
		return nil, fmt.Errorf("enable fetch for auth: %w", err)
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	page := p.page.Context(listenerCtx)

	go func() {
		page.EachEvent(func(e *proto.FetchAuthRequired) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			user, pass := httpUser, httpPass
			if e.AuthChallenge != nil && e.AuthChallenge.Source == proto.FetchAuthChallengeSourceProxy {
				user, pass = proxyUser, proxyPass
			}
			_ = proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: user,
					Password: pass,
				},
			}.Call(p.page)
			return false
		})()
	}()

	go func() {
		page.EachEvent(func(e *proto.FetchRequestPaused) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			if e.ResponseStatusCode == nil {
				_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p.page)
			}
			return false
		})()
	}()

	return cancel, nil
}

func credentialsFromURL(rawURL string) (user, pass string) {
	if rawURL == "" {
		return "", ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return "", ""
	}
	pass, _ = u.User.Password()
	return u.User.Username(), pass
}

func (p *rodPage) Navigate(ctx context.Context, url, waitUntil string) (*NavigationResult, error) {
	page := p.ctx(ctx)

	// The document response status only exists as a network event, so the
	// listener must be armed before navigation starts.
	statusCh := make(chan int, 1)
	evCtx, evCancel := context.WithCancel(ctx)
	defer evCancel()
	go page.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			select {
			case statusCh <- e.Response.Status:
			default:
			}
			return true
		}
		return false
	})()

	wait := page.WaitNavigation(lifecycleEvent(waitUntil))
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()

	status := 0
	select {
	case status = <-statusCh:
	default:
	}
	return p.navResult(ctx, status)
}

func (p *rodPage) navResult(ctx context.Context, status int) (*NavigationResult, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	return &NavigationResult{URL: info.URL, Title: info.Title, StatusCode: status}, nil
}

func (p *rodPage) Back(ctx context.Context) (*NavigationResult, error) {
	return p.historyStep(ctx, -1)
}

func (p *rodPage) Forward(ctx context.Context) (*NavigationResult, error) {
	return p.historyStep(ctx, +1)
}

func (p *rodPage) historyStep(ctx context.Context, delta int) (*NavigationResult, error) {
	page := p.ctx(ctx)
	hist, err := proto.PageGetNavigationHistory{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("navigation history: %w", err)
	}
	target := hist.CurrentIndex + delta
	if target < 0 || target >= len(hist.Entries) {
		return nil, types.ErrNoHistory
	}
	wait := page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	err = proto.PageNavigateToHistoryEntry{EntryID: hist.Entries[target].ID}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("history entry: %w", err)
	}
	wait()
	return p.navResult(ctx, 0)
}

func (p *rodPage) Reload(ctx context.Context, waitUntil string) (*NavigationResult, error) {
	page := p.ctx(ctx)
	wait := page.WaitNavigation(lifecycleEvent(waitUntil))
	if err := page.Reload(); err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	wait()
	return p.navResult(ctx, 0)
}

func (p *rodPage) HistoryLength(ctx context.Context) (int, error) {
	hist, err := proto.PageGetNavigationHistory{}.Call(p.ctx(ctx))
	if err != nil {
		return 0, err
	}
	return len(hist.Entries), nil
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int, scale float64) error {
	if scale <= 0 {
		scale = 1
	}
	return p.ctx(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
	})
}

func (p *rodPage) Click(ctx context.Context, selector, button string, clicks int) error {
	el, err := p.ctx(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll into view %q: %w", selector, err)
	}
	if clicks <= 0 {
		clicks = 1
	}
	return el.Click(mouseButton(button), clicks)
}

func (p *rodPage) Type(ctx context.Context, selector, text string, delay time.Duration, clearFirst bool) error {
	page := p.ctx(ctx)
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %q: %w", selector, err)
	}
	if clearFirst {
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
	}
	if delay <= 0 {
		return el.Input(text)
	}
	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return fmt.Errorf("insert text: %w", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ScrollBy scrolls the window. Smooth scrolling eases over the duration in
// small steps so the motion resembles a wheel gesture.
func (p *rodPage) ScrollBy(ctx context.Context, dx, dy float64, smooth bool, duration time.Duration) error {
	page := p.ctx(ctx)
	if !smooth || duration <= 0 {
		_, err := page.Evaluate(rod.Eval(`(x, y) => window.scrollBy(x, y)`, dx, dy))
		return err
	}

	const steps = 24
	interval := duration / steps
	// Ease-in-out: slow start, fast middle, slow end.
	prev := 0.0
	for i := 1; i <= steps; i++ {
		t := float64(i) / steps
		eased := t * t * (3 - 2*t)
		stepX := dx * (eased - prev)
		stepY := dy * (eased - prev)
		prev = eased
		if _, err := page.Evaluate(rod.Eval(`(x, y) => window.scrollBy(x, y)`, stepX, stepY)); err != nil {
			return err
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *rodPage) ScrollIntoView(ctx context.Context, selector string) error {
	el, err := p.ctx(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	return el.ScrollIntoView()
}

func (p *rodPage) WaitSelector(ctx context.Context, selector string, visible, hidden bool) error {
	page := p.ctx(ctx)
	if hidden {
		el, err := page.Element(selector)
		if err != nil {
			// Absent counts as hidden.
			return nil
		}
		return el.WaitInvisible()
	}
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	if visible {
		return el.WaitVisible()
	}
	return nil
}

func (p *rodPage) WaitNavigation(ctx context.Context, waitUntil string) error {
	wait := p.ctx(ctx).WaitNavigation(lifecycleEvent(waitUntil))
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *rodPage) WaitFunction(ctx context.Context, js string, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	page := p.ctx(ctx)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		obj, err := page.Evaluate(rod.Eval(js))
		if err == nil && truthy(obj.Value) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for function", types.ErrActionTimeout)
		}
	}
}

func (p *rodPage) WaitLoad(ctx context.Context, state string) error {
	page := p.ctx(ctx)
	switch state {
	case types.WaitUntilDOMContentLoaded:
		return page.WaitDOMStable(300*time.Millisecond, 0)
	default:
		return page.WaitLoad()
	}
}

func (p *rodPage) WaitNetworkIdle(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	wait := p.ctx(ctx).WaitRequestIdle(idle, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	obj, err := p.ctx(ctx).Evaluate(rod.Eval(js, args...))
	if err != nil {
		return gson.New(nil), fmt.Errorf("evaluate: %w", err)
	}
	return obj.Value, nil
}

func (p *rodPage) EvalHandle(ctx context.Context, js string) (string, error) {
	obj, err := p.ctx(ctx).Evaluate(rod.Eval(js).ByObject())
	if err != nil {
		return "", fmt.Errorf("evaluate handle: %w", err)
	}
	return string(obj.ObjectID), nil
}

func (p *rodPage) ReleaseHandle(ctx context.Context, handleID string) error {
	return proto.RuntimeReleaseObject{ObjectID: proto.RuntimeRemoteObjectID(handleID)}.Call(p.ctx(ctx))
}

func (p *rodPage) AddScript(ctx context.Context, js string) error {
	_, err := p.ctx(ctx).Evaluate(rod.Eval(js))
	if err != nil {
		return fmt.Errorf("inject script: %w", err)
	}
	return nil
}

const addStyleJS = `(css) => {
	const style = document.createElement('style');
	style.textContent = css;
	document.head.appendChild(style);
}`

func (p *rodPage) AddStyle(ctx context.Context, css string) error {
	_, err := p.ctx(ctx).Evaluate(rod.Eval(addStyleJS, css))
	if err != nil {
		return fmt.Errorf("inject css: %w", err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	page := p.ctx(ctx)
	req := &proto.PageCaptureScreenshot{Format: screenshotFormat(opts.Format)}
	if opts.Quality > 0 && req.Format != proto.PageCaptureScreenshotFormatPng {
		q := opts.Quality
		req.Quality = &q
	}

	if opts.Selector != "" {
		el, err := page.Element(opts.Selector)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", opts.Selector, err)
		}
		if err := el.ScrollIntoView(); err != nil {
			return nil, err
		}
		shape, err := el.Shape()
		if err != nil {
			return nil, fmt.Errorf("element shape: %w", err)
		}
		box := shape.Box()
		req.Clip = &proto.PageViewport{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height, Scale: 1}
	} else if opts.Clip != nil {
		req.Clip = &proto.PageViewport{
			X: opts.Clip.X, Y: opts.Clip.Y,
			Width: opts.Clip.Width, Height: opts.Clip.Height,
			Scale: 1,
		}
	}

	return page.Screenshot(opts.FullPage, req)
}

func (p *rodPage) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	req := &proto.PagePrintToPDF{
		Landscape:       opts.Landscape,
		PrintBackground: opts.PrintBackground,
		PageRanges:      opts.PageRanges,
	}
	if opts.Scale > 0 {
		s := opts.Scale
		req.Scale = &s
	}
	if w, h, ok := paperSize(opts.Format, opts.Landscape); ok {
		req.PaperWidth = &w
		req.PaperHeight = &h
	}
	if opts.Margin != nil {
		if v, ok := cssLengthInches(opts.Margin.Top); ok {
			req.MarginTop = &v
		}
		if v, ok := cssLengthInches(opts.Margin.Bottom); ok {
			req.MarginBottom = &v
		}
		if v, ok := cssLengthInches(opts.Margin.Left); ok {
			req.MarginLeft = &v
		}
		if v, ok := cssLengthInches(opts.Margin.Right); ok {
			req.MarginRight = &v
		}
	}
	if opts.HeaderTemplate != "" || opts.FooterTemplate != "" {
		req.DisplayHeaderFooter = true
		req.HeaderTemplate = opts.HeaderTemplate
		req.FooterTemplate = opts.FooterTemplate
	}

	r, err := p.ctx(ctx).PDF(req)
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	return io.ReadAll(r)
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.ctx(ctx).HTML()
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	raw, err := p.ctx(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			param.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, param)
	}
	return p.ctx(ctx).SetCookies(params)
}

func (p *rodPage) ClearCookies(ctx context.Context) error {
	return proto.NetworkClearBrowserCookies{}.Call(p.ctx(ctx))
}

func (p *rodPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	el, err := p.ctx(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	return el.SetFiles(paths)
}

func (p *rodPage) SetDownloadDir(ctx context.Context, dir string) error {
	return proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}.Call(p.ctx(ctx))
}

func (p *rodPage) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	cleanups := p.cleanups
	p.cleanups = nil
	p.mu.Unlock()
	for _, fn := range cleanups {
		fn()
	}
	return p.page.Close()
}

// permissionTypes maps the API permission names to CDP permission types.
var permissionTypes = map[string]proto.BrowserPermissionType{
	"geolocation":         proto.BrowserPermissionTypeGeolocation,
	"notifications":       proto.BrowserPermissionTypeNotifications,
	"camera":              proto.BrowserPermissionTypeVideoCapture,
	"microphone":          proto.BrowserPermissionTypeAudioCapture,
	"clipboard-read":      proto.BrowserPermissionTypeClipboardReadWrite,
	"clipboard-write":     proto.BrowserPermissionTypeClipboardSanitizedWrite,
	"midi":                proto.BrowserPermissionTypeMidi,
	"background-sync":     proto.BrowserPermissionTypeBackgroundSync,
	"payment-handler":     proto.BrowserPermissionTypePaymentHandler,
	"persistent-storage":  proto.BrowserPermissionTypeDurableStorage,
	"idle-detection":      proto.BrowserPermissionTypeIdleDetection,
	"wake-lock-screen":    proto.BrowserPermissionTypeWakeLockScreen,
}

func lifecycleEvent(waitUntil string) proto.PageLifecycleEventName {
	switch waitUntil {
	case types.WaitUntilDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case types.WaitUntilNetworkIdle0:
		return proto.PageLifecycleEventNameNetworkIdle
	case types.WaitUntilNetworkIdle2:
		return proto.PageLifecycleEventNameNetworkAlmostIdle
	default:
		return proto.PageLifecycleEventNameLoad
	}
}

func mouseButton(name string) proto.InputMouseButton {
	switch name {
	case "right":
		return proto.InputMouseButtonRight
	case "middle":
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

func screenshotFormat(name string) proto.PageCaptureScreenshotFormat {
	switch name {
	case "jpeg", "jpg":
		return proto.PageCaptureScreenshotFormatJpeg
	case "webp":
		return proto.PageCaptureScreenshotFormatWebp
	default:
		return proto.PageCaptureScreenshotFormatPng
	}
}

// paperSize returns width and height in inches for a named paper format.
func paperSize(format string, landscape bool) (w, h float64, ok bool) {
	switch strings.ToLower(format) {
	case "letter":
		w, h = 8.5, 11
	case "legal":
		w, h = 8.5, 14
	case "tabloid":
		w, h = 11, 17
	case "ledger":
		w, h = 17, 11
	case "a0":
		w, h = 33.1, 46.8
	case "a1":
		w, h = 23.4, 33.1
	case "a2":
		w, h = 16.54, 23.4
	case "a3":
		w, h = 11.7, 16.54
	case "a4":
		w, h = 8.27, 11.7
	case "a5":
		w, h = 5.83, 8.27
	case "a6":
		w, h = 4.13, 5.83
	default:
		return 0, 0, false
	}
	if landscape {
		w, h = h, w
	}
	return w, h, true
}

// cssLengthInches parses a CSS length (px, in, cm, mm, or a bare number of
// inches) into inches for the CDP print API.
func cssLengthInches(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	unit := ""
	num := s
	for _, u := range []string{"px", "in", "cm", "mm"} {
		if strings.HasSuffix(s, u) {
			unit = u
			num = strings.TrimSuffix(s, u)
			break
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false
	}
	switch unit {
	case "px":
		return v / 96, true
	case "cm":
		return v / 2.54, true
	case "mm":
		return v / 25.4, true
	default:
		return v, true
	}
}

func truthy(v gson.JSON) bool {
	switch val := v.Val().(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}
