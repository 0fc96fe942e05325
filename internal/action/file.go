package action

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

const downloadPollInterval = 250 * time.Millisecond

// fileExecutor handles upload, download, and cookie batch operations. Upload
// paths must stay inside the session sandbox; downloads land in a per-context
// sandbox under the configured download root.
type fileExecutor struct{}

func (fileExecutor) Execute(ctx context.Context, env *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)

	switch act.Kind {
	case types.ActionUpload:
		return upload(ctx, env, page, act, res)
	case types.ActionDownload:
		return download(ctx, env, page, act, res)
	case types.ActionCookie:
		return cookieOp(ctx, page, act, res)
	}
	return res, nil
}

func upload(ctx context.Context, env *Env, page browser.Page, act *types.Action, res *types.ActionResult) (*types.ActionResult, error) {
	if act.Selector == "" {
		err := fmt.Errorf("upload requires a selector")
		return res.Fail(types.KindInvalidInput, err), err
	}
	if len(act.Files) == 0 {
		err := fmt.Errorf("upload requires at least one file")
		return res.Fail(types.KindInvalidInput, err), err
	}

	sandbox := filepath.Join(env.DownloadDir, sanitizeName(env.SessionID))
	resolved := make([]string, 0, len(act.Files))
	for _, f := range act.Files {
		p, err := resolveInSandbox(sandbox, f)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", types.ErrSecurityViolation, err)
			return res.Fail(types.KindSecurityViolation, wrapped), wrapped
		}
		resolved = append(resolved, p)
	}

	if err := page.SetFiles(ctx, act.Selector, resolved); err != nil {
		return res.Fail(types.KindFileFailed, err), err
	}
	res.Data = map[string]any{"uploaded": len(resolved)}
	res.Meta("selector", act.Selector)
	return res, nil
}

// download routes browser downloads into the context sandbox, navigates to
// the URL, and optionally polls until a new file shows up.
func download(ctx context.Context, env *Env, page browser.Page, act *types.Action, res *types.ActionResult) (*types.ActionResult, error) {
	if act.URL == "" {
		err := fmt.Errorf("download requires a url")
		return res.Fail(types.KindInvalidInput, err), err
	}

	sandbox := filepath.Join(env.DownloadDir, sanitizeName(env.ContextID))
	if err := os.MkdirAll(sandbox, 0o750); err != nil {
		return res.Fail(types.KindFileFailed, err), err
	}
	if err := page.SetDownloadDir(ctx, sandbox); err != nil {
		return res.Fail(types.KindFileFailed, err), err
	}

	before, err := listFiles(sandbox)
	if err != nil {
		return res.Fail(types.KindFileFailed, err), err
	}

	// Download navigations often abort once the response is handed to the
	// download manager; that error is expected.
	_, _ = page.Navigate(ctx, act.URL, waitUntilOrDefault(act.WaitUntil))

	if !act.WaitForDownload {
		res.Data = map[string]any{"directory": sandbox}
		return res, nil
	}

	name, size, err := pollForNewFile(ctx, sandbox, before)
	if err != nil {
		return res.Fail(types.KindFileFailed, err), err
	}
	res.Data = map[string]any{"file": name, "size": size, "directory": sandbox}
	return res, nil
}

func cookieOp(ctx context.Context, page browser.Page, act *types.Action, res *types.ActionResult) (*types.ActionResult, error) {
	switch act.CookieOp {
	case "get", "":
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = cookies

	case "set":
		// Cookie domains are clamped to the page's host so a batch cannot
		// plant cookies for unrelated sites.
		cookies := act.Cookies
		if raw, err := page.URL(ctx); err == nil {
			if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
				cookies = make([]types.Cookie, len(act.Cookies))
				copy(cookies, act.Cookies)
				for i := range cookies {
					cookies[i].Domain = security.SanitizeCookieDomain(cookies[i].Domain, parsed.Hostname())
				}
			}
		}
		if err := page.SetCookies(ctx, cookies); err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = map[string]any{"set": len(cookies)}

	case "delete":
		// Deleting a batch: fetch, clear, restore the survivors.
		existing, err := page.Cookies(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		doomed := make(map[string]bool, len(act.Cookies))
		for _, c := range act.Cookies {
			doomed[c.Name] = true
		}
		var keep []types.Cookie
		for _, c := range existing {
			if !doomed[c.Name] {
				keep = append(keep, c)
			}
		}
		if err := page.ClearCookies(ctx); err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		if len(keep) > 0 {
			if err := page.SetCookies(ctx, keep); err != nil {
				return res.Fail(types.KindExecutionFailed, err), err
			}
		}
		res.Data = map[string]any{"deleted": len(existing) - len(keep)}

	case "clear":
		if err := page.ClearCookies(ctx); err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = map[string]any{"cleared": true}

	default:
		err := fmt.Errorf("unknown cookie operation %q", act.CookieOp)
		return res.Fail(types.KindInvalidInput, err), err
	}
	return res, nil
}

// resolveInSandbox joins the path under the sandbox root and rejects
// traversal outside it.
func resolveInSandbox(sandbox, path string) (string, error) {
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		if !strings.HasPrefix(clean, sandbox+string(filepath.Separator)) && clean != sandbox {
			return "", fmt.Errorf("path %q escapes the sandbox", path)
		}
		return clean, nil
	}
	joined := filepath.Clean(filepath.Join(sandbox, path))
	if !strings.HasPrefix(joined, sandbox+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox", path)
	}
	return joined, nil
}

// sanitizeName strips path separators and traversal sequences from an id
// before it becomes a directory component.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "_"
	}
	return name
}

func listFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out, nil
}

// pollForNewFile waits for a file that was not present before the download
// started. Chromium writes in-progress downloads with a .crdownload suffix;
// those do not count as complete.
func pollForNewFile(ctx context.Context, dir string, before map[string]bool) (string, int64, error) {
	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", 0, fmt.Errorf("%w: %v", types.ErrDownloadIncomplete, ctx.Err())
		case <-ticker.C:
			entries, err := os.ReadDir(dir)
			if err != nil {
				return "", 0, err
			}
			for _, e := range entries {
				name := e.Name()
				if before[name] || e.IsDir() || strings.HasSuffix(name, ".crdownload") {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				return name, info.Size(), nil
			}
		}
	}
}
