package action

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// extractionExecutor handles screenshot, pdf, getContent, getCookies,
// getTitle, and getUrl. Binary captures come back base64-encoded.
type extractionExecutor struct{}

func (extractionExecutor) Execute(ctx context.Context, _ *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)

	switch act.Kind {
	case types.ActionScreenshot:
		format := strings.ToLower(act.Format)
		if format == "" {
			format = "png"
		}
		opts := browser.ScreenshotOptions{
			Format:   format,
			Quality:  act.Quality,
			FullPage: act.FullPage,
			Clip:     act.Clip,
			Selector: act.Selector,
		}
		data, err := page.Screenshot(ctx, opts)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = base64.StdEncoding.EncodeToString(data)
		res.Meta("format", format)
		res.Meta("size", len(data))
		res.Meta("encoding", "base64")

	case types.ActionPDF:
		opts := browser.PDFOptions{
			Format:          strings.ToLower(act.Format),
			Landscape:       act.Landscape,
			Scale:           act.Scale,
			Margin:          act.Margin,
			PageRanges:      act.PageRanges,
			HeaderTemplate:  act.HeaderTemplate,
			FooterTemplate:  act.FooterTemplate,
			PrintBackground: act.PrintBackground,
		}
		data, err := page.PDF(ctx, opts)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = base64.StdEncoding.EncodeToString(data)
		res.Meta("format", opts.Format)
		res.Meta("size", len(data))
		res.Meta("encoding", "base64")

	case types.ActionGetContent:
		html, err := page.HTML(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = html
		res.Meta("size", len(html))

	case types.ActionGetCookies:
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = cookies
		res.Meta("count", len(cookies))

	case types.ActionGetTitle:
		title, err := page.Title(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = title

	case types.ActionGetURL:
		url, err := page.URL(ctx)
		if err != nil {
			return res.Fail(types.KindExecutionFailed, err), err
		}
		res.Data = url
	}
	return res, nil
}
