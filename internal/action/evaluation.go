package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// maxResultBytes caps serialized evaluation results; larger values are
// truncated with a metadata flag.
const maxResultBytes = 100 * 1024

// evaluationExecutor handles evaluate, evaluateHandle, injectScript, and
// injectCSS. Security screening runs again here so the executor stays safe
// even when a caller skips the validator chain.
type evaluationExecutor struct{}

func (evaluationExecutor) Execute(ctx context.Context, env *Env, page browser.Page, act *types.Action) (*types.ActionResult, error) {
	start := time.Now()
	res := types.NewResult(act.Kind, start)

	if err := screen(act); err != nil {
		return res.Fail(types.KindSecurityViolation, err), err
	}

	switch act.Kind {
	case types.ActionEvaluate:
		args := make([]any, 0, len(act.Args))
		for _, raw := range act.Args {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				wrapped := fmt.Errorf("argument is not JSON-serializable: %w", err)
				return res.Fail(types.KindInvalidInput, wrapped), wrapped
			}
			args = append(args, v)
		}
		value, err := page.Eval(ctx, evalCode(act), args...)
		if err != nil {
			return res.Fail(types.KindEvaluationFailed, err), err
		}
		res.Data = truncateResult(value.Val(), res)

	case types.ActionEvaluateHandle:
		handleID, err := page.EvalHandle(ctx, evalCode(act))
		if err != nil {
			return res.Fail(types.KindEvaluationFailed, err), err
		}
		if env.Handles != nil {
			env.Handles.Track(env.SessionID, handleID, env.PageID)
		}
		res.Data = map[string]any{"handleId": handleID}

	case types.ActionInjectScript:
		if err := page.AddScript(ctx, evalCode(act)); err != nil {
			return res.Fail(types.KindEvaluationFailed, err), err
		}
		res.Data = map[string]any{"injected": "script"}

	case types.ActionInjectCSS:
		if err := page.AddStyle(ctx, act.Code); err != nil {
			return res.Fail(types.KindEvaluationFailed, err), err
		}
		res.Data = map[string]any{"injected": "style"}
	}
	return res, nil
}

func screen(act *types.Action) error {
	var vr *ValidationResult
	if act.Kind == types.ActionInjectCSS {
		vr = CheckCSS(act.Code)
	} else {
		vr = CheckJS(evalCode(act))
	}
	if !vr.Valid() {
		return fmt.Errorf("%w: %s", types.ErrSecurityViolation, vr.Errors[0])
	}
	return nil
}

// truncateResult bounds the serialized result size. Oversized values come
// back as a truncated JSON string with the truncated flag set.
func truncateResult(value any, res *types.ActionResult) any {
	encoded, err := json.Marshal(value)
	if err != nil {
		res.Meta("serializable", false)
		return fmt.Sprintf("%v", value)
	}
	if len(encoded) <= maxResultBytes {
		return value
	}
	res.Meta("truncated", true)
	res.Meta("originalSize", len(encoded))
	return string(encoded[:maxResultBytes])
}
