package action

import (
	"context"
	"errors"
	"strings"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Classify maps a raw executor error to an error kind by matching lowercased
// substrings in order. Sentinel errors take precedence over message matching.
func Classify(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, types.ErrSecurityViolation):
		return types.KindSecurityViolation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrActionTimeout):
		return types.KindTimeout
	case errors.Is(err, types.ErrBrowserGone), errors.Is(err, types.ErrPageNotFound):
		return types.KindPageGone
	case errors.Is(err, types.ErrUnknownAction), errors.Is(err, types.ErrValidationFailed):
		return types.KindInvalidInput
	case errors.Is(err, types.ErrDownloadIncomplete):
		return types.KindFileFailed
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.kind
			}
		}
	}
	return types.KindExecutionFailed
}

// Rules are ordered: the first matching needle wins, so "navigation timeout"
// classifies as Timeout, not NavigationFailed.
var classifyRules = []struct {
	needles []string
	kind    types.ErrorKind
}{
	{[]string{"timeout", "timed out", "deadline exceeded"}, types.KindTimeout},
	{[]string{"element not found", "no such element", "cannot find element"}, types.KindElementNotFound},
	{[]string{"navigation failed", "navigating frame was detached", "net::err"}, types.KindNavigationFailed},
	{[]string{"page closed", "page has been closed", "target closed", "crashed", "session closed"}, types.KindPageGone},
	{[]string{"evaluation", "evaluate"}, types.KindEvaluationFailed},
	{[]string{"file", "upload", "download"}, types.KindFileFailed},
	{[]string{"click", "type", "interact"}, types.KindInteractionFailed},
}

// Substrings that mark an error terminal regardless of its kind.
var nonRetryableNeedles = []string{
	"page closed",
	"page has been closed",
	"browser closed",
	"browser has been closed",
	"session closed",
	"target closed",
	"invalid selector",
	"invalid argument",
	"security",
	"permission denied",
	"not supported",
}

// Substrings that mark an error transient.
var retryableNeedles = []string{
	"timeout",
	"timed out",
	"network",
	"connection refused",
	"element not found",
	"element not visible",
	"element is not visible",
	"not interactable",
	"navigation failed",
}

// Retryable reports whether the error is worth another attempt. Security
// violations never retry; otherwise the non-retryable list wins over the
// retryable list, and unknown errors default to retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrSecurityViolation) {
		return false
	}
	if errors.Is(err, types.ErrUnknownAction) || errors.Is(err, types.ErrValidationFailed) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range nonRetryableNeedles {
		if strings.Contains(msg, needle) {
			return false
		}
	}
	for _, needle := range retryableNeedles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return true
}
