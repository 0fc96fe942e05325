// Package security screens client-supplied input: entity ids, navigation and
// proxy URLs, custom headers, and cookie domains. It also redacts secrets
// from values bound for logs.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// Limits on client-supplied extra headers.
const (
	MaxHeaderCount       = 50
	MaxHeaderNameLength  = 256
	MaxHeaderValueLength = 8192
	// Aggregate cap across all headers, name plus value.
	MaxTotalHeadersSize = 65536
)

// Header validation errors.
var (
	ErrTooManyHeaders      = errors.New("too many headers (maximum 50)")
	ErrHeaderNameTooLong   = errors.New("header name exceeds maximum length of 256 bytes")
	ErrHeaderValueTooLong  = errors.New("header value exceeds maximum length of 8KB")
	ErrTotalHeadersTooLong = errors.New("total headers size exceeds maximum of 64KB")
	ErrHeaderNameEmpty     = errors.New("header name cannot be empty")
	ErrBlockedHeader       = errors.New("header is not allowed for security reasons")
	ErrInvalidHeaderName   = errors.New("header name contains invalid characters")
	ErrInvalidHeaderChar   = errors.New("header value contains invalid characters")
)

// blockedHeaders are names a context may not override: connection control
// belongs to the browser, credential headers would let one tenant impersonate
// another, and origin/referer are set by the page itself.
var blockedHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"content-length":    true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,

	"cookie":              true,
	"authorization":       true,
	"proxy-authorization": true,
	"www-authenticate":    true,
	"proxy-authenticate":  true,

	"origin":  true,
	"referer": true,
}

// blockedHeaderPrefixes cover families owned by the browser, a CDN, or a
// cloud edge.
var blockedHeaderPrefixes = []string{
	"sec-",         // fetch metadata (sec-fetch-*, sec-ch-*)
	"cf-",          // Cloudflare
	"x-forwarded-", // proxies
	"proxy-",
	"x-real-",
	"x-amz-",
	"x-goog-",
}

// ValidateHeaders screens a map of context extra headers against the name
// block-lists, per-entry length limits, and the aggregate size cap.
func ValidateHeaders(headers map[string]string) error {
	if headers == nil {
		return nil
	}
	if len(headers) > MaxHeaderCount {
		return ErrTooManyHeaders
	}

	var totalSize int
	for name, value := range headers {
		if err := validateHeaderName(name); err != nil {
			return fmt.Errorf("invalid header name %q: %w", name, err)
		}
		if err := validateHeaderValue(value); err != nil {
			return fmt.Errorf("invalid value for header %q: %w", name, err)
		}
		// Name + value plus ": " and CRLF on the wire.
		totalSize += len(name) + len(value) + 4
		if totalSize > MaxTotalHeadersSize {
			return ErrTotalHeadersTooLong
		}
	}
	return nil
}

func validateHeaderName(name string) error {
	if name == "" {
		return ErrHeaderNameEmpty
	}
	if len(name) > MaxHeaderNameLength {
		return ErrHeaderNameTooLong
	}
	// Token characters only: printable ASCII, no colon.
	for _, c := range name {
		if c < 33 || c > 126 || c == ':' {
			return ErrInvalidHeaderName
		}
	}

	nameLower := strings.ToLower(name)
	if blockedHeaders[nameLower] {
		return ErrBlockedHeader
	}
	for _, prefix := range blockedHeaderPrefixes {
		if strings.HasPrefix(nameLower, prefix) {
			return ErrBlockedHeader
		}
	}
	return nil
}

// validateHeaderValue accepts printable ASCII only. Stricter than RFC 7230,
// which permits tabs, but control bytes in values are the raw material of
// header injection and no legitimate automation header needs them.
func validateHeaderValue(value string) error {
	if len(value) > MaxHeaderValueLength {
		return ErrHeaderValueTooLong
	}
	for _, c := range value {
		if c < 32 || c >= 127 {
			return ErrInvalidHeaderChar
		}
	}
	return nil
}
