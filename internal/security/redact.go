package security

import (
	"net/url"
	"strings"
)

// RedactURL strips secrets from a URL before it reaches a log line: userinfo
// credentials and any query parameter whose name looks secret-bearing. An
// unparseable URL is replaced wholesale rather than logged raw.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}
	return parsed.String()
}

// Query parameter name fragments that mark a value as a secret. Substring
// match, case-insensitive, so api_key, x-api-key, and apiKeyId all trip.
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"authorization",
	"bearer",
	"credential",
	"key",
	"access_token",
	"refresh_token",
	"session",
	"sessionid",
	"sid",
	"private",
}

func redactQueryParams(params url.Values) url.Values {
	redacted := make(url.Values)
	for key, values := range params {
		keyLower := strings.ToLower(key)
		secret := false
		for _, pattern := range sensitiveParamPatterns {
			if strings.Contains(keyLower, pattern) {
				secret = true
				break
			}
		}
		if secret {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}
	return redacted
}

// RedactProxyURL hides the proxy password while keeping the username, which
// operators need to tell pool entries apart in logs.
func RedactProxyURL(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "[REDACTED]")
		}
	}
	return parsed.String()
}
