package security

import (
	"regexp"
	"strings"
)

// Entity ID constraints. Server-minted ids are UUIDs, but ids also arrive in
// URL paths from clients, so anything externally supplied is validated before
// it reaches the store.
const (
	MinEntityIDLength = 8
	MaxEntityIDLength = 64
)

// validEntityIDPattern allows alphanumeric, hyphens, and underscores.
var validEntityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// blockedIDPatterns are substrings rejected in entity ids regardless of
// charset, guarding log output and any backend that treats ids as paths or
// object keys.
var blockedIDPatterns = []string{
	"../",
	"..\\",
	"<script",
	"javascript:",
	"__proto__",
	"constructor",
}

// ValidateEntityID checks a session, context, or page id supplied by a
// client. Returns an error message when invalid, empty string when valid.
func ValidateEntityID(id string) string {
	if id == "" {
		return "id is required"
	}
	if len(id) < MinEntityIDLength {
		return "id too short (min 8 characters)"
	}
	if len(id) > MaxEntityIDLength {
		return "id too long (max 64 characters)"
	}
	if !validEntityIDPattern.MatchString(id) {
		return "id contains invalid characters (use alphanumeric, hyphens, underscores only)"
	}

	idLower := strings.ToLower(id)
	for _, pattern := range blockedIDPatterns {
		if strings.Contains(idLower, pattern) {
			return "id contains blocked pattern"
		}
	}
	return ""
}
