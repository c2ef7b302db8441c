package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString strips control characters and caps the length so attacker
// supplied values cannot inject extra log lines. Newlines and tabs survive
// because zap escapes them itself.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	var b strings.Builder
	b.Grow(min(len(value), limit))
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		switch {
		case r == '\n', r == '\r', r == '\t':
		case unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute cleans a request path before it is attached to log entries.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID truncates Firebase UIDs before logging them.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
