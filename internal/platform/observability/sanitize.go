package observability

import (
	"strings"
	"unicode"
)

// sanitizeString strips control characters and truncates to limit runes so request
// supplied values cannot forge log lines.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds route patterns used as log fields and metric labels.
func SanitizeRoute(route string) string {
	if route = sanitizeString(route, 160); route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod bounds HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizePrincipal bounds caller identifiers.
func SanitizePrincipal(subject string) string {
	return sanitizeString(subject, 64)
}
