package gate

import (
	"net/http"
	"regexp"
	"strings"
)

var staticAssetPattern = regexp.MustCompile(`(?i)\.(ico|png|jpe?g|gif|css|js|woff2?|ttf|svg)$`)

// OperatorFunc reports whether a request comes from an authenticated operator.
type OperatorFunc func(r *http.Request) bool

// Exemptions decides which requests bypass the gate entirely.
type Exemptions struct {
	// PathPrefixes are administrative paths, e.g. /admin and /api.
	PathPrefixes []string
	// IsOperator may be nil.
	IsOperator OperatorFunc
}

// Exempt reports whether r skips admission.
func (e Exemptions) Exempt(r *http.Request) bool {
	path := r.URL.Path
	for _, prefix := range e.PathPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if isWellKnownPath(path) {
		return true
	}
	return e.IsOperator != nil && e.IsOperator(r)
}

func isWellKnownPath(path string) bool {
	if path == "/favicon.ico" ||
		strings.HasPrefix(path, "/robots.txt") ||
		strings.HasPrefix(path, "/sitemap") {
		return true
	}
	return staticAssetPattern.MatchString(path)
}
