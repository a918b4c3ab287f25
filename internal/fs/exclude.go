package fs

import (
	"path/filepath"
	"strings"
)

// excludePattern is a parsed exclude pattern with its matching strategy.
type excludePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// ExcludeMatcher decides which entries of a snapshot tree are left out of an
// export. Patterns without '/' match the basename; patterns with '/' match the
// slash-separated path relative to the snapshot root.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher builds a matcher from raw patterns, skipping blank lines
// and comments.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:   strings.TrimPrefix(raw, "/"),
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Len returns the number of active patterns.
func (m *ExcludeMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match reports whether relativePath is excluded. A nil matcher excludes nothing.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	if m.Len() == 0 {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		subject := basename
		if p.matchPath {
			subject = normalized
		}
		// filepath.Match only fails on malformed patterns; treat those as non-matching.
		if matched, err := filepath.Match(p.pattern, subject); err == nil && matched {
			return true
		}
	}
	return false
}
