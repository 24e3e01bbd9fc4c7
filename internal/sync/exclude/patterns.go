package exclude

import (
	"fmt"
	"path"
	"strings"
)

// Matcher filters relative paths against a rule's exclude patterns
type Matcher struct {
	patterns []string
}

// New builds a matcher from the rule's patterns, skipping blanks
func New(patterns []string) *Matcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	return &Matcher{patterns: cleaned}
}

// Validate reports the first malformed pattern, if any
func Validate(patterns []string) error {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(strings.TrimSuffix(p, "/"), "probe"); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
	}
	return nil
}

// IsExcluded reports whether a slash-separated relative path matches any
// pattern. Patterns match against the full relative path and its basename;
// a trailing slash restricts the pattern to a directory subtree.
func (m *Matcher) IsExcluded(relPath string) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	for _, p := range m.patterns {
		if strings.HasSuffix(p, "/") {
			dirPattern := strings.TrimSuffix(p, "/")
			if relPath == dirPattern || strings.HasPrefix(relPath, dirPattern+"/") {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, path.Base(relPath)); ok {
				return true
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if path.Base(relPath) == p {
			return true
		}
	}
	return false
}
