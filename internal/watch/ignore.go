package watch

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnore is always skipped.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"*.swp",
	"*~",
}

type ignoreSet struct {
	patterns []string
	prefixes []string
}

func newIgnoreSet(patterns []string, absolute ...string) *ignoreSet {
	set := &ignoreSet{}
	for _, p := range append(append([]string{}, DefaultIgnore...), patterns...) {
		p = strings.TrimSpace(p)
		if p != "" {
			set.patterns = append(set.patterns, filepath.ToSlash(p))
		}
	}

	for _, a := range absolute {
		if a != "" {
			set.prefixes = append(set.prefixes, filepath.Clean(a))
		}
	}

	return set
}

// match reports whether fullPath should not trigger rebuilds.
func (s *ignoreSet) match(fullPath string) bool {
	clean := filepath.Clean(fullPath)
	for _, prefix := range s.prefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return true
		}
	}

	name := filepath.Base(clean)
	normalized := filepath.ToSlash(clean)

	for _, pattern := range s.patterns {
		if name == pattern {
			return true
		}

		if strings.ContainsAny(pattern, "*?[") {
			target := name
			if strings.Contains(pattern, "/") {
				target = normalized
			}
			if matched, _ := path.Match(pattern, target); matched {
				return true
			}
			continue
		}

		if containsSegments(normalized, pattern) {
			return true
		}
	}

	return false
}

func containsSegments(p, pattern string) bool {
	pathParts := splitSegments(p)
	patternParts := splitSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitSegments(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}
