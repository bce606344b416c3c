package backup

import (
	"path"
	"strings"
)

// ExclusionSet decides which paths are left out of a scan. Each pattern is
// matched against every segment of a relative path. Patterns containing glob
// metacharacters use path.Match; plain patterns match a segment that equals
// or contains them. A pattern with a slash is matched against the whole
// relative path instead.
type ExclusionSet struct {
	patterns []string
}

// NewExclusionSet builds a set from config patterns, skipping blanks
func NewExclusionSet(patterns []string) *ExclusionSet {
	set := &ExclusionSet{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, "/")
		if p != "" {
			set.patterns = append(set.patterns, p)
		}
	}
	return set
}

// Patterns returns the normalized patterns
func (s *ExclusionSet) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// Excluded reports whether the slash separated relative path is excluded
func (s *ExclusionSet) Excluded(rel string) bool {
	if s == nil || len(s.patterns) == 0 || rel == "" || rel == "." {
		return false
	}

	segments := strings.Split(rel, "/")
	for _, pattern := range s.patterns {
		if strings.Contains(pattern, "/") {
			if matchPathPrefix(pattern, segments) {
				return true
			}
			continue
		}
		for _, seg := range segments {
			if matchSegment(pattern, seg) {
				return true
			}
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}

func matchSegment(pattern, segment string) bool {
	if hasMeta(pattern) {
		ok, err := path.Match(pattern, segment)
		return err == nil && ok
	}
	return strings.Contains(segment, pattern)
}

// matchPathPrefix matches multi-segment patterns such as "var/cache" against
// every leading portion of the path, so the subtree below is excluded too.
func matchPathPrefix(pattern string, segments []string) bool {
	depth := strings.Count(pattern, "/") + 1
	if depth > len(segments) {
		return false
	}
	for start := 0; start+depth <= len(segments); start++ {
		candidate := strings.Join(segments[start:start+depth], "/")
		if hasMeta(pattern) {
			if ok, err := path.Match(pattern, candidate); err == nil && ok {
				return true
			}
		} else if candidate == pattern {
			return true
		}
	}
	return false
}
