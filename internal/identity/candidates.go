package identity

import (
	"net/url"
	"strings"
)

// Candidates derives the ordered lookup keys for a symbolic name, from most
// specific to least. A name that does not parse as a hierarchical identifier
// with an authority is returned as-is. Otherwise the query component is
// stripped first, then each proper ancestor path is appended, ending at the
// bare scheme://authority form:
//
//	https://example.com/a/b?q=1 -> [https://example.com/a/b,
//	                                https://example.com/a,
//	                                https://example.com]
//
// The walk stops as soon as a parent cannot be computed, stops shrinking, or
// is no longer a prefix of the stripped name.
func Candidates(name string) []string {
	u, err := url.Parse(name)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []string{name}
	}

	stripped, _, _ := strings.Cut(name, "?")
	out := []string{stripped}

	prev := stripped
	for {
		parent := parentOf(prev, authorityEnd(stripped))
		if parent == "" || len(parent) >= len(prev) || !strings.HasPrefix(stripped, parent) {
			return out
		}
		out = append(out, parent)
		prev = parent
	}
}

// authorityEnd returns the index just past the scheme://authority portion.
func authorityEnd(s string) int {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return len(s)
	}
	rest := s[idx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return len(s)
	}
	return idx + 3 + slash
}

// parentOf drops the last path segment, never descending below the
// authority. Trailing slashes do not count as segments, and ancestors are
// produced without them so an ancestor key matches a preference stored for
// the plain authority form.
func parentOf(s string, authorityEnd int) string {
	trimmed := strings.TrimRight(s, "/")
	if len(trimmed) <= authorityEnd {
		return ""
	}
	idx := strings.LastIndexByte(trimmed[authorityEnd:], '/')
	if idx <= 0 {
		return trimmed[:authorityEnd]
	}
	// Repeated slashes would leave a trailing one on the ancestor; a doubled
	// segment separator still parents to the authority, not to "authority/".
	parent := strings.TrimRight(trimmed[:authorityEnd+idx], "/")
	if len(parent) <= authorityEnd {
		return trimmed[:authorityEnd]
	}
	return parent
}
