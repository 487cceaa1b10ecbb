// Package pattern implements the glob-like matching used to route tasks to
// workers and rate limits.
package pattern

import "strings"

// Match reports whether value matches pattern. Rules, in order: "*" matches
// everything; exact equality matches; a pattern of the form "prefix.*"
// matches the prefix itself or any value extending it by a further dot
// segment. No other wildcard forms are supported. Match is pure and total.
func Match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if value == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return value == prefix || strings.HasPrefix(value, prefix+".")
	}
	return false
}

// MatchAny reports whether value matches any of the given patterns.
func MatchAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if Match(value, p) {
			return true
		}
	}
	return false
}
