// Package routing ranks assignment rules for a lead by ZIP specificity,
// geographic radius and priority, and rotates among rules that tie.
package routing

import "strings"

// MatchResult is the outcome of matching a ZIP against a rule's patterns.
type MatchResult struct {
	Matched     bool
	MatchLength int
}

// MatchZipPattern scores zip against patterns. An exact match scores len(zip);
// a pattern that is a strict prefix of zip scores len(pattern). The longest
// match across all patterns wins.
func MatchZipPattern(zip string, patterns []string) MatchResult {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return MatchResult{}
	}

	best := MatchResult{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" || len(pattern) > len(zip) {
			continue
		}
		if !strings.HasPrefix(zip, pattern) {
			continue
		}
		if len(pattern) > best.MatchLength {
			best = MatchResult{Matched: true, MatchLength: len(pattern)}
		}
	}
	return best
}

// zip5 returns the five-digit base of a ZIP or ZIP+4.
func zip5(zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) > 5 {
		return zip[:5]
	}
	return zip
}
