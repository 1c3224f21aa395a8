package triage

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	attributionRegex = regexp.MustCompile(`(?i)^On .+ wrote:\s*$`)
	forwardedRegex   = regexp.MustCompile(`(?i)^-+\s*(Original Message|Forwarded message)\s*-+`)
	requestRegex     = regexp.MustCompile(`(?i)^(please|can you|could you|would you|kindly|let me know)\b`)
)

// BuildDigest condenses a message body for the drafting agent. Quoted
// reply chains are stripped first; when the remainder still exceeds the
// budget, lines carrying questions or requests are kept ahead of the rest
// so the agent sees what the sender actually wants.
func BuildDigest(body string, budget int) string {
	stripped := stripQuotedReplies(body)
	if len(stripped) <= budget {
		return stripped
	}

	lines := strings.Split(stripped, "\n")

	var prioritized []string
	var remainder []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.Contains(trimmed, "?") || requestRegex.MatchString(trimmed) {
			prioritized = append(prioritized, trimmed)
		} else {
			remainder = append(remainder, trimmed)
		}
	}

	var builder strings.Builder
	appendWithinBudget := func(line string) bool {
		needed := len(line)
		if builder.Len() > 0 {
			needed++
		}
		if builder.Len()+needed > budget {
			return false
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(line)
		return true
	}

	for _, line := range prioritized {
		if !appendWithinBudget(line) {
			return builder.String()
		}
	}
	for _, line := range remainder {
		if !appendWithinBudget(line) {
			break
		}
	}

	if builder.Len() == 0 {
		// a single oversized line, hard cut on a rune boundary
		return cutAtRuneBoundary(stripped, budget)
	}
	return builder.String()
}

// cutAtRuneBoundary truncates to at most max bytes without splitting a
// multi-byte character.
func cutAtRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// stripQuotedReplies drops ">"-quoted lines and everything from the first
// reply attribution or forwarded-message marker onward.
func stripQuotedReplies(body string) string {
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if attributionRegex.MatchString(trimmed) || forwardedRegex.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
