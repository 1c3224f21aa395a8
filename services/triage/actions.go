package triage

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/inboxpilot/mailagent/dto"
)

var jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)

// ParseActionSet decodes the drafting agent's response. The payload is
// untrusted free text: markdown fences are stripped, and when the whole
// response is not valid JSON the first {...} block is tried instead. Any
// unparseable response degrades to the zero ActionSet, which triage
// records as reviewed with no action needed.
func ParseActionSet(response string) dto.ActionSet {
	cleaned := stripMarkdownFences(response)

	var actions dto.ActionSet
	if err := json.Unmarshal([]byte(cleaned), &actions); err == nil {
		return actions
	}

	if block := jsonObjectRegex.FindString(cleaned); block != "" {
		if err := json.Unmarshal([]byte(block), &actions); err == nil {
			return actions
		}
	}

	return dto.ActionSet{}
}

func stripMarkdownFences(response string) string {
	cleaned := strings.TrimSpace(response)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
