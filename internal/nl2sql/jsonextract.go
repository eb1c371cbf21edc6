package nl2sql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON parses one JSON object out of free-form model output.
// It strips a surrounding markdown code fence first, then tries a direct
// parse, then falls back to the first top-level {...} span. Shared by the
// detector and the intent parser so both tolerate the same response shapes.
func extractJSON(response string, dst any) error {
	cleaned := strings.TrimSpace(response)

	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		start := 0
		if strings.HasPrefix(lines[0], "```") {
			start = 1
		}
		end := len(lines)
		if end > start && strings.TrimSpace(lines[end-1]) == "```" {
			end--
		}
		cleaned = strings.Join(lines[start:end], "\n")
	}

	if err := json.Unmarshal([]byte(cleaned), dst); err == nil {
		return nil
	}

	match := jsonObjectPattern.FindString(cleaned)
	if match == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(match), dst); err != nil {
		return fmt.Errorf("parse extracted JSON: %w", err)
	}
	return nil
}
