package llm

import (
	"encoding/json"
	"strings"
)

// Validatable is implemented by typed completion results; Validate rejects
// responses that parsed but do not meet the expected schema.
type Validatable interface {
	Validate() error
}

const jsonInstruction = "Respond ONLY with valid JSON. No markdown, no explanation."

// ExtractJSON returns the JSON object carried by a completion. Markdown
// fences are stripped; if the text still is not valid JSON, the outermost
// {...} span is tried.
func ExtractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		s = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if json.Valid([]byte(s)) {
		return s, true
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}
