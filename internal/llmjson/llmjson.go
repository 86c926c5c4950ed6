// Package llmjson decodes JSON out of LLM responses. Models wrap output in
// markdown fences, prepend prose, or drop quotes around keys often enough
// that a strict json.Unmarshal on the raw text fails regularly; Decode
// applies the known repairs before giving up.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses the JSON value in an LLM response into v.
// It tries, in order: the fence-stripped text as-is, the outermost JSON
// object or array embedded in it, and finally a quote-repaired version.
func Decode(text string, v any) error {
	cleaned := StripFences(text)
	if cleaned == "" {
		return fmt.Errorf("empty response")
	}

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	if extracted, ok := extractJSON(cleaned); ok {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
		cleaned = extracted
	}

	repaired := repairKeys(cleaned)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("parsing LLM response: %w (raw: %q)", err, Truncate(text, 200))
	}
	return nil
}

// StripFences removes ```json ... ``` wrapping from LLM output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// extractJSON returns the outermost {...} or [...] span in s, for responses
// where the model wrapped the JSON in prose.
func extractJSON(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start {
			return s[start : end+1], true
		}
	}
	return "", false
}

// repairKeys inserts the opening quote models sometimes drop from object
// keys, turning `, score": 1` into `, "score": 1`.
func repairKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		b.WriteRune(ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}

		for i < len(runes) && (runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t') {
			b.WriteRune(runes[i])
			i++
		}
		if i >= len(runes) || runes[i] == '"' || !isKeyRune(runes[i]) {
			continue
		}

		start := i
		for i < len(runes) && isKeyRune(runes[i]) {
			i++
		}
		// Only a missing opening quote looks like `key":`.
		if i+1 < len(runes) && runes[i] == '"' && runes[i+1] == ':' {
			b.WriteRune('"')
		}
		b.WriteString(string(runes[start:i]))
	}
	return b.String()
}

func isKeyRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Truncate shortens s to at most n bytes for logging.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
