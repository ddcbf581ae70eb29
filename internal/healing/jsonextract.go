package healing

import "strings"

// extractJSON finds the first balanced JSON object or array in text,
// preferring a ```json fenced block when present. LLM responses routinely
// wrap structured output in prose or markdown fences even when explicitly
// asked for bare JSON.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(text[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(text[start : start+end])
			if len(candidate) > 0 && (candidate[0] == '{' || candidate[0] == '[') {
				return candidate
			}
		}
	}

	for i, ch := range text {
		if ch != '{' && ch != '[' {
			continue
		}
		closing := byte('}')
		if ch == '[' {
			closing = ']'
		}
		depth := 0
		inString := false
		escape := false
		for j := i; j < len(text); j++ {
			if escape {
				escape = false
				continue
			}
			switch {
			case text[j] == '\\' && inString:
				escape = true
			case text[j] == '"':
				inString = !inString
			case inString:
				// inside a string literal, ignore structural characters
			case text[j] == byte(ch):
				depth++
			case text[j] == closing:
				depth--
				if depth == 0 {
					return text[i : j+1]
				}
			}
		}
	}
	return ""
}
