package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON unmarshals the first JSON object found in raw model output into T.
func decodeJSON[T any](raw string) (*T, error) {
	clean := extractJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return &out, nil
}

// extractJSON locates the first balanced JSON object in free text by bracket
// matching. Models routinely wrap the answer in prose or code fences, so the
// scanner ignores everything before the first '{' and tracks strings and
// escapes while counting braces.
func extractJSON(raw string) string {
	text := stripFences(raw)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}
