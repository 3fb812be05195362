package schema

import (
	"encoding/json"
	"strings"
)

// parseObjectString parses a raw string as a JSON object. On failure it
// returns nil and the warning to report.
func parseObjectString(s string) (map[string]any, string) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, "Response is not valid JSON; treating as raw reply"
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, "Response is not a JSON object; treating as raw reply"
	}
	return obj, ""
}

// ExtractJSON pulls a JSON object out of a free-text model reply. It tries,
// in order: the whole trimmed text when it starts with '{', a ```json fence,
// a generic ``` fence, and finally the first balanced {...} substring found
// by brace-depth counting. Returns nil when nothing parses.
func ExtractJSON(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") {
		if obj := parseObject(trimmed); obj != nil {
			return obj
		}
	}

	if body, ok := fencedBlock(trimmed, "```json"); ok {
		if obj := parseObject(body); obj != nil {
			return obj
		}
	}
	if body, ok := fencedBlock(trimmed, "```"); ok {
		if obj := parseObject(body); obj != nil {
			return obj
		}
	}

	return balancedObject(trimmed)
}

// ExtractJSONArray is the array counterpart of ExtractJSON: whole text when
// it starts with '[', then fenced blocks, then the first balanced [...]
// substring. Returns nil when nothing parses.
func ExtractJSONArray(text string) []any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		if arr := parseArray(trimmed); arr != nil {
			return arr
		}
	}

	if body, ok := fencedBlock(trimmed, "```json"); ok {
		if arr := parseArray(body); arr != nil {
			return arr
		}
	}
	if body, ok := fencedBlock(trimmed, "```"); ok {
		if arr := parseArray(body); arr != nil {
			return arr
		}
	}

	return balancedArray(trimmed)
}

func parseObject(s string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

func parseArray(s string) []any {
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil
	}
	return arr
}

// fencedBlock returns the content between the first occurrence of marker and
// the next closing fence.
func fencedBlock(text, marker string) (string, bool) {
	_, after, found := strings.Cut(text, marker)
	if !found {
		return "", false
	}
	body, _, found := strings.Cut(after, "```")
	if !found {
		return "", false
	}
	return strings.TrimSpace(body), true
}

// balancedObject scans for the first brace-balanced substring that parses as
// a JSON object. Braces inside string literals are ignored.
func balancedObject(text string) map[string]any {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
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
					if obj := parseObject(text[start : i+1]); obj != nil {
						return obj
					}
					i = len(text) // abandon this start position
				}
			}
		}
	}
	return nil
}

// balancedArray is balancedObject for bracket-delimited arrays.
func balancedArray(text string) []any {
	for start := 0; start < len(text); start++ {
		if text[start] != '[' {
			continue
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
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					if arr := parseArray(text[start : i+1]); arr != nil {
						return arr
					}
					i = len(text)
				}
			}
		}
	}
	return nil
}
