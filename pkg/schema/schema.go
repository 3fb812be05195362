// Package schema implements the compact question/answer schema format used
// by worker contracts. Schemas are descriptive, not prescriptive: they guide
// planning and reply shaping, and validation never rejects data outright.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field describes one schema field in the compact format.
type Field struct {
	Type        string         `json:"type,omitempty" toml:"type"`
	Description string         `json:"description,omitempty" toml:"description"`
	Items       map[string]any `json:"items,omitempty" toml:"items"`
	Default     any            `json:"default,omitempty" toml:"default"`
	Required    bool           `json:"required,omitempty" toml:"required"`
}

// Schema maps field names to their definitions.
type Schema map[string]Field

// Names returns the field names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredFields returns the names of required fields in sorted order.
func (s Schema) RequiredFields() []string {
	var required []string
	for _, name := range s.Names() {
		if s[name].Required {
			required = append(required, name)
		}
	}
	return required
}

// ToJSONSchema converts the compact format to a standard JSON Schema object.
// An empty required list is omitted.
func (s Schema) ToJSONSchema() map[string]any {
	properties := make(map[string]any, len(s))
	for name, def := range s {
		prop := map[string]any{}
		if def.Type != "" {
			prop["type"] = def.Type
		}
		if def.Description != "" {
			prop["description"] = def.Description
		}
		if def.Items != nil {
			prop["items"] = def.Items
		}
		if def.Default != nil {
			prop["default"] = def.Default
		}
		properties[name] = prop
	}

	result := map[string]any{"type": "object", "properties": properties}
	if required := s.RequiredFields(); len(required) > 0 {
		result["required"] = required
	}
	return result
}

// Describe renders the schema as prompt-ready text:
//
//	Parameters:
//	  - file_path (string, required): Path to the file to review
//	  - goal (string): What to focus on
func (s Schema) Describe(label string) string {
	if len(s) == 0 {
		return ""
	}
	lines := []string{label + ":"}
	for _, name := range s.Names() {
		def := s[name]
		typ := def.Type
		if typ == "" {
			typ = "any"
		}
		req := ""
		if def.Required {
			req = ", required"
		}
		desc := ""
		if def.Description != "" {
			desc = ": " + def.Description
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s%s)%s", name, typ, req, desc))
	}
	return strings.Join(lines, "\n")
}

// ValidationResult is the outcome of SoftValidate. Raw always carries the
// original input so callers can fall back to it.
type ValidationResult struct {
	Parsed   map[string]any `json:"parsed"`
	Extras   map[string]any `json:"extras"`
	Missing  []string       `json:"missing"`
	Warnings []string       `json:"warnings"`
	Raw      any            `json:"raw"`
}

// SoftValidate checks data against the schema best-effort. Matching fields
// are coerced toward their declared types, unknown fields are preserved in
// Extras, and absent required fields produce warnings. It never fails.
//
// A string input is first parsed as JSON; anything that does not yield an
// object degrades to an empty Parsed map with the raw string retained.
func SoftValidate(data any, s Schema) ValidationResult {
	result := ValidationResult{
		Parsed:   map[string]any{},
		Extras:   map[string]any{},
		Missing:  []string{},
		Warnings: []string{},
		Raw:      data,
	}

	obj, ok := data.(map[string]any)
	if !ok {
		if str, isStr := data.(string); isStr {
			parsed, warning := parseObjectString(str)
			if parsed == nil {
				result.Missing = s.RequiredFields()
				if result.Missing == nil {
					result.Missing = []string{}
				}
				result.Warnings = append(result.Warnings, warning)
				return result
			}
			obj = parsed
			result.Raw = parsed
		} else {
			result.Missing = s.RequiredFields()
			if result.Missing == nil {
				result.Missing = []string{}
			}
			result.Warnings = append(result.Warnings, "Response is not a JSON object; treating as raw reply")
			return result
		}
	}

	for _, name := range s.Names() {
		def := s[name]
		value, present := obj[name]
		if !present {
			if def.Required {
				result.Missing = append(result.Missing, name)
				result.Warnings = append(result.Warnings, fmt.Sprintf("Required field '%s' is missing", name))
			}
			continue
		}
		if def.Type == "" {
			result.Parsed[name] = value
			continue
		}
		coerced, changed := coerceValue(value, def.Type)
		if changed {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Field '%s': coerced %T to %s", name, value, def.Type))
		}
		result.Parsed[name] = coerced
	}

	for key, value := range obj {
		if _, known := s[key]; !known {
			result.Extras[key] = value
		}
	}

	return result
}

// BuildAnswer flattens a validation result into one answer map, merging
// parsed fields and extras and attaching validation metadata under the
// reserved "_validation" key.
func BuildAnswer(result ValidationResult) map[string]any {
	answer := make(map[string]any, len(result.Parsed)+len(result.Extras)+1)
	for k, v := range result.Parsed {
		answer[k] = v
	}
	for k, v := range result.Extras {
		answer[k] = v
	}
	answer["_validation"] = map[string]any{
		"missing":  result.Missing,
		"warnings": result.Warnings,
	}
	return answer
}

// coerceValue converts value toward the expected type. Values that cannot be
// converted are returned unchanged; the bool reports whether the returned
// value differs from the input.
func coerceValue(value any, expectedType string) (any, bool) {
	switch expectedType {
	case "string":
		return coerceString(value)
	case "number":
		return coerceNumber(value)
	case "integer":
		return coerceInteger(value)
	case "boolean":
		return coerceBoolean(value)
	}
	return value, false
}

func coerceString(value any) (any, bool) {
	switch v := value.(type) {
	case string, nil:
		return v, false
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func coerceNumber(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, false
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return value, false
}

func coerceInteger(value any) (any, bool) {
	switch v := value.(type) {
	case int, int64:
		return v, false
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return value, false
}

func coerceBoolean(value any) (any, bool) {
	switch v := value.(type) {
	case bool:
		return v, false
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	}
	return value, false
}
