package mcp

// SanitizeSchema normalises JSON Schema constructs the upstream tool
// registry rejects, recursing into properties, items, and
// additionalProperties:
//   - anyOf/oneOf unions collapse to the first non-null variant's type,
//     inheriting that variant's other keywords
//   - array-valued "type" becomes its first non-null entry
//   - schemas with neither "type" nor "properties" default to "string"
//
// The schema is modified in place. Sanitising an already-sanitised schema
// is a no-op.
func SanitizeSchema(schema map[string]any) {
	for _, keyword := range []string{"anyOf", "oneOf"} {
		variants, ok := schema[keyword].([]any)
		if !ok {
			continue
		}
		var firstType string
		var extra map[string]any
		for _, raw := range variants {
			variant, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := variant["type"].(string)
			if typ == "" || typ == "null" {
				continue
			}
			if firstType == "" {
				firstType = typ
			}
			if extra == nil {
				extra = make(map[string]any)
				for k, v := range variant {
					if k != "type" {
						extra[k] = v
					}
				}
			}
			break
		}
		delete(schema, keyword)
		if firstType == "" {
			firstType = "string"
		}
		schema["type"] = firstType
		for k, v := range extra {
			schema[k] = v
		}
	}

	if types, ok := schema["type"].([]any); ok {
		chosen := "string"
		for _, raw := range types {
			if typ, ok := raw.(string); ok && typ != "null" {
				chosen = typ
				break
			}
		}
		schema["type"] = chosen
	}

	if _, hasType := schema["type"]; !hasType {
		if _, hasProps := schema["properties"]; !hasProps {
			schema["type"] = "string"
		}
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for _, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				SanitizeSchema(prop)
			}
		}
	}
	for _, keyword := range []string{"items", "additionalProperties"} {
		if nested, ok := schema[keyword].(map[string]any); ok {
			SanitizeSchema(nested)
		}
	}
}

// EnsureRequired guarantees an object schema carries a "required" list,
// possibly empty, as upstream validation demands.
func EnsureRequired(schema map[string]any) {
	if _, ok := schema["required"]; !ok {
		schema["required"] = []any{}
	}
}
