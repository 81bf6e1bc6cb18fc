package handlers

// Common JSON Schema building blocks, carried over from the teacher's
// tools.StringSchema/IntegerSchema family.

func stringSchema(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerSchema(description string, min, max *int) map[string]any {
	schema := map[string]any{"type": "integer", "description": description}
	if min != nil {
		schema["minimum"] = *min
	}
	if max != nil {
		schema["maximum"] = *max
	}
	return schema
}

func booleanSchema(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func objectSchema(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

func arraySchema(description string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": items}
}

func inputSchema(required []string, properties map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
