// Package schema provides runtime JSON Schema validation for call step
// outputs. It supports the subset of Draft 7 keywords workflow schemas
// actually use: type, properties, required, enum, and items.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// Validate checks that a call result conforms to its declared output
// schema. Extra fields not named by the schema are allowed.
func Validate(schema map[string]any, data any) error {
	return validate(schema, data, "$")
}

// validate is the recursive validation function with path tracking.
func validate(schema map[string]any, data any, path string) error {
	schemaType, ok := schema["type"].(string)
	if !ok {
		return nil
	}
	if err := validateType(schemaType, data, path); err != nil {
		return err
	}

	switch schemaType {
	case "object":
		return validateObject(schema, data, path)
	case "array":
		return validateArray(schema, data, path)
	case "string":
		return validateEnum(schema, data, path)
	}
	return nil
}

// validateType checks if data matches the expected type.
func validateType(schemaType string, data any, path string) error {
	switch schemaType {
	case "object":
		if _, ok := data.(map[string]any); !ok {
			return violation(path, fmt.Sprintf("expected object, got %T", data))
		}
	case "array":
		if _, ok := data.([]any); !ok {
			return violation(path, fmt.Sprintf("expected array, got %T", data))
		}
	case "string":
		if _, ok := data.(string); !ok {
			return violation(path, fmt.Sprintf("expected string, got %T", data))
		}
	case "number":
		switch data.(type) {
		case float64, float32, int, int32, int64:
		default:
			return violation(path, fmt.Sprintf("expected number, got %T", data))
		}
	case "integer":
		switch n := data.(type) {
		case float64:
			// JSON numbers decode as float64; accept whole values only.
			if n != float64(int64(n)) {
				return violation(path, fmt.Sprintf("expected integer, got %v", n))
			}
		case int, int32, int64:
		default:
			return violation(path, fmt.Sprintf("expected integer, got %T", data))
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			return violation(path, fmt.Sprintf("expected boolean, got %T", data))
		}
	default:
		return violation(path, fmt.Sprintf("unsupported schema type: %s", schemaType))
	}
	return nil
}

// validateObject checks required fields, then recurses into declared
// properties.
func validateObject(schema map[string]any, data any, path string) error {
	obj := data.(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, entry := range required {
			name, ok := entry.(string)
			if !ok {
				continue
			}
			if _, exists := obj[name]; !exists {
				return violation(path, fmt.Sprintf("missing required field: %s", name))
			}
		}
	}

	if properties, ok := schema["properties"].(map[string]any); ok {
		for name, value := range obj {
			propSchema, ok := properties[name].(map[string]any)
			if !ok {
				continue
			}
			if err := validate(propSchema, value, path+"."+name); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateArray checks each element against the items schema.
func validateArray(schema map[string]any, data any, path string) error {
	arr := data.([]any)
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, item := range arr {
		if err := validate(items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// validateEnum checks a string against an enum constraint.
func validateEnum(schema map[string]any, data any, path string) error {
	enum, ok := schema["enum"].([]any)
	if !ok {
		return nil
	}
	str := data.(string)
	for _, allowed := range enum {
		if s, ok := allowed.(string); ok && s == str {
			return nil
		}
	}
	enumJSON, _ := json.Marshal(enum)
	return violation(path, fmt.Sprintf("value %q not in allowed values: %s", str, enumJSON))
}

// violation wraps a schema defect as a ValidationError.
func violation(path, message string) error {
	return &errors.ValidationError{
		Field:   path,
		Message: message,
	}
}
