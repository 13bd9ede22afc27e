package tools

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema helpers for building tool input schemas.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
	}
	if len(required) > 0 {
		schema.Required = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: description,
	}
}

// IntegerProperty creates an integer property bounded to [minimum, maximum]
// with a default value.
func IntegerProperty(description string, minimum, maximum, def int) *jsonschema.Schema {
	lo, hi := float64(minimum), float64(maximum)
	raw, _ := json.Marshal(def)
	return &jsonschema.Schema{
		Type:        "integer",
		Description: description,
		Minimum:     &lo,
		Maximum:     &hi,
		Default:     raw,
	}
}

// ArrayProperty creates an array property with the given item type. A
// non-positive maxItems leaves the array unbounded.
func ArrayProperty(description string, itemType *jsonschema.Schema, maxItems int) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:        "array",
		Description: description,
		Items:       itemType,
	}
	if maxItems > 0 {
		schema.MaxItems = &maxItems
	}
	return schema
}
