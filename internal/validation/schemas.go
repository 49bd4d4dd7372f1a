package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names
const (
	SchemaPreference  = "preference"
	SchemaPassTrigger = "pass-trigger"
)

// Preference documents are stored by another system, so the schema only pins
// down shapes the decoder relies on and leaves unknown keys alone.
const preferenceSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "range": {
      "type": "object",
      "properties": {
        "min": {"type": ["number", "string", "null"]},
        "max": {"type": ["number", "string", "null"]}
      }
    },
    "labels": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "properties": {
    "price_range":   {"$ref": "#/definitions/range"},
    "area_range":    {"$ref": "#/definitions/range"},
    "bedroom_range": {"$ref": "#/definitions/range"},
    "locations":     {"$ref": "#/definitions/labels"},
    "orientations":  {"$ref": "#/definitions/labels"},
    "house_types":   {"$ref": "#/definitions/labels"},
    "keywords":      {"$ref": "#/definitions/labels"}
  }
}`

const passTriggerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind"],
  "additionalProperties": false,
  "properties": {
    "kind": {
      "type": "string",
      "enum": ["property_content", "property_behavior", "property_all",
               "user_content", "user_behavior", "user_comprehensive"]
    }
  }
}`

// SchemaValidator validates JSON documents against the built-in schemas.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles the built-in schemas.
func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}

	for name, source := range map[string]string{
		SchemaPreference:  preferenceSchema,
		SchemaPassTrigger: passTriggerSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}

	return sv, nil
}

// MustNewSchemaValidator is NewSchemaValidator for package-level setup.
func MustNewSchemaValidator() *SchemaValidator {
	sv, err := NewSchemaValidator()
	if err != nil {
		panic(err)
	}
	return sv
}

// ValidatePreference validates a stored preference document.
func (sv *SchemaValidator) ValidatePreference(data interface{}) *ValidationResult {
	return sv.validate(SchemaPreference, data)
}

// ValidatePassTrigger validates a pass trigger request body.
func (sv *SchemaValidator) ValidatePassTrigger(data interface{}) *ValidationResult {
	return sv.validate(SchemaPassTrigger, data)
}

// validate performs the actual validation against a named schema
func (sv *SchemaValidator) validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "document",
				Message: fmt.Sprintf("Document is not valid JSON: %v", err),
				Code:    "MALFORMED_JSON",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, e := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   e.Value(),
		})
	}

	return validationResult
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Fields lists the offending fields, in schema order.
func (vr *ValidationResult) Fields() []string {
	fields := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		fields = append(fields, e.Field)
	}
	return fields
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ToAPIError converts validation errors to the API error body.
func (vr *ValidationResult) ToAPIError() map[string]interface{} {
	if vr.Valid {
		return nil
	}

	fieldErrors := make(map[string][]string)
	for _, err := range vr.Errors {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
	}

	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "VALIDATION_ERROR",
			"message": "Request validation failed",
			"details": map[string]interface{}{
				"validationErrors": vr.Errors,
				"fieldErrors":      fieldErrors,
			},
		},
	}
}
