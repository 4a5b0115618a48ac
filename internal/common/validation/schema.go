package validation

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateJSON validates a JSON document against a JSON schema string.
func ValidateJSON(schemaJSON, documentJSON string) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewStringLoader(documentJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return out, nil
}

// ValidateMap validates an already-decoded document against a JSON schema string.
func ValidateMap(schemaJSON string, document map[string]interface{}) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// CampaignSchema constrains campaign definitions loaded from config or API.
const CampaignSchema = `{
	"type": "object",
	"required": ["id", "name"],
	"additionalProperties": true,
	"properties": {
		"id":   {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"segments": {
			"type": "array",
			"items": {"type": "string", "enum": ["CRITICAL", "HIGH", "MEDIUM", "LOW"]}
		},
		"templateId": {"type": "string"}
	}
}`

// ABTestSchema constrains A/B test definitions.
const ABTestSchema = `{
	"type": "object",
	"required": ["id", "segment", "variantA", "variantB", "metric"],
	"additionalProperties": true,
	"properties": {
		"id":      {"type": "string", "minLength": 1},
		"segment": {"type": "string", "enum": ["CRITICAL", "HIGH", "MEDIUM", "LOW"]},
		"metric":  {"type": "string", "enum": ["delivery_rate", "response_rate", "conversion_rate"]},
		"variantA": {
			"type": "object",
			"required": ["name", "templateId"],
			"properties": {
				"name":       {"type": "string", "enum": ["A"]},
				"templateId": {"type": "string", "minLength": 1},
				"weight":     {"type": "number", "minimum": 0, "maximum": 1}
			}
		},
		"variantB": {
			"type": "object",
			"required": ["name", "templateId"],
			"properties": {
				"name":       {"type": "string", "enum": ["B"]},
				"templateId": {"type": "string", "minLength": 1},
				"weight":     {"type": "number", "minimum": 0, "maximum": 1}
			}
		},
		"threshold":     {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
		"minSampleSize": {"type": "integer", "minimum": 1}
	}
}`

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	phonePattern := regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	return phonePattern.MatchString(phone)
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	emailPattern := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailPattern.MatchString(email)
}
