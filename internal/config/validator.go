// Package config provides functionality for parsing and validating
// Workflow and Integration definition files (JSON/YAML).
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/workflow-schema.json
var workflowSchemaDoc []byte

//go:embed schema/integration-schema.json
var integrationSchemaDoc []byte

// Kind identifies which schema a parsed document should be validated and
// converted against.
type Kind string

const (
	KindWorkflow    Kind = "workflow"
	KindIntegration Kind = "integration"
)

var (
	workflowSchemaOnce     sync.Once
	compiledWorkflowSchema *jsonschema.Schema
	workflowSchemaInitErr  error

	integrationSchemaOnce     sync.Once
	compiledIntegrationSchema *jsonschema.Schema
	integrationSchemaInitErr  error
)

// GetEmbeddedSchema returns the embedded schema document for kind.
func GetEmbeddedSchema(kind Kind) []byte {
	if kind == KindIntegration {
		return integrationSchemaDoc
	}
	return workflowSchemaDoc
}

func getCompiledWorkflowSchema() (*jsonschema.Schema, error) {
	workflowSchemaOnce.Do(func() {
		compiledWorkflowSchema, workflowSchemaInitErr = compileSchema(
			workflowSchemaDoc, "https://superglue.internal/schemas/workflow/v1/workflow-schema.json")
	})
	return compiledWorkflowSchema, workflowSchemaInitErr
}

func getCompiledIntegrationSchema() (*jsonschema.Schema, error) {
	integrationSchemaOnce.Do(func() {
		compiledIntegrationSchema, integrationSchemaInitErr = compileSchema(
			integrationSchemaDoc, "https://superglue.internal/schemas/integration/v1/integration-schema.json")
	})
	return compiledIntegrationSchema, integrationSchemaInitErr
}

func compileSchema(doc []byte, schemaURL string) (*jsonschema.Schema, error) {
	var schemaDoc interface{}
	if err := json.Unmarshal(doc, &schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to parse embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// DetectKind guesses whether data describes a Workflow or an Integration:
// a Workflow always carries a "steps" array; an Integration never does.
func DetectKind(data map[string]interface{}) Kind {
	if _, ok := data["steps"]; ok {
		return KindWorkflow
	}
	return KindIntegration
}

// ValidateWorkflow validates data against the Workflow schema.
func ValidateWorkflow(data map[string]interface{}) *ValidationResult {
	return validateAgainst(data, getCompiledWorkflowSchema)
}

// ValidateIntegration validates data against the Integration schema.
func ValidateIntegration(data map[string]interface{}) *ValidationResult {
	return validateAgainst(data, getCompiledIntegrationSchema)
}

// ValidateConfig validates data against whichever schema DetectKind selects.
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	switch DetectKind(data) {
	case KindWorkflow:
		return ValidateWorkflow(data)
	default:
		return ValidateIntegration(data)
	}
}

func validateAgainst(data map[string]interface{}, getSchema func() (*jsonschema.Schema, error)) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if data == nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path: "/", Type: "required", Message: "configuration data is nil",
		})
		return result
	}
	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path: "/", Type: "required", Message: "configuration data is empty",
		})
		return result
	}

	schema, err := getSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path: "/", Type: "schema", Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	if validationErr := schema.Validate(data); validationErr != nil {
		result.Valid = false
		if detailedErr, ok := validationErr.(*jsonschema.ValidationError); ok {
			result.Errors = convertValidationErrors(detailedErr)
		} else {
			result.Errors = append(result.Errors, ValidationError{
				Path: "/", Type: "validation", Message: validationErr.Error(),
			})
		}
	}
	return result
}

// convertValidationErrors converts jsonschema validation errors to our format.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if err.ErrorKind != nil {
		errors = append(errors, ValidationError{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		})
	}

	for _, cause := range err.Causes {
		errors = append(errors, convertValidationErrors(cause)...)
	}
	return errors
}

// formatInstanceLocation formats the instance location as a JSON path.
func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// extractErrorType extracts a simplified error type from the validation error.
func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "type"):
		return "type"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return "range"
	case strings.Contains(msg, "format"):
		return "format"
	case strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	default:
		return "validation"
	}
}
