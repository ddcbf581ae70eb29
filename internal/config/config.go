// Package config provides functionality for parsing and validating
// Workflow and Integration definition files (JSON/YAML).
package config

import (
	"fmt"
	"path/filepath"

	"github.com/Pallavikumarimdb/superglue/internal/pathutil"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// Loader loads and validates Workflow/Integration definitions from files
// rooted at basePath.
type Loader struct {
	basePath string
}

// NewLoader creates a new configuration loader. basePath prefixes any
// relative path passed to Load*; an empty basePath leaves paths untouched.
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// resolve joins path onto basePath. When basePath is set, path is treated
// as caller-supplied and must not escape it via ".." segments — a
// workflow/integration ID handed in from an HTTP request body, for
// instance, should never be able to read a file outside the configured
// definitions directory.
func (l *Loader) resolve(path string) (string, error) {
	if l.basePath == "" || filepath.IsAbs(path) {
		return path, nil
	}
	if err := pathutil.ValidateFilePath(path); err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return filepath.Join(l.basePath, path), nil
}

// LoadWorkflow reads, parses, validates, and converts a Workflow definition
// file. Format is auto-detected from the file extension, falling back to
// content sniffing.
func (l *Loader) LoadWorkflow(path string) (*superglue.Workflow, error) {
	data, err := l.parseAndValidate(path, ValidateWorkflow)
	if err != nil {
		return nil, err
	}
	return ConvertToWorkflow(data)
}

// LoadIntegration reads, parses, validates, and converts an Integration
// definition file.
func (l *Loader) LoadIntegration(path string) (*superglue.Integration, error) {
	data, err := l.parseAndValidate(path, ValidateIntegration)
	if err != nil {
		return nil, err
	}
	return ConvertToIntegration(data)
}

func (l *Loader) parseAndValidate(path string, validate func(map[string]interface{}) *ValidationResult) (map[string]interface{}, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	var parseResult *ParseResult
	switch DetectFormat(resolved) {
	case "yaml":
		parseResult = ParseYAMLFile(resolved)
	default:
		parseResult = ParseJSONFile(resolved)
	}
	if !parseResult.IsValid() {
		return nil, fmt.Errorf("parsing %s: %w", path, parseResult.Errors[0])
	}

	validation := validate(parseResult.Data)
	if !validation.Valid {
		return nil, fmt.Errorf("validating %s: %w", path, validation.Errors[0])
	}
	return parseResult.Data, nil
}
