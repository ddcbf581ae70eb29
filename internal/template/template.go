// Package template provides placeholder substitution for dynamic string
// construction. It supports three interchangeable variable syntaxes —
// {var}, {{var}}, and <<var>> — over a flat scope map built from a step's
// payload, integration credentials, and pagination variables.
package template

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/Pallavikumarimdb/superglue/internal/logger"
)

// UndefinedLiteral is substituted verbatim when a variable path cannot be
// resolved against the scope. Unlike the reference runtime this package was
// adapted from, a missing variable is never silently rendered as an empty
// string: an unresolved placeholder is a configuration bug, and "undefined"
// in the rendered output makes that visible to whoever is debugging the run.
const UndefinedLiteral = "undefined"

// placeholderRegex matches all three supported variable forms in a single
// pass. Because the {...} alternative's character class excludes "{" and
// "}", it never matches the inner braces of a {{...}} placeholder — each
// form is unambiguous without needing a second pass.
//
// Group 1: path captured from {{var}}
// Group 2: path captured from <<var>>
// Group 3: path captured from {var}
var placeholderRegex = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}|<<\s*([^<>]+?)\s*>>|\{\s*([^{}]+?)\s*\}`)

// Variable represents a single parsed placeholder occurrence.
type Variable struct {
	FullMatch string // the full matched string, including its delimiters
	Path      string // the variable path, e.g. "payload.user.id"
}

// Evaluator substitutes placeholders using a flat scope map.
//
// Performance: parsed placeholders are cached per template string to avoid
// re-parsing identical strings across steps of the same run. The cache is
// unbounded and not thread-safe; each goroutine should use its own Evaluator.
type Evaluator struct {
	cache map[string][]Variable
}

// NewEvaluator creates a new placeholder evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string][]Variable)}
}

// HasVariables reports whether a string contains any supported placeholder form.
func HasVariables(s string) bool {
	return placeholderRegex.MatchString(s)
}

// ParseVariables extracts all placeholders from a template string.
func (e *Evaluator) ParseVariables(template string) []Variable {
	if cached, ok := e.cache[template]; ok {
		return cached
	}

	matches := placeholderRegex.FindAllStringSubmatch(template, -1)
	variables := make([]Variable, 0, len(matches))

	for _, match := range matches {
		path := match[1]
		if path == "" {
			path = match[2]
		}
		if path == "" {
			path = match[3]
		}
		variables = append(variables, Variable{
			FullMatch: match[0],
			Path:      strings.TrimSpace(path),
		})
	}

	e.cache[template] = variables
	return variables
}

// Evaluate substitutes every placeholder in template using scope, in a
// single non-recursive pass: the result of one substitution is never
// re-scanned for further placeholders.
func (e *Evaluator) Evaluate(template string, scope map[string]interface{}) string {
	if !HasVariables(template) {
		return template
	}

	variables := e.ParseVariables(template)
	if len(variables) == 0 {
		return template
	}

	logger.Debug("evaluating template",
		slog.String("template", truncateForLog(template, 100)),
		slog.Int("variable_count", len(variables)),
	)

	result := template
	for _, v := range variables {
		value := e.resolveVariable(v, scope)
		result = strings.Replace(result, v.FullMatch, value, 1)
	}
	return result
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// EvaluateForURL evaluates placeholders for use in a URL, URL-encoding each
// substituted value.
func (e *Evaluator) EvaluateForURL(template string, scope map[string]interface{}) string {
	if !HasVariables(template) {
		return template
	}

	variables := e.ParseVariables(template)
	if len(variables) == 0 {
		return template
	}

	result := template
	for _, v := range variables {
		value := e.resolveVariable(v, scope)
		result = strings.Replace(result, v.FullMatch, url.QueryEscape(value), 1)
	}
	return result
}

// resolveVariable resolves a single placeholder against scope, returning
// UndefinedLiteral when the path cannot be found.
func (e *Evaluator) resolveVariable(v Variable, scope map[string]interface{}) string {
	value, found := GetNestedValue(scope, v.Path)
	if !found || value == nil {
		logger.Warn("template variable unresolved, substituting literal \"undefined\"",
			slog.String("path", v.Path),
		)
		return UndefinedLiteral
	}
	return ValueToString(value)
}

// GetNestedValue extracts a value from a nested map using dot notation,
// with optional [n] array indexing on any path segment.
func GetNestedValue(obj map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	current := interface{}(obj)

	for _, part := range parts {
		arrayIdx := -1
		key, index, hasIndex := parseArrayNotation(part)
		if hasIndex {
			arrayIdx = index
			part = key
		}

		switch v := current.(type) {
		case map[string]interface{}:
			if v == nil {
				return nil, false
			}
			val, ok := v[part]
			if !ok {
				return nil, false
			}
			current = val
		default:
			return nil, false
		}

		if arrayIdx >= 0 {
			switch arr := current.(type) {
			case []interface{}:
				if arrayIdx >= len(arr) {
					return nil, false
				}
				current = arr[arrayIdx]
			default:
				return nil, false
			}
		}
	}

	return current, true
}

// parseArrayNotation parses a path segment for array indexing, e.g.
// "items[0]" returns ("items", 0, true).
func parseArrayNotation(part string) (string, int, bool) {
	idx := strings.Index(part, "[")
	if idx == -1 {
		return part, -1, false
	}

	endIdx := strings.Index(part, "]")
	if endIdx == -1 || endIdx < idx+1 || endIdx != len(part)-1 {
		return part, -1, false
	}

	indexStr := part[idx+1 : endIdx]
	var index int
	_, err := fmt.Sscanf(indexStr, "%d", &index)
	if err != nil || index < 0 {
		return part, -1, false
	}

	return part[:idx], index, true
}

// ValueToString converts any value to its string representation.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ValidateSyntax validates that a template string's delimiters are balanced
// and that every placeholder has a non-empty path.
func ValidateSyntax(template string) error {
	if template == "" {
		return nil
	}

	openDouble := strings.Count(template, "{{")
	closeDouble := strings.Count(template, "}}")
	if openDouble != closeDouble {
		return fmt.Errorf("invalid template syntax: unmatched {{ }} delimiters (found %d '{{' and %d '}}')",
			openDouble, closeDouble)
	}

	openAngle := strings.Count(template, "<<")
	closeAngle := strings.Count(template, ">>")
	if openAngle != closeAngle {
		return fmt.Errorf("invalid template syntax: unmatched << >> delimiters (found %d '<<' and %d '>>')",
			openAngle, closeAngle)
	}

	if strings.Contains(template, "{{}}") || strings.Contains(template, "<<>>") {
		return fmt.Errorf("invalid template syntax: empty variable path")
	}

	matches := placeholderRegex.FindAllStringSubmatch(template, -1)
	for _, match := range matches {
		path := strings.TrimSpace(match[1] + match[2] + match[3])
		if path == "" {
			return fmt.Errorf("invalid template syntax: empty variable path")
		}
	}

	return nil
}

// EvaluateHeaders evaluates placeholders in HTTP header values, returning a
// new map.
func (e *Evaluator) EvaluateHeaders(headers map[string]string, scope map[string]interface{}) map[string]string {
	if len(headers) == 0 {
		return headers
	}

	evaluated := make(map[string]string, len(headers))
	for key, value := range headers {
		evaluated[key] = e.Evaluate(value, scope)
	}
	return evaluated
}

// EvaluateMapValues recursively evaluates placeholders in map/array/string
// values, used when substituting into a JSON request body.
func (e *Evaluator) EvaluateMapValues(data interface{}, scope map[string]interface{}) interface{} {
	switch v := data.(type) {
	case string:
		if HasVariables(v) {
			return e.Evaluate(v, scope)
		}
		return v
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[key] = e.EvaluateMapValues(val, scope)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = e.EvaluateMapValues(item, scope)
		}
		return result
	default:
		return data
	}
}

// BuildScope merges a step's payload, an integration's credentials, and
// pagination variables into the flat map placeholders resolve against.
// Later maps take precedence over earlier ones on key collision.
func BuildScope(payload map[string]interface{}, credentials map[string]string, paginationVars map[string]interface{}) map[string]interface{} {
	scope := make(map[string]interface{}, len(payload)+len(credentials)+len(paginationVars))
	for k, v := range payload {
		scope[k] = v
	}
	for k, v := range credentials {
		scope[k] = v
	}
	for k, v := range paginationVars {
		scope[k] = v
	}
	return scope
}
