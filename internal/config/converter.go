// Package config provides functionality for parsing and validating
// Workflow and Integration definition files (JSON/YAML).
package config

import (
	"fmt"

	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// ConvertToWorkflow converts parsed configuration data to a Workflow.
// The input data should have been validated against the Workflow schema
// before calling this function.
//
// The configuration is expected to have this structure:
//
//	{
//	  "id": "...",
//	  "instruction": "...",
//	  "steps": [{"id": "...", "apiConfig": {...}, ...}],
//	  "finalTransform": "..."
//	}
func ConvertToWorkflow(data map[string]interface{}) (*superglue.Workflow, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}

	id, ok := data["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("missing required field 'id'")
	}

	wf := &superglue.Workflow{ID: id}

	if instruction, okInstr := data["instruction"].(string); okInstr {
		wf.Instruction = instruction
	}
	if finalTransform, okFT := data["finalTransform"].(string); okFT {
		wf.FinalTransform = finalTransform
	}
	if inputSchema, okIn := data["inputSchema"].(map[string]interface{}); okIn {
		wf.InputSchema = inputSchema
	}
	if responseSchema, okOut := data["responseSchema"].(map[string]interface{}); okOut {
		wf.ResponseSchema = responseSchema
	}
	if idsData, okIDs := data["integrationIds"].([]interface{}); okIDs {
		wf.IntegrationIDs = toStringSlice(idsData)
	}

	stepsData, ok := data["steps"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'steps' section")
	}
	for i, raw := range stepsData {
		stepMap, isMap := raw.(map[string]interface{})
		if !isMap {
			return nil, fmt.Errorf("invalid step at index %d", i)
		}
		step, err := convertExecutionStep(stepMap)
		if err != nil {
			return nil, fmt.Errorf("invalid step at index %d: %w", i, err)
		}
		wf.Steps = append(wf.Steps, *step)
	}

	return wf, nil
}

// convertExecutionStep converts a raw step map to an ExecutionStep.
func convertExecutionStep(data map[string]interface{}) (*superglue.ExecutionStep, error) {
	id, ok := data["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("missing required field 'id'")
	}

	apiConfigData, ok := data["apiConfig"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'apiConfig' section")
	}
	apiConfig, err := convertApiConfig(apiConfigData)
	if err != nil {
		return nil, fmt.Errorf("invalid apiConfig: %w", err)
	}

	step := &superglue.ExecutionStep{ID: id, ApiConfig: apiConfig}

	if integrationID, okInt := data["integrationId"].(string); okInt {
		step.IntegrationID = integrationID
	}
	if mode, okMode := data["executionMode"].(string); okMode {
		step.ExecutionMode = superglue.ExecutionMode(mode)
	}
	if loopSelector, okSel := data["loopSelector"].(string); okSel {
		step.LoopSelector = loopSelector
	}
	if loopMaxIters, okIters := data["loopMaxIters"].(float64); okIters {
		step.LoopMaxIters = int(loopMaxIters)
	}
	if inputMapping, okIn := data["inputMapping"].(string); okIn {
		step.InputMapping = inputMapping
	}
	if responseMapping, okResp := data["responseMapping"].(string); okResp {
		step.ResponseMapping = responseMapping
	}

	return step, nil
}

// convertApiConfig converts a raw apiConfig map to an ApiConfig.
func convertApiConfig(data map[string]interface{}) (*superglue.ApiConfig, error) {
	urlHost, ok := data["urlHost"].(string)
	if !ok || urlHost == "" {
		return nil, fmt.Errorf("missing required field 'urlHost'")
	}
	method, ok := data["method"].(string)
	if !ok || method == "" {
		return nil, fmt.Errorf("missing required field 'method'")
	}

	cfg := &superglue.ApiConfig{
		URLHost: urlHost,
		Method:  superglue.HTTPMethod(method),
	}

	if id, okID := data["id"].(string); okID {
		cfg.ID = id
	}
	if typ, okTyp := data["type"].(string); okTyp {
		cfg.Type = superglue.ConfigType(typ)
	}
	if urlPath, okPath := data["urlPath"].(string); okPath {
		cfg.URLPath = urlPath
	}
	if body, okBody := data["body"].(string); okBody {
		cfg.Body = body
	}
	if auth, okAuth := data["authentication"].(string); okAuth {
		cfg.Authentication = superglue.AuthType(auth)
	}
	if dataPath, okDP := data["dataPath"].(string); okDP {
		cfg.DataPath = dataPath
	}
	if responseMapping, okRM := data["responseMapping"].(string); okRM {
		cfg.ResponseMapping = responseMapping
	}
	if instruction, okInstr := data["instruction"].(string); okInstr {
		cfg.Instruction = instruction
	}
	if responseSchema, okRS := data["responseSchema"].(map[string]interface{}); okRS {
		cfg.ResponseSchema = responseSchema
	}
	if headers, okH := data["headers"].(map[string]interface{}); okH {
		cfg.Headers = toStringMap(headers)
	}
	if queryParams, okQ := data["queryParams"].(map[string]interface{}); okQ {
		cfg.QueryParams = toStringMap(queryParams)
	}

	if paginationData, okPg := data["pagination"].(map[string]interface{}); okPg {
		pagination, err := convertPagination(paginationData)
		if err != nil {
			return nil, fmt.Errorf("invalid pagination: %w", err)
		}
		cfg.Pagination = pagination
	}

	return cfg, nil
}

// convertPagination converts a raw pagination map to a Pagination.
func convertPagination(data map[string]interface{}) (*superglue.Pagination, error) {
	typ, ok := data["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	p := &superglue.Pagination{Type: superglue.PaginationType(typ)}

	if pageSize, okPS := data["pageSize"].(string); okPS {
		p.PageSize = pageSize
	}
	if cursorPath, okCP := data["cursorPath"].(string); okCP {
		p.CursorPath = cursorPath
	}
	if stopCondition, okSC := data["stopCondition"].(string); okSC {
		p.StopCondition = stopCondition
	}

	return p, nil
}

// ConvertToIntegration converts parsed configuration data to an Integration.
// The input data should have been validated against the Integration schema
// before calling this function.
func ConvertToIntegration(data map[string]interface{}) (*superglue.Integration, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}

	id, ok := data["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("missing required field 'id'")
	}
	name, ok := data["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("missing required field 'name'")
	}
	urlHost, ok := data["urlHost"].(string)
	if !ok || urlHost == "" {
		return nil, fmt.Errorf("missing required field 'urlHost'")
	}

	integration := &superglue.Integration{ID: id, Name: name, URLHost: urlHost}

	if urlPath, okPath := data["urlPath"].(string); okPath {
		integration.URLPath = urlPath
	}
	if documentation, okDoc := data["documentation"].(string); okDoc {
		integration.Documentation = documentation
	}
	if documentationURL, okDocURL := data["documentationUrl"].(string); okDocURL {
		integration.DocumentationURL = documentationURL
	}
	if openApiSchema, okOAS := data["openApiSchema"].(string); okOAS {
		integration.OpenApiSchema = openApiSchema
	}
	if specificInstructions, okSI := data["specificInstructions"].(string); okSI {
		integration.SpecificInstructions = specificInstructions
	}
	if credentials, okCreds := data["credentials"].(map[string]interface{}); okCreds {
		creds, err := toStringMapStrict(credentials)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
		integration.Credentials = creds
	}

	return integration, nil
}

func toStringSlice(data []interface{}) []string {
	out := make([]string, 0, len(data))
	for _, v := range data {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toStringMap(data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toStringMapStrict(data map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(data))
	for k, v := range data {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value for key %q: expected string, got %T", k, v)
		}
		out[k] = s
	}
	return out, nil
}
