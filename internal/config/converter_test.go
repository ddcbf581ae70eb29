// Package config provides functionality for parsing and validating
// Workflow and Integration definition files (JSON/YAML).
package config

import (
	"testing"

	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

func TestConvertToWorkflow_ValidConfig(t *testing.T) {
	data := map[string]interface{}{
		"id":          "test-workflow",
		"instruction": "fetch a user and double a value",
		"steps": []interface{}{
			map[string]interface{}{
				"id": "fetch",
				"apiConfig": map[string]interface{}{
					"urlHost":        "https://api.example.com",
					"urlPath":        "/users/1",
					"method":         "GET",
					"authentication": "NONE",
				},
				"executionMode": "DIRECT",
			},
		},
		"finalTransform": `{"user": steps.fetch}`,
		"integrationIds": []interface{}{"crm"},
	}

	wf, err := ConvertToWorkflow(data)

	if err != nil {
		t.Fatalf("ConvertToWorkflow() error = %v", err)
	}
	if wf == nil {
		t.Fatal("ConvertToWorkflow() returned nil workflow")
	}

	if wf.ID != "test-workflow" {
		t.Errorf("expected ID 'test-workflow', got '%s'", wf.ID)
	}
	if wf.Instruction != "fetch a user and double a value" {
		t.Errorf("expected instruction to be set, got '%s'", wf.Instruction)
	}
	if wf.FinalTransform != `{"user": steps.fetch}` {
		t.Errorf("expected finalTransform to be set, got '%s'", wf.FinalTransform)
	}
	if len(wf.IntegrationIDs) != 1 || wf.IntegrationIDs[0] != "crm" {
		t.Errorf("expected integrationIds ['crm'], got %v", wf.IntegrationIDs)
	}

	if len(wf.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(wf.Steps))
	}
	step := wf.Steps[0]
	if step.ID != "fetch" {
		t.Errorf("expected step ID 'fetch', got '%s'", step.ID)
	}
	if step.ExecutionMode != superglue.ExecutionMode("DIRECT") {
		t.Errorf("expected executionMode DIRECT, got '%s'", step.ExecutionMode)
	}
	if step.ApiConfig == nil {
		t.Fatal("expected non-nil apiConfig")
	}
	if step.ApiConfig.URLHost != "https://api.example.com" {
		t.Errorf("expected urlHost 'https://api.example.com', got '%s'", step.ApiConfig.URLHost)
	}
	if step.ApiConfig.Method != superglue.HTTPMethod("GET") {
		t.Errorf("expected method GET, got '%s'", step.ApiConfig.Method)
	}
}

func TestConvertToWorkflow_NilData(t *testing.T) {
	wf, err := ConvertToWorkflow(nil)

	if err == nil {
		t.Error("expected error for nil data")
	}
	if wf != nil {
		t.Error("expected nil workflow for nil data")
	}
}

func TestConvertToWorkflow_MissingID(t *testing.T) {
	data := map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"id": "fetch",
				"apiConfig": map[string]interface{}{
					"urlHost": "https://api.example.com",
					"method":  "GET",
				},
			},
		},
	}

	wf, err := ConvertToWorkflow(data)

	if err == nil {
		t.Error("expected error for missing 'id'")
	}
	if wf != nil {
		t.Error("expected nil workflow for missing 'id'")
	}
}

func TestConvertToWorkflow_MissingSteps(t *testing.T) {
	data := map[string]interface{}{
		"id": "test-workflow",
	}

	wf, err := ConvertToWorkflow(data)

	if err == nil {
		t.Error("expected error for missing 'steps'")
	}
	if wf != nil {
		t.Error("expected nil workflow for missing 'steps'")
	}
}

func TestConvertToWorkflow_InvalidStepShape(t *testing.T) {
	data := map[string]interface{}{
		"id":    "test-workflow",
		"steps": []interface{}{"not-a-map"},
	}

	wf, err := ConvertToWorkflow(data)

	if err == nil {
		t.Error("expected error for a step that is not an object")
	}
	if wf != nil {
		t.Error("expected nil workflow for invalid step shape")
	}
}

func TestConvertToWorkflow_StepMissingApiConfig(t *testing.T) {
	data := map[string]interface{}{
		"id": "test-workflow",
		"steps": []interface{}{
			map[string]interface{}{"id": "fetch"},
		},
	}

	wf, err := ConvertToWorkflow(data)

	if err == nil {
		t.Error("expected error for step missing 'apiConfig'")
	}
	if wf != nil {
		t.Error("expected nil workflow for step missing 'apiConfig'")
	}
}

func TestConvertToWorkflow_MultipleSteps(t *testing.T) {
	data := map[string]interface{}{
		"id": "multi-step-workflow",
		"steps": []interface{}{
			map[string]interface{}{
				"id": "fetch",
				"apiConfig": map[string]interface{}{
					"urlHost": "https://api.example.com",
					"method":  "GET",
				},
			},
			map[string]interface{}{
				"id": "enrich",
				"apiConfig": map[string]interface{}{
					"urlHost": "https://api.example.com",
					"method":  "POST",
				},
				"integrationId": "crm",
			},
		},
	}

	wf, err := ConvertToWorkflow(data)

	if err != nil {
		t.Fatalf("ConvertToWorkflow() error = %v", err)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.Steps))
	}
	if wf.Steps[1].IntegrationID != "crm" {
		t.Errorf("expected second step integrationId 'crm', got '%s'", wf.Steps[1].IntegrationID)
	}
}

func TestConvertToWorkflow_LoopStepFields(t *testing.T) {
	data := map[string]interface{}{
		"id": "loop-workflow",
		"steps": []interface{}{
			map[string]interface{}{
				"id": "fetch-each",
				"apiConfig": map[string]interface{}{
					"urlHost": "https://api.example.com",
					"method":  "GET",
				},
				"executionMode": "LOOP",
				"loopSelector":  "input.ids",
				"loopMaxIters":  float64(10),
			},
		},
	}

	wf, err := ConvertToWorkflow(data)

	if err != nil {
		t.Fatalf("ConvertToWorkflow() error = %v", err)
	}
	step := wf.Steps[0]
	if step.ExecutionMode != superglue.ExecutionMode("LOOP") {
		t.Errorf("expected executionMode LOOP, got '%s'", step.ExecutionMode)
	}
	if step.LoopSelector != "input.ids" {
		t.Errorf("expected loopSelector 'input.ids', got '%s'", step.LoopSelector)
	}
	if step.LoopMaxIters != 10 {
		t.Errorf("expected loopMaxIters 10, got %d", step.LoopMaxIters)
	}
}

func TestConvertApiConfig_MissingURLHost(t *testing.T) {
	_, err := convertApiConfig(map[string]interface{}{"method": "GET"})
	if err == nil {
		t.Error("expected error for apiConfig missing 'urlHost'")
	}
}

func TestConvertApiConfig_MissingMethod(t *testing.T) {
	_, err := convertApiConfig(map[string]interface{}{"urlHost": "https://api.example.com"})
	if err == nil {
		t.Error("expected error for apiConfig missing 'method'")
	}
}

func TestConvertApiConfig_WithHeadersAndQueryParams(t *testing.T) {
	cfg, err := convertApiConfig(map[string]interface{}{
		"urlHost": "https://api.example.com",
		"method":  "GET",
		"headers": map[string]interface{}{"Accept": "application/json"},
		"queryParams": map[string]interface{}{
			"page": "1",
		},
	})

	if err != nil {
		t.Fatalf("convertApiConfig() error = %v", err)
	}
	if cfg.Headers["Accept"] != "application/json" {
		t.Errorf("expected Accept header 'application/json', got '%s'", cfg.Headers["Accept"])
	}
	if cfg.QueryParams["page"] != "1" {
		t.Errorf("expected page query param '1', got '%s'", cfg.QueryParams["page"])
	}
}

func TestConvertApiConfig_WithPagination(t *testing.T) {
	cfg, err := convertApiConfig(map[string]interface{}{
		"urlHost": "https://api.example.com",
		"method":  "GET",
		"pagination": map[string]interface{}{
			"type":       "CURSOR_BASED",
			"cursorPath": "meta.nextCursor",
		},
	})

	if err != nil {
		t.Fatalf("convertApiConfig() error = %v", err)
	}
	if cfg.Pagination == nil {
		t.Fatal("expected non-nil pagination")
	}
	if cfg.Pagination.Type != superglue.PaginationType("CURSOR_BASED") {
		t.Errorf("expected pagination type CURSOR_BASED, got '%s'", cfg.Pagination.Type)
	}
	if cfg.Pagination.CursorPath != "meta.nextCursor" {
		t.Errorf("expected cursorPath 'meta.nextCursor', got '%s'", cfg.Pagination.CursorPath)
	}
}

func TestConvertPagination_MissingType(t *testing.T) {
	_, err := convertPagination(map[string]interface{}{"cursorPath": "next"})
	if err == nil {
		t.Error("expected error for pagination missing 'type'")
	}
}

func TestConvertToIntegration_ValidConfig(t *testing.T) {
	data := map[string]interface{}{
		"id":      "test-integration",
		"name":    "Example API",
		"urlHost": "https://api.example.com",
		"urlPath": "/v1",
		"credentials": map[string]interface{}{
			"accessToken": "abc123",
			"tokenType":   "Bearer",
		},
	}

	integration, err := ConvertToIntegration(data)

	if err != nil {
		t.Fatalf("ConvertToIntegration() error = %v", err)
	}
	if integration.ID != "test-integration" {
		t.Errorf("expected ID 'test-integration', got '%s'", integration.ID)
	}
	if integration.Name != "Example API" {
		t.Errorf("expected name 'Example API', got '%s'", integration.Name)
	}
	if integration.URLHost != "https://api.example.com" {
		t.Errorf("expected urlHost 'https://api.example.com', got '%s'", integration.URLHost)
	}
	if integration.Credentials["accessToken"] != "abc123" {
		t.Errorf("expected accessToken credential 'abc123', got '%s'", integration.Credentials["accessToken"])
	}
}

func TestConvertToIntegration_NilData(t *testing.T) {
	integration, err := ConvertToIntegration(nil)

	if err == nil {
		t.Error("expected error for nil data")
	}
	if integration != nil {
		t.Error("expected nil integration for nil data")
	}
}

func TestConvertToIntegration_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{
			name: "missing id",
			data: map[string]interface{}{
				"name":    "Example API",
				"urlHost": "https://api.example.com",
			},
		},
		{
			name: "missing name",
			data: map[string]interface{}{
				"id":      "test-integration",
				"urlHost": "https://api.example.com",
			},
		},
		{
			name: "missing urlHost",
			data: map[string]interface{}{
				"id":   "test-integration",
				"name": "Example API",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integration, err := ConvertToIntegration(tt.data)

			if err == nil {
				t.Error("expected an error")
			}
			if integration != nil {
				t.Error("expected nil integration for missing required field")
			}
		})
	}
}

func TestConvertToIntegration_NonStringCredentialRejected(t *testing.T) {
	data := map[string]interface{}{
		"id":      "test-integration",
		"name":    "Example API",
		"urlHost": "https://api.example.com",
		"credentials": map[string]interface{}{
			"expiresAt": float64(1234567890),
		},
	}

	integration, err := ConvertToIntegration(data)

	if err == nil {
		t.Error("expected error for a non-string credential value")
	}
	if integration != nil {
		t.Error("expected nil integration for invalid credentials")
	}
}

func TestToStringSlice(t *testing.T) {
	out := toStringSlice([]interface{}{"a", "b", float64(3), "c"})
	if len(out) != 3 {
		t.Fatalf("expected 3 strings (non-string entries skipped), got %d", len(out))
	}
	if out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Errorf("unexpected slice contents: %v", out)
	}
}

func TestToStringMap(t *testing.T) {
	out := toStringMap(map[string]interface{}{"a": "1", "b": float64(2)})
	if len(out) != 1 {
		t.Fatalf("expected 1 entry (non-string value skipped), got %d", len(out))
	}
	if out["a"] != "1" {
		t.Errorf("expected a=1, got %v", out)
	}
}
