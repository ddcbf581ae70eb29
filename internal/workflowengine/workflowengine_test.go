package workflowengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/exprlang"
	"github.com/Pallavikumarimdb/superglue/internal/healing"
	"github.com/Pallavikumarimdb/superglue/internal/oauth"
	"github.com/Pallavikumarimdb/superglue/internal/stepexec"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

func newTestEngine(t *testing.T, oauthClient *oauth.Client, opts Options) (*Engine, *exprlang.Evaluator) {
	t.Helper()
	evaluator := exprlang.NewEvaluator(2 * time.Second)
	executor := stepexec.New(nil, evaluator)
	coordinator := healing.New(executor, nil, healing.NewKeywordSearcher())
	return New(coordinator, evaluator, oauthClient, opts), evaluator
}

func TestEngine_Run_DirectStepFeedsFinalTransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"value": 42})
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, nil, Options{})
	wf := &superglue.Workflow{
		ID: "wf1",
		Steps: []superglue.ExecutionStep{
			{
				ID:            "fetch",
				ApiConfig:     &superglue.ApiConfig{URLHost: server.URL, Method: superglue.MethodGet},
				ExecutionMode: superglue.ExecutionDirect,
			},
		},
		FinalTransform: "{\"doubled\": steps.fetch.value * 2}",
	}

	result := engine.Run(context.Background(), "org1", wf, nil, nil, nil, superglue.Options{})
	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if len(result.StepResults) != 1 || !result.StepResults[0].Success {
		t.Fatalf("StepResults = %+v, want one successful step", result.StepResults)
	}
	data, ok := result.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data = %#v, want a map", result.Data)
	}
	if doubled, _ := data["doubled"].(float64); doubled != 84 {
		t.Errorf("doubled = %v, want 84", data["doubled"])
	}
}

func TestEngine_Run_StepFailureStopsWorkflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, nil, Options{})
	wf := &superglue.Workflow{
		ID: "wf2",
		Steps: []superglue.ExecutionStep{
			{ID: "a", ApiConfig: &superglue.ApiConfig{URLHost: server.URL, Method: superglue.MethodGet}, ExecutionMode: superglue.ExecutionDirect},
			{ID: "b", ApiConfig: &superglue.ApiConfig{URLHost: server.URL, Method: superglue.MethodGet}, ExecutionMode: superglue.ExecutionDirect},
		},
	}

	result := engine.Run(context.Background(), "org1", wf, nil, nil, nil, superglue.Options{})
	if result.Success {
		t.Fatal("Run() succeeded, want failure from the 404 step")
	}
	if len(result.StepResults) != 1 {
		t.Fatalf("StepResults = %+v, want the second step never to have run", result.StepResults)
	}
	if result.Error == "" {
		t.Error("Error is empty, want the step failure recorded")
	}
}

func TestEngine_Run_NoSteps(t *testing.T) {
	engine, _ := newTestEngine(t, nil, Options{})
	wf := &superglue.Workflow{ID: "empty"}

	result := engine.Run(context.Background(), "org1", wf, nil, nil, nil, superglue.Options{})
	if result.Success {
		t.Fatal("Run() succeeded for a workflow with no steps")
	}
	if len(result.StepResults) != 0 {
		t.Errorf("StepResults = %+v, want none", result.StepResults)
	}
}

func TestEngine_Run_LoopStepPreservesOrderUnderConcurrency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := r.URL.Query().Get("n")
		// Invert the delay so later elements finish first, stress-testing
		// that results are placed by index rather than completion order.
		var delay time.Duration
		switch n {
		case "1":
			delay = 30 * time.Millisecond
		case "2":
			delay = 15 * time.Millisecond
		case "3":
			delay = 0
		}
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"n": n})
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, nil, Options{MaxLoopConcurrency: 3})
	wf := &superglue.Workflow{
		ID: "wf3",
		Steps: []superglue.ExecutionStep{
			{
				ID: "fanout",
				ApiConfig: &superglue.ApiConfig{
					URLHost:     server.URL,
					Method:      superglue.MethodGet,
					QueryParams: map[string]string{"n": "{item}"},
				},
				ExecutionMode: superglue.ExecutionLoop,
				LoopSelector:  "payload.items",
			},
		},
	}

	payload := map[string]interface{}{"items": []interface{}{"1", "2", "3"}}
	result := engine.Run(context.Background(), "org1", wf, payload, nil, nil, superglue.Options{})
	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}

	raw, ok := result.StepResults[0].RawData.([]interface{})
	if !ok || len(raw) != 3 {
		t.Fatalf("RawData = %#v, want a 3-element slice", result.StepResults[0].RawData)
	}
	for i, want := range []string{"1", "2", "3"} {
		entry, ok := raw[i].(map[string]interface{})
		if !ok || entry["n"] != want {
			t.Errorf("RawData[%d] = %#v, want n=%q", i, raw[i], want)
		}
	}
}

func TestEngine_Run_LoopStepRespectsIterationCap(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, nil, Options{})
	wf := &superglue.Workflow{
		ID: "wf4",
		Steps: []superglue.ExecutionStep{
			{
				ID:            "fanout",
				ApiConfig:     &superglue.ApiConfig{URLHost: server.URL, Method: superglue.MethodGet},
				ExecutionMode: superglue.ExecutionLoop,
				LoopSelector:  "payload.items",
				LoopMaxIters:  2,
			},
		},
	}

	payload := map[string]interface{}{"items": []interface{}{1, 2, 3, 4, 5}}
	result := engine.Run(context.Background(), "org1", wf, payload, nil, nil, superglue.Options{})
	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if calls != 2 {
		t.Errorf("server received %d calls, want 2 (loopMaxIters cap)", calls)
	}
	raw, _ := result.StepResults[0].RawData.([]interface{})
	if len(raw) != 2 {
		t.Errorf("RawData has %d entries, want 2", len(raw))
	}
}

func TestEngine_Run_RefreshesExpiredOAuthTokenBeforeStep(t *testing.T) {
	var sawAuthHeader string
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer apiServer.Close()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := url.ParseQuery(mustReadBody(r))
		if body.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	integration := &superglue.Integration{
		ID: "slack",
		Credentials: map[string]string{
			superglue.CredAccessToken:  "stale-token",
			superglue.CredRefreshToken: "refresh-me",
			superglue.CredExpiresAt:    time.Now().Add(-time.Hour).Format(time.RFC3339),
			superglue.CredTokenURL:     tokenServer.URL,
		},
	}

	var persisted bool
	resolve := func(_ context.Context, _ string, id string) (*superglue.Integration, error) {
		if id != "slack" {
			return nil, nil
		}
		return integration, nil
	}
	persist := func(_ context.Context, _ string, in *superglue.Integration) error {
		persisted = true
		integration.Credentials = in.Credentials
		return nil
	}

	oauthClient := oauth.New(2*time.Second, nil)
	engine, _ := newTestEngine(t, oauthClient, Options{})

	wf := &superglue.Workflow{
		ID: "wf5",
		Steps: []superglue.ExecutionStep{
			{
				ID: "call",
				ApiConfig: &superglue.ApiConfig{
					URLHost:        apiServer.URL,
					Method:         superglue.MethodGet,
					Authentication: superglue.AuthOAuth2,
				},
				IntegrationID: "slack",
				ExecutionMode: superglue.ExecutionDirect,
			},
		},
	}

	result := engine.Run(context.Background(), "org1", wf, nil, resolve, persist, superglue.Options{})
	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if !persisted {
		t.Error("refreshed integration was never persisted")
	}
	if sawAuthHeader != "Bearer fresh-token" {
		t.Errorf("Authorization header = %q, want %q", sawAuthHeader, "Bearer fresh-token")
	}
}

func mustReadBody(r *http.Request) string {
	body, _ := io.ReadAll(r.Body)
	return string(body)
}
