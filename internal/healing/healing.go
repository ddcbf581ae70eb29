package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/internal/stepexec"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// MaxCallRetries is the default repair budget (options.retries ?? this) when
// a step neither succeeds nor carries an explicit retries override.
const MaxCallRetries = 8

// maxToolRounds bounds how many searchDocumentation calls the model may make
// within a single repair invocation before the coordinator gives up on that
// round as non-terminating.
const maxToolRounds = 10

// defaultContextLength approximates the model's context window for sizing
// the sampled payload (contextLength/10, per §4.5 step 3); it is not tied to
// any specific provider's real window.
const defaultContextLength = 100_000

const (
	toolSearchDocumentation = "searchDocumentation"
	toolSubmit              = "submit"
)

// Verdict is the response evaluator's verdict on a successful call.
type Verdict struct {
	Success        bool   `json:"success"`
	RefactorNeeded bool   `json:"refactorNeeded"`
	ShortReason    string `json:"shortReason"`
}

// verdictRejected signals a negative evaluator verdict. It is a plain error,
// not a *errhandling.KindError, so it is never mistaken for the fatal
// AbortError that bypasses healing (§7): a rejected verdict should always
// be repairable.
type verdictRejected struct{ reason string }

func (v *verdictRejected) Error() string { return v.reason }

// Coordinator runs a step through stepexec and, on failure or a negative
// post-success verdict, drives an LLM repair loop that rewrites the step's
// ApiConfig and retries, within a bounded budget.
type Coordinator struct {
	executor *stepexec.Executor
	llm      Client
	docs     DocumentationSearcher
}

// New creates a self-healing coordinator.
func New(executor *stepexec.Executor, llm Client, docs DocumentationSearcher) *Coordinator {
	if docs == nil {
		docs = NewKeywordSearcher()
	}
	return &Coordinator{executor: executor, llm: llm, docs: docs}
}

// Execute runs cfg to completion, healing it along the way according to
// options.SelfHealing. It returns the final result, the (possibly repaired)
// config actually used to produce it, and an error if the budget was
// exhausted or a fatal error was raised.
func (c *Coordinator) Execute(ctx context.Context, cfg *superglue.ApiConfig, integration *superglue.Integration, payload map[string]interface{}, credentials map[string]string, options superglue.Options) (*httpcaller.Result, *superglue.ApiConfig, error) {
	mode := effectiveMode(options.SelfHealing)
	current := cfg.Clone()

	if mode == superglue.HealingDisabled || mode == superglue.HealingTransformOnly || c.llm == nil {
		result, err := c.executor.Execute(ctx, current, payload, credentials, options)
		return result, current, err
	}

	budget := options.Retries
	if budget <= 0 {
		budget = MaxCallRetries
	}

	var session []Message
	var lastErr error

	for attempt := 0; attempt <= budget; attempt++ {
		result, err := c.executor.Execute(ctx, current, payload, credentials, options)
		if err == nil {
			verdict, verr := c.evaluate(ctx, current, integration, result)
			if verr == nil && verdict.Success {
				return result, current, nil
			}
			reason := "response evaluator rejected the result"
			if verdict != nil && verdict.ShortReason != "" {
				reason = verdict.ShortReason
			}
			if verr != nil {
				reason = verr.Error()
			}
			err = &verdictRejected{reason: reason}
		}

		if kind, ok := errhandling.KindOf(err); ok && kind == errhandling.KindAbortError {
			return nil, current, err
		}

		lastErr = err
		if attempt == budget {
			break
		}

		masked := maskAndTruncate(err.Error(), credentials)
		session = append(session, Message{Role: "user", Content: fmt.Sprintf("the call failed: %s", masked)})
		logger.Warn("self-healing: step failed, attempting repair",
			"apiConfigId", current.ID, "attempt", attempt, "error", masked)

		repaired, session2, rerr := c.repair(ctx, current, integration, payload, credentials, session, attempt)
		if rerr != nil {
			return nil, current, rerr
		}
		current = repaired
		session = session2
	}

	masked := maskAndTruncate(lastErr.Error(), credentials)
	return nil, current, errhandling.ApiCallError(0, masked, lastErr)
}

func effectiveMode(mode superglue.SelfHealingMode) superglue.SelfHealingMode {
	if mode == "" {
		return superglue.HealingEnabled
	}
	return mode
}

// evaluate invokes the LLM response evaluator (§4.5 step 1).
func (c *Coordinator) evaluate(ctx context.Context, cfg *superglue.ApiConfig, integration *superglue.Integration, result *httpcaller.Result) (*Verdict, error) {
	data, err := json.Marshal(result.Data)
	if err != nil {
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Evaluate whether this API response satisfies the instruction.\n\nInstruction: %s\n\nDocumentation excerpt: %s\n\nResponse data: %s\n\nRespond with a single JSON object: {\"success\": bool, \"refactorNeeded\": bool, \"shortReason\": string}.",
		cfg.Instruction, integrationDocs(integration), samplePayload(string(data), defaultContextLength/10))

	resp, err := c.llm.Complete(ctx, CompletionRequest{
		SystemPrompt: "You are a meticulous QA reviewer for API responses. Reply with strict JSON only.",
		Messages:     []Message{{Role: "user", Content: prompt}},
		Temperature:  0,
		MaxTokens:    512,
	})
	if err != nil {
		return nil, err
	}

	jsonStr := extractJSON(resp.Content)
	if jsonStr == "" {
		return nil, fmt.Errorf("response evaluator did not return JSON")
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return nil, fmt.Errorf("parsing response evaluator verdict: %w", err)
	}
	return &verdict, nil
}

// repair invokes the LLM with searchDocumentation/submit tools (§4.5 step 3)
// and returns either a repaired ApiConfig or a fatal AbortError if the model
// reports the failure as unfixable.
func (c *Coordinator) repair(ctx context.Context, cfg *superglue.ApiConfig, integration *superglue.Integration, payload map[string]interface{}, credentials map[string]string, session []Message, retryCount int) (*superglue.ApiConfig, []Message, error) {
	cfgJSON, _ := json.Marshal(cfg)
	payloadJSON, _ := json.Marshal(payload)

	specificInstructions := ""
	if integration != nil {
		specificInstructions = integration.SpecificInstructions
	}

	system := fmt.Sprintf(
		"You are repairing a broken API call configuration so it succeeds.\n\n"+
			"Current config:\n%s\n\n"+
			"Integration-specific instructions: %s\n\n"+
			"Sampled payload: %s\n\n"+
			"Available credential names: %s\n\n"+
			"Call searchDocumentation to look up endpoint details as needed. "+
			"When you have a fix, call submit with the corrected config fields. "+
			"If the call cannot be fixed, respond with plain text explaining why instead of calling a tool.",
		string(cfgJSON), specificInstructions, samplePayload(string(payloadJSON), defaultContextLength/10),
		strings.Join(credentialNames(credentials), ", "))

	temperature := math.Min(float64(retryCount)*0.1, 1)
	tools := []ToolDefinition{
		{
			Name:        toolSearchDocumentation,
			Description: "Search the integration's documentation for relevant endpoint details.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{
			Name:        toolSubmit,
			Description: "Submit a repaired API call configuration.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"urlHost":         map[string]interface{}{"type": "string"},
					"urlPath":         map[string]interface{}{"type": "string"},
					"method":          map[string]interface{}{"type": "string"},
					"headers":         map[string]interface{}{"type": "object"},
					"queryParams":     map[string]interface{}{"type": "object"},
					"body":            map[string]interface{}{"type": "string"},
					"authentication":  map[string]interface{}{"type": "string"},
					"dataPath":        map[string]interface{}{"type": "string"},
					"responseMapping": map[string]interface{}{"type": "string"},
				},
			},
		},
	}

	messages := append([]Message{}, session...)
	if len(messages) == 0 {
		messages = []Message{{Role: "user", Content: "repair this API call configuration"}}
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := c.llm.ToolComplete(ctx, ToolCompletionRequest{
			CompletionRequest: CompletionRequest{
				SystemPrompt: system,
				Messages:     messages,
				Temperature:  temperature,
				MaxTokens:    2048,
			},
			Tools: tools,
		})
		if err != nil {
			return nil, session, errhandling.AbortError(fmt.Sprintf("self-healing LLM call failed: %v", err), err)
		}

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				return nil, session, errhandling.AbortError("self-healing LLM returned no repair and no explanation", nil)
			}
			return nil, session, errhandling.AbortError(resp.Content, nil)
		}

		messages = append(messages, Message{Role: "assistant", Content: summarizeToolCalls(resp.ToolCalls)})

		for _, call := range resp.ToolCalls {
			switch call.Name {
			case toolSubmit:
				repaired, perr := applySubmission(cfg, call.Input)
				if perr != nil {
					messages = append(messages, Message{Role: "user", Content: fmt.Sprintf("submit rejected: %v", perr)})
					continue
				}
				return repaired, append(messages, Message{Role: "user", Content: "repair accepted"}), nil
			case toolSearchDocumentation:
				query, _ := call.Input["query"].(string)
				excerpt, _ := c.docs.Search(ctx, integrationDocs(integration), query)
				messages = append(messages, Message{Role: "user", Content: fmt.Sprintf("searchDocumentation(%q) -> %s", query, excerpt)})
			default:
				messages = append(messages, Message{Role: "user", Content: fmt.Sprintf("unknown tool %q", call.Name)})
			}
		}
	}

	return nil, session, errhandling.AbortError("self-healing exceeded the maximum documentation search rounds", nil)
}

func integrationDocs(integration *superglue.Integration) string {
	if integration == nil {
		return ""
	}
	return integration.Documentation
}

func summarizeToolCalls(calls []ToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return "requested tools: " + strings.Join(names, ", ")
}

// applySubmission merges the submit tool's input fields onto a clone of cfg,
// leaving any field the model omitted unchanged.
func applySubmission(cfg *superglue.ApiConfig, input map[string]interface{}) (*superglue.ApiConfig, error) {
	repaired := cfg.Clone()

	if v, ok := input["urlHost"].(string); ok && v != "" {
		repaired.URLHost = v
	}
	if v, ok := input["urlPath"].(string); ok {
		repaired.URLPath = v
	}
	if v, ok := input["method"].(string); ok && v != "" {
		repaired.Method = superglue.HTTPMethod(strings.ToUpper(v))
	}
	if v, ok := input["body"].(string); ok {
		repaired.Body = v
	}
	if v, ok := input["authentication"].(string); ok && v != "" {
		repaired.Authentication = superglue.AuthType(strings.ToUpper(v))
	}
	if v, ok := input["dataPath"].(string); ok {
		repaired.DataPath = v
	}
	if v, ok := input["responseMapping"].(string); ok {
		repaired.ResponseMapping = v
	}
	if v, ok := input["headers"].(map[string]interface{}); ok {
		repaired.Headers = toStringMap(v)
	}
	if v, ok := input["queryParams"].(map[string]interface{}); ok {
		repaired.QueryParams = toStringMap(v)
	}

	if repaired.URLHost == "" {
		return nil, fmt.Errorf("repaired config is missing urlHost")
	}
	return repaired, nil
}

func toStringMap(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
