// Package healing implements the self-healing coordinator (§4.5): it wraps
// a single step execution, and on failure (or a negative post-success
// verdict) drives a bounded LLM repair loop that rewrites the step's
// ApiConfig and retries.
package healing

import "context"

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a plain (non-tool) completion call.
type CompletionRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"maxTokens"`
	Temperature  float64   `json:"temperature"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
}

// CompletionResponse is the result of a CompletionRequest.
type CompletionResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finishReason"`
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolCompletionRequest extends CompletionRequest with available tools.
type ToolCompletionRequest struct {
	CompletionRequest
	Tools []ToolDefinition `json:"tools"`
}

// ToolCompletionResponse extends CompletionResponse with requested tool calls.
// ToolCalls is non-empty when the model expects tool results back before it
// produces a final answer.
type ToolCompletionResponse struct {
	CompletionResponse
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Client is the LLM surface the healing coordinator needs: a plain
// completion call for the response evaluator, and a tool-enabled call for
// the repair loop. No provider implementation lives in this module:
// cmd/superglue's newRuntime passes a nil Client, and tests use a fake.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	ToolComplete(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error)
}

// DocumentationSearcher answers the searchDocumentation(query) tool by
// locating the most relevant excerpt of an integration's documentation.
type DocumentationSearcher interface {
	Search(ctx context.Context, documentation string, query string) (string, error)
}
