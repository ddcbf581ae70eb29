// Package superglue provides public types for the orchestration runtime.
// This package is intended to be importable by external projects that need
// to build or inspect workflows, integrations, and run results.
package superglue

import "time"

// AuthType identifies how an ApiConfig authenticates its requests.
type AuthType string

const (
	AuthNone      AuthType = "NONE"
	AuthHeader    AuthType = "HEADER"
	AuthQueryParam AuthType = "QUERY_PARAM"
	AuthOAuth2    AuthType = "OAUTH2"
)

// HTTPMethod is one of the methods an ApiConfig may issue.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodDelete  HTTPMethod = "DELETE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// PaginationType selects the pagination strategy for an ApiConfig.
type PaginationType string

const (
	PaginationOffsetBased PaginationType = "OFFSET_BASED"
	PaginationPageBased   PaginationType = "PAGE_BASED"
	PaginationCursorBased PaginationType = "CURSOR_BASED"
	PaginationDisabled    PaginationType = "DISABLED"
)

// ExecutionMode selects whether an ExecutionStep runs once or loops.
type ExecutionMode string

const (
	ExecutionDirect ExecutionMode = "DIRECT"
	ExecutionLoop   ExecutionMode = "LOOP"
)

// SelfHealingMode controls which phases of step execution consult the LLM repair loop.
type SelfHealingMode string

const (
	HealingEnabled       SelfHealingMode = "ENABLED"
	HealingRequestOnly   SelfHealingMode = "REQUEST_ONLY"
	HealingTransformOnly SelfHealingMode = "TRANSFORM_ONLY"
	HealingDisabled      SelfHealingMode = "DISABLED"
)

// Pagination configures how a step paginates through a response.
type Pagination struct {
	Type PaginationType `json:"type"`
	// PageSize is a string (not an int) because it is substituted into
	// request templates alongside other placeholder variables.
	PageSize string `json:"pageSize,omitempty"`
	// CursorPath is a dot-path into the response locating the next cursor.
	// Only meaningful for CURSOR_BASED pagination.
	CursorPath string `json:"cursorPath,omitempty"`
	// StopCondition is a JSONata-style expression evaluated over
	// {response, pageInfo}; a true result terminates pagination.
	StopCondition string `json:"stopCondition,omitempty"`
}

// EffectivePageSize returns PageSize, defaulting to "50" when unset.
func (p *Pagination) EffectivePageSize() string {
	if p == nil || p.PageSize == "" {
		return "50"
	}
	return p.PageSize
}

// ConfigType discriminates the purpose of an ApiConfig in the datastore's
// single configurations table (§4.8): the same shape serves a live API
// call, a one-shot data extract, and a standalone response transform.
type ConfigType string

const (
	ConfigTypeAPI       ConfigType = "API"
	ConfigTypeExtract   ConfigType = "EXTRACT"
	ConfigTypeTransform ConfigType = "TRANSFORM"
)

// ApiConfig describes a single parameterized HTTP or Postgres call.
type ApiConfig struct {
	ID              string            `json:"id"`
	Type            ConfigType        `json:"type,omitempty"`
	URLHost         string            `json:"urlHost"`
	URLPath         string            `json:"urlPath"`
	Method          HTTPMethod        `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	QueryParams     map[string]string `json:"queryParams,omitempty"`
	Body            string            `json:"body,omitempty"`
	Authentication  AuthType          `json:"authentication"`
	Pagination      *Pagination       `json:"pagination,omitempty"`
	DataPath        string            `json:"dataPath,omitempty"`
	ResponseSchema  map[string]interface{} `json:"responseSchema,omitempty"`
	ResponseMapping string            `json:"responseMapping,omitempty"`
	Instruction     string            `json:"instruction,omitempty"`
	CreatedAt       time.Time         `json:"createdAt,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt,omitempty"`
}

// Clone returns a deep-enough copy of the ApiConfig for safe per-iteration
// mutation by the self-healing coordinator (see DESIGN.md Open Question b).
func (a *ApiConfig) Clone() *ApiConfig {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Headers = cloneStringMap(a.Headers)
	clone.QueryParams = cloneStringMap(a.QueryParams)
	if a.Pagination != nil {
		p := *a.Pagination
		clone.Pagination = &p
	}
	return &clone
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExecutionStep is one step of a Workflow.
type ExecutionStep struct {
	ID              string        `json:"id"`
	ApiConfig       *ApiConfig    `json:"apiConfig"`
	IntegrationID   string        `json:"integrationId,omitempty"`
	ExecutionMode   ExecutionMode `json:"executionMode"`
	LoopSelector    string        `json:"loopSelector,omitempty"`
	LoopMaxIters    int           `json:"loopMaxIters,omitempty"`
	InputMapping    string        `json:"inputMapping,omitempty"`
	ResponseMapping string        `json:"responseMapping,omitempty"`
}

// Workflow is an ordered sequence of steps producing one result via a final transform.
type Workflow struct {
	ID             string                 `json:"id"`
	Steps          []ExecutionStep        `json:"steps"`
	IntegrationIDs []string               `json:"integrationIds,omitempty"`
	Instruction    string                 `json:"instruction,omitempty"`
	InputSchema    map[string]interface{} `json:"inputSchema,omitempty"`
	ResponseSchema map[string]interface{} `json:"responseSchema,omitempty"`
	FinalTransform string                 `json:"finalTransform,omitempty"`
	CreatedAt      time.Time              `json:"createdAt,omitempty"`
	UpdatedAt      time.Time              `json:"updatedAt,omitempty"`
}

// Integration is a named third-party API with credentials, documentation, and OAuth endpoints.
type Integration struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	URLHost              string            `json:"urlHost"`
	URLPath              string            `json:"urlPath,omitempty"`
	Credentials          map[string]string `json:"credentials,omitempty"`
	Documentation        string            `json:"documentation,omitempty"`
	DocumentationURL     string            `json:"documentationUrl,omitempty"`
	OpenApiSchema        string            `json:"openApiSchema,omitempty"`
	SpecificInstructions string            `json:"specificInstructions,omitempty"`
}

// OAuth-specific credential keys, stored within Integration.Credentials.
const (
	CredAccessToken  = "access_token"
	CredRefreshToken = "refresh_token"
	CredExpiresAt    = "expires_at"
	CredTokenType    = "token_type"
	CredClientID     = "client_id"
	CredClientSecret = "client_secret"
	CredTokenURL     = "token_url"
)

// RunResult is the outcome of a single ApiConfig call.
type RunResult struct {
	ID          string                 `json:"id"`
	Success     bool                   `json:"success"`
	Data        interface{}            `json:"data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt,omitempty"`
	Config      *ApiConfig             `json:"config,omitempty"`
	StatusCode  int                    `json:"statusCode,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// StepResult is the outcome of one ExecutionStep within a workflow run.
type StepResult struct {
	StepID          string      `json:"stepId"`
	Success         bool        `json:"success"`
	RawData         interface{} `json:"rawData,omitempty"`
	TransformedData interface{} `json:"transformedData,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// WorkflowResult is the outcome of a full Workflow run.
type WorkflowResult struct {
	RunResult
	StepResults []StepResult `json:"stepResults,omitempty"`
}

// Options configures a run: per-step execution settings (§4.4) plus the
// run-level WorkflowTimeout and WebhookURL.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
	CacheMode    string
	SelfHealing  SelfHealingMode
	TestMode     bool
	WebhookURL   string
	WorkflowTimeout time.Duration
}
