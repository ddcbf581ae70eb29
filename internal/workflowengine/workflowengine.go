// Package workflowengine sequences a Workflow's steps to completion,
// generalizing the reference pipeline's staged Input -> Filters -> Output
// orchestration into an arbitrary-length chain of self-healing API calls
// that feed each other's outputs.
package workflowengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/exprlang"
	"github.com/Pallavikumarimdb/superglue/internal/healing"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/internal/oauth"
	"github.com/Pallavikumarimdb/superglue/internal/webhook"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// DefaultMaxLoopIterations bounds a LOOP step whose loopMaxIters is unset.
// The spec that drives this engine names no concrete number for this
// ceiling (only a concurrency default); 100 keeps a runaway loopSelector
// from iterating without bound while still covering any realistic page of
// related records (see DESIGN.md Open Question).
const DefaultMaxLoopIterations = 100

// DefaultMaxLoopConcurrency bounds how many LOOP iterations of a step run
// at once when the caller does not override it.
const DefaultMaxLoopConcurrency = 5

// loopItemVar is the scope key a LOOP iteration's element is bound under.
const loopItemVar = "item"

// IntegrationResolver looks up an integration by id, scoped to an org.
type IntegrationResolver func(ctx context.Context, orgID, integrationID string) (*superglue.Integration, error)

// IntegrationPersister saves an integration's credentials (e.g. after an
// OAuth refresh) back to the datastore.
type IntegrationPersister func(ctx context.Context, orgID string, integration *superglue.Integration) error

// Options configures an Engine instance-wide; per-run behavior (timeout,
// retries, self-healing mode) is still carried by superglue.Options.
type Options struct {
	MaxLoopIterations  int
	MaxLoopConcurrency int
}

// Engine runs Workflows step by step, applying input/response mappings,
// OAuth token refresh, and self-healing around every step.
type Engine struct {
	healing            *healing.Coordinator
	evaluator          *exprlang.Evaluator
	oauthClient        *oauth.Client
	webhookNotifier    *webhook.Notifier
	maxLoopIterations  int
	maxLoopConcurrency int
}

// New creates a workflow engine. coordinator and evaluator must be
// non-nil; oauthClient may be nil for deployments with no OAuth2
// integrations, in which case EnsureFresh is simply skipped.
func New(coordinator *healing.Coordinator, evaluator *exprlang.Evaluator, oauthClient *oauth.Client, opts Options) *Engine {
	maxIters := opts.MaxLoopIterations
	if maxIters <= 0 {
		maxIters = DefaultMaxLoopIterations
	}
	maxConcurrency := opts.MaxLoopConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxLoopConcurrency
	}
	return &Engine{
		healing:            coordinator,
		evaluator:          evaluator,
		oauthClient:        oauthClient,
		webhookNotifier:    webhook.New(0),
		maxLoopIterations:  maxIters,
		maxLoopConcurrency: maxConcurrency,
	}
}

// Run executes wf's steps in order and evaluates its final transform. It
// always returns a populated WorkflowResult, including on failure: a step
// or transform error is recorded on the result rather than returned, so
// callers never need a second error path to report a run's outcome.
func (e *Engine) Run(ctx context.Context, orgID string, wf *superglue.Workflow, payload map[string]interface{}, resolve IntegrationResolver, persist IntegrationPersister, options superglue.Options) *superglue.WorkflowResult {
	started := time.Now()
	result := &superglue.WorkflowResult{RunResult: superglue.RunResult{
		ID:        uuid.New().String(),
		StartedAt: started,
	}}

	runCtx := logger.RunContext{WorkflowID: wf.ID, RunID: result.ID}
	logger.LogRunStart(runCtx)

	if len(wf.Steps) == 0 {
		result.Error = ErrNoSteps.Error()
		result.CompletedAt = time.Now()
		logger.LogRunEnd(runCtx, runStatus(false), 0, result.CompletedAt.Sub(started))
		e.webhookNotifier.NotifyAsync(options.WebhookURL, result)
		return result
	}

	if options.WorkflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.WorkflowTimeout)
		defer cancel()
	}

	stepOutputs := make(map[string]interface{}, len(wf.Steps))
	credentialsUnion := make(map[string]string)
	success := true

	for i, step := range wf.Steps {
		stepCtx := runCtx
		stepCtx.Stage = "step"
		stepCtx.StepID = step.ID
		stepCtx.StepIndex = i
		logger.LogStepStart(stepCtx)
		stepStarted := time.Now()

		stepResult, output := e.executeStep(ctx, orgID, step, payload, stepOutputs, credentialsUnion, resolve, persist, options)
		result.StepResults = append(result.StepResults, stepResult)

		var runErr *logger.RunError
		if !stepResult.Success {
			runErr = &logger.RunError{Code: "STEP_FAILED", Message: stepResult.Error}
		}
		logger.LogStepEnd(stepCtx, 1, time.Since(stepStarted), runErr)

		if !stepResult.Success {
			success = false
			result.Error = fmt.Sprintf("step %q failed: %s", step.ID, stepResult.Error)
			break
		}
		stepOutputs[step.ID] = output
	}

	if success {
		data, err := e.evaluateFinalTransform(ctx, wf, payload, stepOutputs, credentialsUnion)
		if err != nil {
			success = false
			result.Error = fmt.Sprintf("final transform failed: %v", err)
		} else {
			result.Data = data
		}
	}

	result.Success = success
	result.CompletedAt = time.Now()
	logger.LogRunEnd(runCtx, runStatus(success), len(result.StepResults), result.CompletedAt.Sub(started))
	e.webhookNotifier.NotifyAsync(options.WebhookURL, result)
	return result
}

func runStatus(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// executeStep resolves the step's integration, ensures its OAuth token is
// fresh, evaluates its input mapping, runs it once (DIRECT) or fanned out
// over loopSelector's elements (LOOP), and applies its response mapping.
// It never returns a Go error: failure is always encoded in the returned
// StepResult so Run's loop has one place to check for it.
func (e *Engine) executeStep(ctx context.Context, orgID string, step superglue.ExecutionStep, payload map[string]interface{}, stepOutputs map[string]interface{}, credentialsUnion map[string]string, resolve IntegrationResolver, persist IntegrationPersister, options superglue.Options) (superglue.StepResult, interface{}) {
	stepResult := superglue.StepResult{StepID: step.ID}

	integration, credentials, err := e.prepareIntegration(ctx, orgID, step.IntegrationID, resolve, persist)
	if err != nil {
		stepResult.Error = err.Error()
		return stepResult, nil
	}
	for k, v := range credentials {
		credentialsUnion[k] = v
	}

	scope := baseScope(payload, credentials, stepOutputs)
	cfg := applyOAuthHeaders(step.ApiConfig, integration)

	var rawData interface{}
	switch step.ExecutionMode {
	case superglue.ExecutionLoop:
		rawData, err = e.runLoop(ctx, step, cfg, integration, credentials, scope, options)
	default:
		var inputPayload map[string]interface{}
		inputPayload, err = e.resolveInput(ctx, step.InputMapping, scope)
		if err == nil {
			var res *httpcaller.Result
			res, _, err = e.healing.Execute(ctx, cfg, integration, inputPayload, credentials, options)
			if res != nil {
				rawData = res.Data
			}
		}
	}
	if err != nil {
		stepResult.Error = err.Error()
		return stepResult, nil
	}

	stepResult.RawData = rawData
	transformed, err := e.applyResponseMapping(ctx, step.ResponseMapping, rawData)
	if err != nil {
		stepResult.Error = err.Error()
		return stepResult, nil
	}

	stepResult.Success = true
	stepResult.TransformedData = transformed
	return stepResult, transformed
}

// prepareIntegration resolves step's integration (if any), refreshes its
// OAuth token when expired, and returns the credentials to carry into
// template substitution and the step's scope.
func (e *Engine) prepareIntegration(ctx context.Context, orgID, integrationID string, resolve IntegrationResolver, persist IntegrationPersister) (*superglue.Integration, map[string]string, error) {
	if integrationID == "" || resolve == nil {
		return nil, nil, nil
	}

	integration, err := resolve(ctx, orgID, integrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving integration %q: %w", integrationID, err)
	}
	if integration == nil {
		return nil, nil, nil
	}

	if e.oauthClient != nil {
		persistFn := func(ctx context.Context, in *superglue.Integration) error {
			if persist == nil {
				return nil
			}
			return persist(ctx, orgID, in)
		}
		if err := e.oauthClient.EnsureFresh(ctx, orgID, integration, persistFn); err != nil {
			return nil, nil, fmt.Errorf("refreshing OAuth token for integration %q: %w", integrationID, err)
		}
	}

	return integration, integration.Credentials, nil
}

// applyOAuthHeaders merges the bearer Authorization header for an OAUTH2
// step into a fresh clone of cfg, leaving the shared step definition
// untouched (httpcaller.applyAuth is a no-op for AuthOAuth2 and expects
// the header already present, per its own doc comment).
func applyOAuthHeaders(cfg *superglue.ApiConfig, integration *superglue.Integration) *superglue.ApiConfig {
	if cfg == nil || integration == nil || cfg.Authentication != superglue.AuthOAuth2 {
		return cfg
	}
	headers := oauth.BuildHeaders(integration)
	if len(headers) == 0 {
		return cfg
	}
	merged := cfg.Clone()
	if merged.Headers == nil {
		merged.Headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		merged.Headers[k] = v
	}
	return merged
}

// baseScope is the {payload, credentials, steps} environment inputMapping,
// loopSelector, and finalTransform are all evaluated against.
func baseScope(payload map[string]interface{}, credentials map[string]string, stepOutputs map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"payload":     payload,
		"credentials": stringMapToAny(credentials),
		"steps":       stepOutputs,
	}
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// resolveInput evaluates a step's inputMapping expression over scope. An
// unset inputMapping defaults to the merged scope itself, so a step with
// no mapping still sees {payload, credentials, steps} when its templates
// reference those names directly.
func (e *Engine) resolveInput(ctx context.Context, inputMapping string, scope map[string]interface{}) (map[string]interface{}, error) {
	if inputMapping == "" {
		return scope, nil
	}
	val, err := e.evaluator.Evaluate(ctx, inputMapping, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating inputMapping: %w", err)
	}
	return asMap(val), nil
}

func asMap(val interface{}) map[string]interface{} {
	if m, ok := val.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": val}
}

// applyResponseMapping evaluates a step's responseMapping over {response}.
// A step with no responseMapping passes its raw data through unchanged.
func (e *Engine) applyResponseMapping(ctx context.Context, responseMapping string, rawData interface{}) (interface{}, error) {
	if responseMapping == "" {
		return rawData, nil
	}
	val, err := e.evaluator.Evaluate(ctx, responseMapping, map[string]interface{}{"response": rawData})
	if err != nil {
		return nil, fmt.Errorf("evaluating responseMapping: %w", err)
	}
	return val, nil
}

// evaluateFinalTransform produces the run's final data from {steps,
// payload, credentials}. credentialsUnion is the union of every
// integration's credentials resolved while running the workflow's steps,
// last-write-wins on key collisions. An unset finalTransform passes the
// step outputs through unchanged.
func (e *Engine) evaluateFinalTransform(ctx context.Context, wf *superglue.Workflow, payload map[string]interface{}, stepOutputs map[string]interface{}, credentialsUnion map[string]string) (interface{}, error) {
	if wf.FinalTransform == "" {
		return stepOutputs, nil
	}
	scope := map[string]interface{}{
		"steps":       stepOutputs,
		"payload":     payload,
		"credentials": stringMapToAny(credentialsUnion),
	}
	val, err := e.evaluator.Evaluate(ctx, wf.FinalTransform, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating finalTransform: %w", err)
	}
	return val, nil
}

// runLoop evaluates step.LoopSelector against scope, caps the resulting
// element count, and fans the step out across those elements bounded by
// the engine's loop concurrency limit. Results are collected into a slice
// indexed by iteration so output order matches loopSelector's order
// regardless of which goroutine finishes first.
func (e *Engine) runLoop(ctx context.Context, step superglue.ExecutionStep, cfg *superglue.ApiConfig, integration *superglue.Integration, credentials map[string]string, scope map[string]interface{}, options superglue.Options) ([]interface{}, error) {
	elements, err := e.evaluator.EvaluateArray(ctx, step.LoopSelector, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating loopSelector: %w", err)
	}

	maxIters := e.maxLoopIterations
	if step.LoopMaxIters > 0 {
		maxIters = step.LoopMaxIters
	}
	if len(elements) > maxIters {
		logger.Warn("loop step truncated to its iteration cap",
			"stepId", step.ID, "selectorCount", len(elements), "cap", maxIters)
		elements = elements[:maxIters]
	}

	maxConcurrency := e.maxLoopConcurrency
	if maxConcurrency > len(elements) {
		maxConcurrency = len(elements)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]interface{}, len(elements))
	errs := make([]error, len(elements))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup

	for i, element := range elements {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context was canceled or timed out; stop launching further
			// iterations but let already-started ones finish below.
			errs[i] = err
			continue
		}

		wg.Add(1)
		go func(i int, element interface{}) {
			defer wg.Done()
			defer sem.Release(1)

			iterScope := make(map[string]interface{}, len(scope)+1)
			for k, v := range scope {
				iterScope[k] = v
			}
			iterScope[loopItemVar] = element

			inputPayload, err := e.resolveInput(ctx, step.InputMapping, iterScope)
			if err != nil {
				errs[i] = err
				return
			}

			res, _, err := e.healing.Execute(ctx, cfg, integration, inputPayload, credentials, options)
			if err != nil {
				errs[i] = err
				return
			}
			if res != nil {
				results[i] = res.Data
			}
		}(i, element)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("loop iteration %d: %w", i, err)
		}
	}
	return results, nil
}

// ErrNoSteps indicates a workflow with no steps was submitted for
// execution; callers should validate against this before invoking Run.
var ErrNoSteps = errhandling.AbortError("workflow has no steps", nil)
