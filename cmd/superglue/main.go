// Package main provides the CLI entry point for the superglue runtime.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Pallavikumarimdb/superglue/internal/config"
	"github.com/Pallavikumarimdb/superglue/internal/datastore"
	"github.com/Pallavikumarimdb/superglue/internal/exprlang"
	"github.com/Pallavikumarimdb/superglue/internal/healing"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/internal/oauth"
	"github.com/Pallavikumarimdb/superglue/internal/pgcaller"
	"github.com/Pallavikumarimdb/superglue/internal/stepexec"
	"github.com/Pallavikumarimdb/superglue/internal/workflowengine"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Global flags
	verbose bool
	quiet   bool

	// Run command flags
	dryRun     bool
	runOrgID   string
	payloadRaw string
	webhookURL string

	// serve-local command flags
	serveAddr string

	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitRuntimeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "superglue",
	Short: "superglue - self-healing API orchestration engine",
	Long: `superglue runs declarative Workflows that chain self-healing API calls.

It parses and validates Workflow/Integration definitions (JSON/YAML format),
then executes a Workflow's steps in order, repairing failing requests with
an LLM-driven loop when self-healing is enabled.

Examples:
  # Validate a workflow or integration definition
  superglue validate workflow.json

  # Run a workflow
  superglue run workflow.yaml --org acme

  # Preview a workflow's requests without issuing them
  superglue run --dry-run workflow.json`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetLevel(slog.LevelDebug)
		} else if quiet {
			logger.SetLevel(slog.LevelError)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <definition-file>",
	Short: "Validate a Workflow or Integration definition file",
	Long: `Validate a Workflow or Integration definition file against its schema.

Supports both JSON and YAML formats. The format is auto-detected from the
file extension (.json, .yaml, .yml) or content; the document kind
(Workflow vs. Integration) is auto-detected by the presence of a "steps"
array.

Exit codes:
  0 - Definition is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Run a Workflow from a definition file",
	Long: `Run a Workflow defined in the given file.

The definition is first validated against the schema. If validation fails,
the workflow does not execute. --dry-run resolves and prints each step's
request (method, URL, headers, a body preview) with credentials redacted,
without issuing any of them.

Exit codes:
  0 - Workflow ran to completion and succeeded
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors (could not construct the runtime or resolve the file,
      or the workflow ran and its result reports failure)`,
	Args: cobra.ExactArgs(1),
	Run:  runWorkflow,
}

var serveLocalCmd = &cobra.Command{
	Use:   "serve-local",
	Short: "Run an in-process HTTP harness that executes workflows against the configured datastore",
	Long: `serve-local starts a minimal, non-GraphQL HTTP server for smoke-testing a
datastore and workflow engine locally: POST a {orgId, workflowId, payload}
body to /run and it executes that workflow and returns the WorkflowResult
as JSON. Intended for local development and integration tests, not as a
production API surface (§6 names GraphQL as the primary one; that is out
of this build's scope).`,
	Run: runServeLocal,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version, commit hash, and build date information.",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and print each step's request without issuing it")
	runCmd.Flags().StringVar(&runOrgID, "org", "default", "Organization id to scope datastore lookups and the run")
	runCmd.Flags().StringVar(&payloadRaw, "payload", "{}", "JSON payload passed as the workflow's input")
	runCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "URL to POST the WorkflowResult to once the run completes")

	serveLocalCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8089", "Address to listen on")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveLocalCmd)
	rootCmd.AddCommand(versionCmd)
}

func runValidate(_ *cobra.Command, args []string) {
	configPath := args[0]

	if !quiet {
		fmt.Printf("Validating definition: %s\n", configPath)
	}

	result := config.ParseConfig(configPath)

	if len(result.ParseErrors) > 0 {
		printParseErrors(result.ParseErrors)
		os.Exit(ExitParseError)
	}

	if len(result.ValidationErrors) > 0 {
		printValidationErrors(result.ValidationErrors)
		os.Exit(ExitValidationError)
	}

	if !quiet {
		kind := config.DetectKind(result.Data)
		fmt.Printf("✓ Definition is valid (format: %s, kind: %s)\n", result.Format, kind)

		if verbose && result.Data != nil {
			if id, ok := result.Data["id"].(string); ok {
				fmt.Printf("  ID: %s\n", id)
			}
			if kind == config.KindWorkflow {
				if steps, ok := result.Data["steps"].([]interface{}); ok {
					fmt.Printf("  Steps: %d\n", len(steps))
				}
			} else if name, ok := result.Data["name"].(string); ok {
				fmt.Printf("  Name: %s\n", name)
			}
		}
	}

	os.Exit(ExitSuccess)
}

func runWorkflow(_ *cobra.Command, args []string) {
	workflowPath := args[0]

	if !quiet {
		fmt.Printf("Loading workflow: %s\n", workflowPath)
	}

	loader := config.NewLoader("")
	wf, err := loader.LoadWorkflow(workflowPath)
	if err != nil {
		reportLoadError(err)
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "✗ Invalid --payload JSON: %v\n", err)
		os.Exit(ExitRuntimeError)
	}

	rt, err := newRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Failed to initialize runtime: %v\n", err)
		os.Exit(ExitRuntimeError)
	}
	defer rt.Close(context.Background())

	ctx := context.Background()

	if dryRun {
		if !quiet {
			fmt.Println("Previewing workflow requests (dry-run, nothing will be sent)...")
		}
		runDryRun(ctx, rt, wf, runOrgID)
		os.Exit(ExitSuccess)
	}

	if !quiet {
		fmt.Println("Executing workflow...")
	}

	options := superglue.Options{WebhookURL: webhookURL}
	result := rt.engine.Run(ctx, runOrgID, wf, payload, rt.resolveIntegration, rt.persistIntegration, options)

	printWorkflowResult(result)
	if !result.Success {
		os.Exit(ExitRuntimeError)
	}
	os.Exit(ExitSuccess)
}

// runDryRun previews every step's request in declared order. Steps whose
// integration cannot be resolved (missing id, or no datastore entry yet)
// still preview using the step's bare ApiConfig, since a preview never
// needs live credentials to exist, only to mask them when present.
func runDryRun(ctx context.Context, rt *runtimeStack, wf *superglue.Workflow, orgID string) {
	for _, step := range wf.Steps {
		var credentials map[string]string
		if step.IntegrationID != "" {
			if integration, err := rt.resolveIntegration(ctx, orgID, step.IntegrationID); err == nil && integration != nil {
				credentials = integration.Credentials
			}
		}

		preview, err := rt.executor.Preview(step.ApiConfig, map[string]interface{}{}, credentials, superglue.Options{})
		if err != nil {
			fmt.Printf("Step %q: could not preview: %v\n", step.ID, err)
			continue
		}
		printPreview(step.ID, preview)
	}
}

func printPreview(stepID string, p *httpcaller.Preview) {
	fmt.Printf("Step %q:\n", stepID)
	fmt.Printf("  %s %s\n", p.Method, p.URL)
	for k, v := range p.Headers {
		fmt.Printf("  %s: %s\n", k, v)
	}
	if p.Body != "" {
		fmt.Printf("  body: %s\n", p.Body)
	}
}

func runServeLocal(_ *cobra.Command, _ []string) {
	rt, err := newRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Failed to initialize runtime: %v\n", err)
		os.Exit(ExitRuntimeError)
	}
	defer rt.Close(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/run", rt.handleRun)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	server := &http.Server{Addr: serveAddr, Handler: mux}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("serve-local listening", "addr", serveAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		logger.Info("serve-local shutdown requested", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ serve-local server error: %v\n", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "✗ serve-local shutdown error: %v\n", err)
		os.Exit(ExitRuntimeError)
	}
	os.Exit(ExitSuccess)
}

// runRequest is the /run endpoint's request body.
type runRequest struct {
	OrgID      string                 `json:"orgId"`
	WorkflowID string                 `json:"workflowId"`
	Payload    map[string]interface{} `json:"payload"`
}

func (rt *runtimeStack) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.OrgID == "" || req.WorkflowID == "" {
		http.Error(w, "orgId and workflowId are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	wf, err := rt.store.GetWorkflow(ctx, req.OrgID, req.WorkflowID)
	if err != nil {
		http.Error(w, fmt.Sprintf("loading workflow: %v", err), http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}

	result := rt.engine.Run(ctx, req.OrgID, wf, req.Payload, rt.resolveIntegration, rt.persistIntegration, superglue.Options{})
	if err := rt.store.CreateRun(ctx, req.OrgID, result); err != nil {
		logger.Warn("failed to persist run", "runId", result.ID, "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("failed to encode run result", "error", err.Error())
	}
}

func runVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// reportLoadError classifies a config.Loader failure into the matching
// exit code; LoadWorkflow wraps either a ParseError or a ValidationError
// and the caller needs to tell those apart for its exit status the same
// way the validate command does.
func reportLoadError(err error) {
	var parseErr config.ParseError
	var validationErr config.ValidationError
	switch {
	case errors.As(err, &parseErr):
		fmt.Fprintf(os.Stderr, "✗ Parse error: %s\n", parseErr.Error())
		os.Exit(ExitParseError)
	case errors.As(err, &validationErr):
		fmt.Fprintf(os.Stderr, "✗ Validation error: %s\n", validationErr.Error())
		os.Exit(ExitValidationError)
	default:
		fmt.Fprintf(os.Stderr, "✗ Failed to load workflow: %v\n", err)
		os.Exit(ExitRuntimeError)
	}
}

func printWorkflowResult(result *superglue.WorkflowResult) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "✗ Failed to encode result: %v\n", err)
		return
	}

	if result.Success {
		fmt.Println("✓ Workflow completed successfully")
	} else {
		fmt.Fprintln(os.Stderr, "✗ Workflow failed")
		fmt.Fprintf(os.Stderr, "  Error: %s\n", result.Error)
	}
	if verbose || !result.Success {
		fmt.Println(buf.String())
	}
}

func printParseErrors(errs []config.ParseError) {
	fmt.Fprintln(os.Stderr, "✗ Parse errors:")
	for _, err := range errs {
		var location string
		if err.Path != "" {
			location = err.Path
			if err.Line > 0 {
				location += fmt.Sprintf(":%d", err.Line)
				if err.Column > 0 {
					location += fmt.Sprintf(":%d", err.Column)
				}
			}
		}

		if location != "" {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", location, err.Message)
		} else {
			fmt.Fprintf(os.Stderr, "  %s\n", err.Message)
		}

		if verbose && err.Type != "" {
			fmt.Fprintf(os.Stderr, "    Type: %s\n", err.Type)
		}
	}
}

func printValidationErrors(errs []config.ValidationError) {
	fmt.Fprintln(os.Stderr, "✗ Validation errors:")
	for _, err := range errs {
		path := err.Path
		if path == "" {
			path = "/"
		}

		msg := err.Message
		if verbose {
			fmt.Fprintf(os.Stderr, "  %s:\n", path)
			fmt.Fprintf(os.Stderr, "    Message: %s\n", msg)
			if err.Type != "" {
				fmt.Fprintf(os.Stderr, "    Type: %s\n", err.Type)
			}
			if err.Expected != "" {
				fmt.Fprintf(os.Stderr, "    Expected: %s\n", err.Expected)
			}
		} else {
			shortMsg := msg
			if len(shortMsg) > 80 {
				shortMsg = shortMsg[:77] + "..."
			}
			fmt.Fprintf(os.Stderr, "  %s: %s\n", path, shortMsg)
		}
	}

	if !quiet {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Hint: Use --verbose for detailed error information")
	}
}

// runtimeStack is the constructed set of long-lived components a run or
// serve-local invocation needs: a datastore backend, the expression
// evaluator and step executor that back both the workflow engine and its
// own dry-run preview path, and the workflow engine itself.
type runtimeStack struct {
	store    datastore.Store
	executor *stepexec.Executor
	engine   *workflowengine.Engine
	pgPool   *pgcaller.Pool
}

// newRuntime builds a runtimeStack from environment variables, per §6:
// DATASTORE_TYPE selects memory/file/postgres, STORAGE_DIR roots the file
// backend, POSTGRES_* assembles a connection string, and
// MASTER_ENCRYPTION_KEY enables at-rest credential encryption when set.
// The self-healing coordinator is always constructed with a nil LLM
// client: an LLM provider is out of this build's scope (§6 Non-goals), so
// every step runs in the coordinator's deterministic single-attempt mode.
func newRuntime() (*runtimeStack, error) {
	store, err := newStoreFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initializing datastore: %w", err)
	}

	pgPool := pgcaller.NewPool()
	evaluator := exprlang.NewEvaluator(0)
	executor := stepexec.New(pgPool, evaluator)
	coordinator := healing.New(executor, nil, nil)
	oauthClient := oauth.New(0, nil)
	engine := workflowengine.New(coordinator, evaluator, oauthClient, workflowengine.Options{})

	return &runtimeStack{store: store, executor: executor, engine: engine, pgPool: pgPool}, nil
}

func (rt *runtimeStack) Close(ctx context.Context) {
	rt.pgPool.Close()
	if err := rt.store.Disconnect(ctx); err != nil {
		logger.Warn("error disconnecting datastore", "error", err.Error())
	}
}

func (rt *runtimeStack) resolveIntegration(ctx context.Context, orgID, integrationID string) (*superglue.Integration, error) {
	return rt.store.GetIntegration(ctx, orgID, integrationID)
}

func (rt *runtimeStack) persistIntegration(ctx context.Context, orgID string, integration *superglue.Integration) error {
	return rt.store.UpsertIntegration(ctx, orgID, integration)
}

func newStoreFromEnv() (datastore.Store, error) {
	cipher, err := newCipherFromEnv()
	if err != nil {
		return nil, err
	}

	switch os.Getenv("DATASTORE_TYPE") {
	case "file":
		dir := os.Getenv("STORAGE_DIR")
		if dir == "" {
			dir = "."
		}
		return datastore.NewFileStore(dir, cipher)
	case "postgres":
		return datastore.NewPostgresService(context.Background(), postgresConnString(), cipher)
	default:
		return datastore.NewMemoryStore(), nil
	}
}

// newCipherFromEnv builds a datastore.Cipher from MASTER_ENCRYPTION_KEY
// when set. An unset key means credentials are stored in plaintext, which
// is acceptable for the memory backend's process lifetime but a deliberate
// choice the operator must opt out of for file/postgres (§6: "no
// recovery" if the key set later doesn't match what encrypted old data).
func newCipherFromEnv() (*datastore.Cipher, error) {
	key := os.Getenv("MASTER_ENCRYPTION_KEY")
	if key == "" {
		return nil, nil
	}
	return datastore.NewCipher([]byte(key))
}

func postgresConnString() string {
	host := envOrDefault("POSTGRES_HOST", "localhost")
	port := envOrDefault("POSTGRES_PORT", "5432")
	user := os.Getenv("POSTGRES_USERNAME")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := os.Getenv("POSTGRES_DB")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, db)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
