package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/logger"
)

func TestLoggerInitialization(t *testing.T) {
	// Logger should be initialized
	if logger.Logger == nil {
		t.Fatal("Logger should be initialized on package load")
	}
}

func TestSetLevel(t *testing.T) {
	t.Helper()
	// Test setting log level - should not panic
	logger.SetLevel(slog.LevelDebug)
	logger.SetLevel(slog.LevelInfo)
	logger.SetLevel(slog.LevelWarn)
	logger.SetLevel(slog.LevelError)
}

func TestWithWorkflow(t *testing.T) {
	workflowLogger := logger.WithWorkflow("test-workflow-123")
	if workflowLogger == nil {
		t.Fatal("WithWorkflow should return a logger")
	}
}

func TestWithStep(t *testing.T) {
	stepLogger := logger.WithStep("step-1", "api-config-1")
	if stepLogger == nil {
		t.Fatal("WithStep should return a logger")
	}
}

func TestJSONLogFormat(t *testing.T) {
	// Create a buffer to capture log output
	var buf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	testLogger.Info("test message", "key", "value")

	// Parse the JSON output
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify structure
	if logEntry["msg"] != "test message" {
		t.Errorf("Expected message 'test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("Expected key 'value', got %v", logEntry["key"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("Expected level 'INFO', got %v", logEntry["level"])
	}
}

// =============================================================================
// Run Context Helpers Tests
// =============================================================================

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-123",
		RunID:      "run-1",
		Stage:      "step",
		StepID:     "source-api",
	}

	runLogger := logger.WithRun(ctx)
	if runLogger == nil {
		t.Fatal("WithRun should return a logger")
	}

	// Log something to verify context is included
	runLogger.Info("test log")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify all context fields are present
	if logEntry["workflow_id"] != "workflow-123" {
		t.Errorf("Expected workflow_id 'workflow-123', got %v", logEntry["workflow_id"])
	}
	if logEntry["run_id"] != "run-1" {
		t.Errorf("Expected run_id 'run-1', got %v", logEntry["run_id"])
	}
	if logEntry["stage"] != "step" {
		t.Errorf("Expected stage 'step', got %v", logEntry["stage"])
	}
	if logEntry["step_id"] != "source-api" {
		t.Errorf("Expected step_id 'source-api', got %v", logEntry["step_id"])
	}
}

func TestLogRunStart(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-456",
		RunID:      "run-456",
	}

	logger.LogRunStart(ctx)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify run start log structure
	if logEntry["msg"] != "run started" {
		t.Errorf("Expected msg 'run started', got %v", logEntry["msg"])
	}
	if logEntry["workflow_id"] != "workflow-456" {
		t.Errorf("Expected workflow_id 'workflow-456', got %v", logEntry["workflow_id"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("Expected level 'INFO', got %v", logEntry["level"])
	}
}

func TestLogRunEnd(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-789",
		RunID:      "run-789",
	}

	duration := 2*time.Second + 500*time.Millisecond
	recordsProcessed := 100
	status := "success"

	logger.LogRunEnd(ctx, status, recordsProcessed, duration)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify run end log structure
	if logEntry["msg"] != "run completed" {
		t.Errorf("Expected msg 'run completed', got %v", logEntry["msg"])
	}
	if logEntry["workflow_id"] != "workflow-789" {
		t.Errorf("Expected workflow_id 'workflow-789', got %v", logEntry["workflow_id"])
	}
	if logEntry["status"] != "success" {
		t.Errorf("Expected status 'success', got %v", logEntry["status"])
	}
	recVal, ok := logEntry["records_processed"].(float64)
	if !ok || int(recVal) != 100 {
		t.Errorf("Expected records_processed 100, got %v", logEntry["records_processed"])
	}
	// Duration should be present (as nanoseconds in JSON)
	if logEntry["duration"] == nil {
		t.Error("Expected duration to be present")
	}
}

func TestLogStepStart(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-step",
		Stage:      "step",
		StepID:     "fetch-page",
	}

	logger.LogStepStart(ctx)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	if logEntry["msg"] != "step started" {
		t.Errorf("Expected msg 'step started', got %v", logEntry["msg"])
	}
	if logEntry["stage"] != "step" {
		t.Errorf("Expected stage 'step', got %v", logEntry["stage"])
	}
}

func TestLogStepEnd(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-step-end",
		Stage:      "step",
		StepID:     "fetch-page",
	}

	duration := 1 * time.Second
	recordCount := 50

	logger.LogStepEnd(ctx, recordCount, duration, nil)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	if logEntry["msg"] != "step completed" {
		t.Errorf("Expected msg 'step completed', got %v", logEntry["msg"])
	}
	if logEntry["stage"] != "step" {
		t.Errorf("Expected stage 'step', got %v", logEntry["stage"])
	}
	rcVal, ok := logEntry["record_count"].(float64)
	if !ok || int(rcVal) != 50 {
		t.Errorf("Expected record_count 50, got %v", logEntry["record_count"])
	}
}

func TestLogStepEndWithError(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-step-error",
		Stage:      "step",
	}

	duration := 500 * time.Millisecond
	testErr := &logger.RunError{
		Code:    "API_CALL_ERROR",
		Message: "connection timeout",
	}

	logger.LogStepEnd(ctx, 0, duration, testErr)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	if logEntry["msg"] != "step failed" {
		t.Errorf("Expected msg 'step failed', got %v", logEntry["msg"])
	}
	if logEntry["level"] != "ERROR" {
		t.Errorf("Expected level 'ERROR', got %v", logEntry["level"])
	}
	if logEntry["error_code"] != "API_CALL_ERROR" {
		t.Errorf("Expected error_code 'API_CALL_ERROR', got %v", logEntry["error_code"])
	}
	if logEntry["error"] != "connection timeout" {
		t.Errorf("Expected error 'connection timeout', got %v", logEntry["error"])
	}
}

func TestLogMetrics(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := logger.RunContext{
		WorkflowID: "workflow-metrics",
		RunID:      "run-metrics",
	}

	metrics := logger.RunMetrics{
		TotalDuration:    5 * time.Second,
		StepDuration:     3 * time.Second,
		HealingDuration:  1 * time.Second,
		RecordsProcessed: 1000,
		RecordsFailed:    5,
		RecordsPerSecond: 200.0,
		AvgRecordTime:    5 * time.Millisecond,
	}

	logger.LogMetrics(ctx, metrics)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	if logEntry["msg"] != "run metrics" {
		t.Errorf("Expected msg 'run metrics', got %v", logEntry["msg"])
	}
	if logEntry["workflow_id"] != "workflow-metrics" {
		t.Errorf("Expected workflow_id 'workflow-metrics', got %v", logEntry["workflow_id"])
	}
	recProcessed, ok := logEntry["records_processed"].(float64)
	if !ok || int(recProcessed) != 1000 {
		t.Errorf("Expected records_processed 1000, got %v", logEntry["records_processed"])
	}
	recFailed, ok := logEntry["records_failed"].(float64)
	if !ok || int(recFailed) != 5 {
		t.Errorf("Expected records_failed 5, got %v", logEntry["records_failed"])
	}
	rps, ok := logEntry["records_per_second"].(float64)
	if !ok || rps != 200.0 {
		t.Errorf("Expected records_per_second 200.0, got %v", logEntry["records_per_second"])
	}
}

func TestRunContextPartialFields(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Test with only required fields (workflow_id)
	ctx := logger.RunContext{
		WorkflowID: "minimal-workflow",
	}

	runLogger := logger.WithRun(ctx)
	runLogger.Info("minimal context test")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Only workflow_id should be present
	if logEntry["workflow_id"] != "minimal-workflow" {
		t.Errorf("Expected workflow_id 'minimal-workflow', got %v", logEntry["workflow_id"])
	}

	// Optional fields should not be present when empty
	if _, exists := logEntry["run_id"]; exists && logEntry["run_id"] != "" {
		t.Errorf("Expected run_id to be absent or empty, got %v", logEntry["run_id"])
	}
}

func TestConsistentFieldNames(t *testing.T) {
	// Test that all logging helpers use consistent field names
	expectedFields := []string{
		"workflow_id",
		"run_id",
		"stage",
		"step_id",
		"duration",
		"record_count",
		"records_processed",
		"records_failed",
		"status",
		"error",
		"error_code",
	}

	// Verify these are the expected field names based on the naming conventions
	for _, field := range expectedFields {
		// Field names should be snake_case
		if strings.Contains(field, "-") {
			t.Errorf("Field name should use snake_case, not kebab-case: %s", field)
		}
		if field != strings.ToLower(field) {
			t.Errorf("Field name should be lowercase: %s", field)
		}
	}
}

// =============================================================================
// Human-Readable Format Tests
// =============================================================================

func TestHumanHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
		Level:     slog.LevelInfo,
		UseColors: false, // Disable colors for testing
	})

	testLogger := slog.New(handler)
	testLogger.Info("test message", "key", "value")

	output := buf.String()

	// Verify output contains expected parts
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "ℹ") {
		t.Errorf("Expected output to contain info prefix 'ℹ', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected output to contain 'key=value', got: %s", output)
	}
}

func TestHumanHandlerLevels(t *testing.T) {
	tests := []struct {
		level          slog.Level
		expectedPrefix string
	}{
		{slog.LevelError, "✗"},
		{slog.LevelWarn, "⚠"},
		{slog.LevelInfo, "ℹ"},
		{slog.LevelDebug, "·"},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
				Level:     slog.LevelDebug, // Enable all levels
				UseColors: false,
			})

			testLogger := slog.New(handler)
			testLogger.Log(context.Background(), tt.level, "test")

			output := buf.String()
			if !strings.Contains(output, tt.expectedPrefix) {
				t.Errorf("Expected output to contain prefix '%s' for level %s, got: %s",
					tt.expectedPrefix, tt.level, output)
			}
		})
	}
}

func TestHumanHandlerDuration(t *testing.T) {
	var buf bytes.Buffer
	handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
		Level:     slog.LevelInfo,
		UseColors: false,
	})

	testLogger := slog.New(handler)
	testLogger.Info("duration test", "duration", 2500*time.Millisecond)

	output := buf.String()

	// Duration should be formatted in human-readable way (2.50s)
	if !strings.Contains(output, "duration=2.50s") {
		t.Errorf("Expected output to contain 'duration=2.50s', got: %s", output)
	}
}

func TestSetFormat(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	// Test setting human format
	logger.SetFormat(logger.FormatHuman)
	if logger.Logger == nil {
		t.Fatal("Logger should not be nil after SetFormat")
	}

	// Test setting JSON format
	logger.SetFormat(logger.FormatJSON)
	if logger.Logger == nil {
		t.Fatal("Logger should not be nil after SetFormat")
	}
}

func TestFormatMetricsHuman(t *testing.T) {
	metrics := logger.RunMetrics{
		TotalDuration:    5 * time.Second,
		RecordsProcessed: 1000,
		RecordsFailed:    5,
		RecordsPerSecond: 200.0,
	}

	formatted := logger.FormatMetricsHuman(metrics)

	// Verify key parts are present
	if !strings.Contains(formatted, "1000 records") {
		t.Errorf("Expected formatted metrics to contain '1000 records', got: %s", formatted)
	}
	if !strings.Contains(formatted, "5.00s") {
		t.Errorf("Expected formatted metrics to contain '5.00s', got: %s", formatted)
	}
	if !strings.Contains(formatted, "200.0 records/sec") {
		t.Errorf("Expected formatted metrics to contain '200.0 records/sec', got: %s", formatted)
	}
	if !strings.Contains(formatted, "5 failed") {
		t.Errorf("Expected formatted metrics to contain '5 failed', got: %s", formatted)
	}
}

// =============================================================================
// Log File Output Tests
// =============================================================================

func TestSetLogFile(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() {
		logger.CloseLogFile()
		logger.Logger = originalLogger
	}()

	// Create temp file for testing
	tmpFile, err := os.CreateTemp("", "test-log-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	// Set log file
	err = logger.SetLogFile(tmpPath, slog.LevelInfo, logger.FormatJSON)
	if err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}

	// Write a log message
	logger.Info("test log message", "key", "value")

	// Close log file to flush
	logger.CloseLogFile()

	// Read the log file
	content, err := os.ReadFile(tmpPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	// Verify JSON content (file logs are always JSON)
	if len(content) == 0 {
		t.Error("Log file should contain content")
	}

	// Parse JSON to verify it's valid
	var logEntry map[string]interface{}
	// The file might contain multiple lines, parse first non-empty line
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &logEntry); err == nil {
			if logEntry["msg"] == "test log message" {
				if logEntry["key"] != "value" {
					t.Errorf("Expected key='value' in log, got: %v", logEntry["key"])
				}
				return
			}
		}
	}
	t.Error("Expected to find test log message in log file")
}

func TestCloseLogFile(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	// CloseLogFile should not panic when no file is open
	logger.CloseLogFile()

	// Create temp file
	tmpFile, err := os.CreateTemp("", "test-log-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	// Set and close log file
	err = logger.SetLogFile(tmpPath, slog.LevelInfo, logger.FormatJSON)
	if err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}

	// Close should not panic
	logger.CloseLogFile()
	// Second close should also not panic
	logger.CloseLogFile()
}

// =============================================================================
// Error Logging with Context Tests
// =============================================================================

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	errCtx := logger.ErrorContext{
		WorkflowID:   "workflow-error-test",
		RunID:        "run-error-test",
		Stage:        "step",
		StepID:       "source-api",
		ErrorCode:    "API_CALL_ERROR",
		ErrorMessage: "connection timeout",
		RecordIndex:  5,
		RecordCount:  100,
		Endpoint:     "https://api.example.com/data",
		HTTPStatus:   503,
		Duration:     30 * time.Second,
		Extra: map[string]interface{}{
			"retry_count": 3,
		},
	}

	logger.LogError("step fetch failed", errCtx)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify all context fields are present
	if logEntry["msg"] != "step fetch failed" {
		t.Errorf("Expected msg 'step fetch failed', got %v", logEntry["msg"])
	}
	if logEntry["level"] != "ERROR" {
		t.Errorf("Expected level 'ERROR', got %v", logEntry["level"])
	}
	if logEntry["workflow_id"] != "workflow-error-test" {
		t.Errorf("Expected workflow_id 'workflow-error-test', got %v", logEntry["workflow_id"])
	}
	if logEntry["stage"] != "step" {
		t.Errorf("Expected stage 'step', got %v", logEntry["stage"])
	}
	if logEntry["error_code"] != "API_CALL_ERROR" {
		t.Errorf("Expected error_code 'API_CALL_ERROR', got %v", logEntry["error_code"])
	}
	if logEntry["error"] != "connection timeout" {
		t.Errorf("Expected error 'connection timeout', got %v", logEntry["error"])
	}
	if logEntry["endpoint"] != "https://api.example.com/data" {
		t.Errorf("Expected endpoint 'https://api.example.com/data', got %v", logEntry["endpoint"])
	}
	httpStatus, ok := logEntry["http_status"].(float64)
	if !ok || int(httpStatus) != 503 {
		t.Errorf("Expected http_status 503, got %v", logEntry["http_status"])
	}
	retryCount, ok := logEntry["retry_count"].(float64)
	if !ok || int(retryCount) != 3 {
		t.Errorf("Expected retry_count 3, got %v", logEntry["retry_count"])
	}
}

func TestLogErrorMinimalContext(t *testing.T) {
	var buf bytes.Buffer
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	// Log error with minimal context
	errCtx := logger.ErrorContext{
		WorkflowID:   "minimal-error-test",
		ErrorMessage: "something went wrong",
	}

	logger.LogError("generic error", errCtx)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Only present fields should be in log
	if logEntry["workflow_id"] != "minimal-error-test" {
		t.Errorf("Expected workflow_id 'minimal-error-test', got %v", logEntry["workflow_id"])
	}
	if logEntry["error"] != "something went wrong" {
		t.Errorf("Expected error 'something went wrong', got %v", logEntry["error"])
	}

	// Optional fields should not be present
	if _, exists := logEntry["stage"]; exists {
		t.Errorf("Expected stage to be absent, got %v", logEntry["stage"])
	}
	if _, exists := logEntry["endpoint"]; exists {
		t.Errorf("Expected endpoint to be absent, got %v", logEntry["endpoint"])
	}
}
