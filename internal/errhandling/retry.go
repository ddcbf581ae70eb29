// Package errhandling provides retry configuration and mechanism for pipeline execution.
// This file defines retry configuration parsing, validation, and delay calculation.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default retry configuration values
const (
	DefaultMaxAttempts       = 3
	DefaultDelayMs           = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 30000
	DefaultTimeoutMs         = 30000
	MaxRetryAttempts         = 10
	MinBackoffMultiplier     = 1.0
)

// RetryConfig holds retry configuration for pipeline execution.
// This configuration determines how transient errors are handled with automatic retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retry).
	// Default: 3, Max: 10
	MaxAttempts int

	// DelayMs is the initial delay between retries in milliseconds.
	// Default: 1000
	DelayMs int

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0, Min: 1.0, Max: 10.0
	BackoffMultiplier float64

	// MaxDelayMs is the maximum delay between retries in milliseconds.
	// Default: 30000
	MaxDelayMs int

	// RetryableStatusCodes are HTTP status codes that trigger retry.
	// Default: [429, 500, 502, 503, 504]
	RetryableStatusCodes []int

	// UseRetryAfterHeader marks a config whose server may send a Retry-After
	// response header (seconds or HTTP-date format). RetryExecutor does not read
	// this field: the delay between attempts always comes from CalculateDelay,
	// whatever Retry-After the server sent.
	// Default: false
	UseRetryAfterHeader bool

	// RetryHintFromBody holds an expr expression (e.g., "body.retryable == true",
	// "body.error.code == \"TEMPORARY\"") over the JSON response body, exposed as
	// the "body" variable. RetryExecutor does not evaluate this field: whether an
	// error is retried is decided by ClassifyError alone.
	// Default: "" (disabled)
	RetryHintFromBody string
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          DefaultMaxAttempts,
		DelayMs:              DefaultDelayMs,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		MaxDelayMs:           DefaultMaxDelayMs,
		RetryableStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// Validate validates the retry configuration.
// Returns an error if any value is out of valid range.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("maxAttempts must be >= 0")
	}
	if c.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("maxAttempts must be <= %d", MaxRetryAttempts)
	}
	if c.DelayMs < 0 {
		return errors.New("delayMs must be >= 0")
	}
	if c.BackoffMultiplier < MinBackoffMultiplier {
		return fmt.Errorf("backoffMultiplier must be >= %v", MinBackoffMultiplier)
	}
	if c.BackoffMultiplier > 10.0 {
		return fmt.Errorf("backoffMultiplier must be <= %v", 10.0)
	}
	if c.MaxDelayMs < 0 {
		return errors.New("maxDelayMs must be >= 0")
	}
	return nil
}

// CalculateDelay calculates the retry delay for a given attempt using exponential backoff.
// The formula is: min(delayMs * (backoffMultiplier ^ attempt), maxDelayMs)
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Calculate delay with exponential backoff
	delayMs := float64(c.DelayMs) * math.Pow(c.BackoffMultiplier, float64(attempt))

	// Cap at max delay
	if delayMs > float64(c.MaxDelayMs) {
		delayMs = float64(c.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry determines if a retry should be attempted based on the attempt number and error.
// Returns false if:
//   - Error is nil
//   - MaxAttempts is 0 (retries disabled)
//   - Current attempt >= MaxAttempts
//   - Error is not retryable (fatal errors like authentication, validation)
func (c RetryConfig) ShouldRetry(attempt int, err error) bool {
	// No error, no retry needed
	if err == nil {
		return false
	}

	// Retries disabled
	if c.MaxAttempts == 0 {
		return false
	}

	// Max attempts reached
	if attempt >= c.MaxAttempts {
		return false
	}

	// Check if error is retryable
	return IsRetryable(err)
}

// IsStatusCodeRetryable checks if the given status code is in the retryable list.
func (c RetryConfig) IsStatusCodeRetryable(statusCode int) bool {
	for _, code := range c.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// ============================
// Retry Executor
// ============================

// RetryFunc is a function that can be retried.
// It takes a context and returns a result and an error.
type RetryFunc func(ctx context.Context) (interface{}, error)

// RetryInfo contains information about retry attempts.
type RetryInfo struct {
	// TotalAttempts is the total number of attempts made.
	TotalAttempts int

	// SuccessfulAttempt is the attempt number that succeeded (0 if failed).
	SuccessfulAttempt int

	// RetryCount is the number of retries (TotalAttempts - 1).
	RetryCount int

	// TotalDuration is the total time spent including retries.
	TotalDuration time.Duration

	// Delays is the list of delays between retries.
	Delays []time.Duration

	// Errors is the list of errors encountered during retries.
	Errors []error
}

// RetryExecutor executes functions with retry logic.
type RetryExecutor struct {
	config    RetryConfig
	retryInfo RetryInfo
}

// NewRetryExecutor creates a new retry executor with the given configuration.
func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	return &RetryExecutor{
		config: config,
		retryInfo: RetryInfo{
			Delays: make([]time.Duration, 0),
			Errors: make([]error, 0),
		},
	}
}

// Execute runs the given function with retry logic.
// It retries on transient errors up to MaxAttempts times.
// Returns the result and any error encountered.
func (e *RetryExecutor) Execute(ctx context.Context, fn RetryFunc) (interface{}, error) {
	startTime := time.Now()
	e.retryInfo = RetryInfo{
		Delays: make([]time.Duration, 0),
		Errors: make([]error, 0),
	}

	var lastErr error
	maxAttempts := e.config.MaxAttempts + 1 // Initial attempt + retries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		e.retryInfo.TotalAttempts = attempt + 1

		// Check context before attempt
		select {
		case <-ctx.Done():
			e.retryInfo.TotalDuration = time.Since(startTime)
			return nil, ClassifyNetworkError(ctx.Err())
		default:
		}

		// Execute function
		result, err := fn(ctx)

		// Success
		if err == nil {
			e.retryInfo.SuccessfulAttempt = attempt + 1
			e.retryInfo.RetryCount = attempt
			e.retryInfo.TotalDuration = time.Since(startTime)
			return result, nil
		}

		// Record error
		lastErr = err
		e.retryInfo.Errors = append(e.retryInfo.Errors, err)

		// Classify error
		classified := ClassifyError(err)

		// Don't retry fatal errors
		if !classified.Retryable {
			e.retryInfo.TotalDuration = time.Since(startTime)
			return nil, err
		}

		// Don't retry if we've exhausted attempts
		if attempt >= e.config.MaxAttempts {
			break
		}

		// Calculate delay for next attempt
		delay := e.config.CalculateDelay(attempt)
		e.retryInfo.Delays = append(e.retryInfo.Delays, delay)

		// Wait before retry (respect context cancellation)
		select {
		case <-ctx.Done():
			e.retryInfo.TotalDuration = time.Since(startTime)
			return nil, ClassifyNetworkError(ctx.Err())
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	e.retryInfo.RetryCount = e.retryInfo.TotalAttempts - 1
	e.retryInfo.TotalDuration = time.Since(startTime)
	return nil, lastErr
}

