// Package webhook delivers a completed WorkflowResult to an external URL.
// It adapts the reference runtime's inbound webhook server (pushed-to by a
// third party) into the opposite direction: the engine pushes the run's
// outcome out to whatever URL the caller configured for that run.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// defaultTimeout bounds a single delivery attempt.
const defaultTimeout = 10 * time.Second

// defaultRetryConfig mirrors the runtime's default API-call retry policy,
// since a webhook receiver is just another HTTP endpoint that may return a
// transient 5xx or 429.
func defaultRetryConfig() errhandling.RetryConfig {
	cfg := errhandling.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	return cfg
}

// Notifier delivers WorkflowResult payloads to a webhook URL.
type Notifier struct {
	client *http.Client
	retry  errhandling.RetryConfig
}

// New creates a Notifier. A zero timeout falls back to defaultTimeout.
func New(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		retry:  defaultRetryConfig(),
	}
}

// Notify delivers result to url as a JSON POST body, retrying transient
// failures per n.retry. It is meant to be run in its own goroutine by the
// caller (NotifyAsync does this); Notify itself blocks until delivery
// succeeds, is abandoned after the retry budget, or ctx is canceled.
func (n *Notifier) Notify(ctx context.Context, url string, result *superglue.WorkflowResult) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling workflow result for webhook: %w", err)
	}

	executor := errhandling.NewRetryExecutor(n.retry)
	_, err = executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, n.deliver(ctx, url, body)
	})
	if err != nil {
		return fmt.Errorf("delivering webhook to %s: %w", url, err)
	}
	return nil
}

// NotifyAsync fires Notify in a background goroutine and logs the outcome
// instead of returning an error, so a webhook receiver's downtime never
// delays or fails the run that triggered it.
func (n *Notifier) NotifyAsync(url string, result *superglue.WorkflowResult) {
	if url == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.retryBudget())
		defer cancel()
		if err := n.Notify(ctx, url, result); err != nil {
			logger.Warn("webhook delivery failed", "url", url, "runId", result.ID, "error", err.Error())
			return
		}
		logger.Debug("webhook delivered", "url", url, "runId", result.ID)
	}()
}

// retryBudget bounds how long NotifyAsync's background goroutine may run:
// one call's timeout per attempt, plus the backoff delays between them.
func (n *Notifier) retryBudget() time.Duration {
	total := n.client.Timeout
	for attempt := 0; attempt < n.retry.MaxAttempts; attempt++ {
		total += n.client.Timeout + n.retry.CalculateDelay(attempt)
	}
	return total
}

func (n *Notifier) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errhandling.ClassifyError(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "superglue-webhook/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return errhandling.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("webhook receiver returned status %d", resp.StatusCode)
		if n.retry.IsStatusCodeRetryable(resp.StatusCode) {
			return errhandling.NewNetworkError(err.Error(), err)
		}
		return &errhandling.ClassifiedError{
			Category:   errhandling.CategoryValidation,
			Retryable:  false,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
		}
	}
	return nil
}
