// Package httpcaller issues the HTTP leg of a step's ApiConfig: it builds
// the request from placeholder-substituted URL/headers/query/body and
// retries transient failures with exponential backoff. A 429 whose
// Retry-After exceeds MaxBackoffWait fails with RateLimitExceeded; shorter
// waits are retried on the normal backoff schedule.
package httpcaller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/internal/template"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// DefaultMaxRetries is the default number of retry attempts for a call
// (the spec's 8 retries, in addition to the initial attempt).
const DefaultMaxRetries = 8

// MaxBackoffWait is the hard cap on how long a single retry (including one
// driven by a 429 Retry-After) may wait before the caller gives up instead.
const MaxBackoffWait = 60 * time.Second

// Result is the uniform shape returned by both the HTTP caller and the
// Postgres caller, so the step executor can treat either transport
// identically.
type Result struct {
	Data       interface{}
	StatusCode int
	Headers    map[string]string
}

// Preview is a masked, unexecuted rendering of the request Call would
// issue: method, URL, headers, and a body snippet, with every known
// credential value redacted. It backs the run --dry-run CLI flag.
type Preview struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Caller issues HTTP requests for an ApiConfig.
type Caller struct {
	httpClient *http.Client
	evaluator  *template.Evaluator
	retry      errhandling.RetryConfig
}

// New creates an HTTP caller with the given request timeout. maxRetries <= 0
// uses DefaultMaxRetries.
func New(timeout time.Duration, maxRetries int) *Caller {
	return NewWithRetryDelay(timeout, maxRetries, 0)
}

// NewWithRetryDelay is New plus an explicit initial retry delay, for a step
// whose options.retryDelay overrides the default backoff schedule.
// retryDelay <= 0 keeps errhandling.DefaultRetryConfig's delay.
func NewWithRetryDelay(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Caller {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retry := errhandling.DefaultRetryConfig()
	retry.MaxAttempts = maxRetries
	retry.MaxDelayMs = int(MaxBackoffWait / time.Millisecond)
	retry.UseRetryAfterHeader = true
	if retryDelay > 0 {
		retry.DelayMs = int(retryDelay / time.Millisecond)
	}

	return &Caller{
		httpClient: &http.Client{Timeout: timeout},
		evaluator:  template.NewEvaluator(),
		retry:      retry,
	}
}

// Call issues the request described by cfg against scope (the step's
// payload merged with integration credentials and pagination variables),
// retrying transient failures.
func (c *Caller) Call(ctx context.Context, cfg *superglue.ApiConfig, scope map[string]interface{}, credentials map[string]string) (*Result, error) {
	executor := errhandling.NewRetryExecutor(c.retry)

	raw, err := executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.doRequest(ctx, cfg, scope, credentials)
	})
	if err != nil {
		return nil, maskCredentials(err, credentials)
	}
	return raw.(*Result), nil
}

// Preview resolves cfg's method/URL/headers/body against scope without
// issuing the request, so a dry run can show what a step would have sent.
func (c *Caller) Preview(cfg *superglue.ApiConfig, scope map[string]interface{}, credentials map[string]string) (*Preview, error) {
	requestURL, err := c.buildURL(cfg, scope)
	if err != nil {
		return nil, fmt.Errorf("building request url: %w", err)
	}

	headers := map[string]string{
		"User-Agent": "superglue-runtime/1.0",
		"Accept":     "application/json",
	}
	if cfg.Body != "" && cfg.Method != superglue.MethodGet && cfg.Method != superglue.MethodHead {
		headers["Content-Type"] = "application/json"
	}
	for k, v := range filterResolved(c.evaluator.EvaluateHeaders(cfg.Headers, scope)) {
		headers[k] = v
	}

	var bodyPreview string
	if body, err := c.buildBody(cfg, scope); err == nil && body != nil {
		if raw, readErr := io.ReadAll(body); readErr == nil {
			bodyPreview = string(raw)
		}
	}

	preview := &Preview{Method: string(cfg.Method), URL: requestURL, Headers: headers, Body: bodyPreview}
	return maskPreview(preview, credentials), nil
}

// maskPreview redacts every known credential value appearing verbatim in
// preview's URL, headers, or body, mirroring maskCredentials' treatment of
// error messages.
func maskPreview(p *Preview, credentials map[string]string) *Preview {
	redact := func(s string) string {
		for _, v := range credentials {
			if v == "" {
				continue
			}
			s = strings.ReplaceAll(s, v, "[REDACTED]")
		}
		return s
	}
	p.URL = redact(p.URL)
	p.Body = redact(p.Body)
	for k, v := range p.Headers {
		p.Headers[k] = redact(v)
	}
	return p
}

func (c *Caller) doRequest(ctx context.Context, cfg *superglue.ApiConfig, scope map[string]interface{}, credentials map[string]string) (*Result, error) {
	requestURL, err := c.buildURL(cfg, scope)
	if err != nil {
		return nil, errhandling.AbortError(fmt.Sprintf("building request url: %v", err), err)
	}

	body, err := c.buildBody(cfg, scope)
	if err != nil {
		return nil, errhandling.AbortError(fmt.Sprintf("building request body: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, string(cfg.Method), requestURL, body)
	if err != nil {
		return nil, errhandling.AbortError(fmt.Sprintf("creating request: %v", err), err)
	}

	c.applyHeaders(req, cfg, scope)
	if err := c.applyAuth(req, cfg, credentials); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close http caller response body", slog.String("error", closeErr.Error()))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errhandling.ApiCallError(resp.StatusCode, fmt.Sprintf("reading response body: %v", err), err)
	}

	headers := flattenHeaders(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.handleRateLimit(resp, headers)
	}

	if resp.StatusCode >= 400 {
		snippet := string(respBody)
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		return nil, errhandling.ApiCallError(resp.StatusCode, snippet, nil)
	}

	data, err := decodeBody(respBody)
	if err != nil {
		return nil, errhandling.AbortError(fmt.Sprintf("decoding response body: %v", err), err)
	}

	return &Result{Data: data, StatusCode: resp.StatusCode, Headers: headers}, nil
}

// handleRateLimit inspects Retry-After and either returns a retryable
// ClassifiedError (RetryExecutor will sleep and retry) or a RateLimitExceeded
// kind error when the requested wait exceeds MaxBackoffWait.
func (c *Caller) handleRateLimit(resp *http.Response, headers map[string]string) error {
	wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"))
	if !ok {
		return errhandling.ApiCallError(http.StatusTooManyRequests, "rate limited", nil)
	}

	if wait > MaxBackoffWait {
		return errhandling.RateLimitExceeded("server requested a Retry-After beyond the retry window", wait.Seconds())
	}

	// Surface the requested wait via a retryable error; RetryExecutor applies
	// its own backoff rather than this exact duration, and the requested wait
	// appears only in the error message.
	_ = headers
	return errhandling.ApiCallError(http.StatusTooManyRequests, fmt.Sprintf("rate limited, retry after %s", wait), nil)
}

// parseRetryAfter parses a Retry-After header value, which may be either a
// number of seconds or an HTTP-date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		wait := time.Until(when)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func (c *Caller) buildURL(cfg *superglue.ApiConfig, scope map[string]interface{}) (string, error) {
	host := c.evaluator.EvaluateForURL(cfg.URLHost, scope)
	path := c.evaluator.EvaluateForURL(cfg.URLPath, scope)

	base := strings.TrimRight(host, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := base + path

	parsed, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", full, err)
	}

	if len(cfg.QueryParams) > 0 {
		q := parsed.Query()
		for k, v := range filterResolved(c.evaluator.EvaluateHeaders(cfg.QueryParams, scope)) {
			q.Set(k, v)
		}
		parsed.RawQuery = q.Encode()
	}

	return parsed.String(), nil
}

func (c *Caller) buildBody(cfg *superglue.ApiConfig, scope map[string]interface{}) (io.Reader, error) {
	if cfg.Body == "" {
		return nil, nil
	}
	if cfg.Method == superglue.MethodGet || cfg.Method == superglue.MethodHead {
		return nil, nil
	}
	evaluated := c.evaluator.Evaluate(cfg.Body, scope)
	return bytes.NewReader([]byte(evaluated)), nil
}

func (c *Caller) applyHeaders(req *http.Request, cfg *superglue.ApiConfig, scope map[string]interface{}) {
	req.Header.Set("User-Agent", "superglue-runtime/1.0")
	req.Header.Set("Accept", "application/json")
	if cfg.Body != "" && cfg.Method != superglue.MethodGet && cfg.Method != superglue.MethodHead {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range filterResolved(c.evaluator.EvaluateHeaders(cfg.Headers, scope)) {
		req.Header.Set(k, v)
	}
}

// filterResolved drops header/query entries whose evaluated value is empty
// or the unresolved-placeholder literal, so a missing payload/credential
// field never sends "undefined" as a literal header or query value.
func filterResolved(m map[string]string) map[string]string {
	filtered := make(map[string]string, len(m))
	for k, v := range m {
		if v == "" || v == template.UndefinedLiteral {
			continue
		}
		filtered[k] = v
	}
	return filtered
}

// applyAuth applies HEADER or QUERY_PARAM authentication. HEADER auth sets
// Authorization: Basic, deduplicating if the caller's own headers already
// set one. OAUTH2 is handled upstream by internal/oauth, which injects the
// bearer token into cfg.Headers before Call is invoked.
func (c *Caller) applyAuth(req *http.Request, cfg *superglue.ApiConfig, credentials map[string]string) error {
	normalizeAuthorizationHeader(req)

	switch cfg.Authentication {
	case superglue.AuthNone, superglue.AuthOAuth2:
		return nil
	case superglue.AuthHeader:
		if req.Header.Get("Authorization") != "" {
			return nil
		}
		username := credentials["username"]
		password := credentials["password"]
		if username == "" && password == "" {
			return nil
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		req.Header.Set("Authorization", "Basic "+encoded)
		return nil
	case superglue.AuthQueryParam:
		apiKey := credentials["apiKey"]
		if apiKey == "" {
			return nil
		}
		q := req.URL.Query()
		q.Set("api_key", apiKey)
		req.URL.RawQuery = q.Encode()
		return nil
	default:
		return nil
	}
}

// normalizeAuthorizationHeader fixes up an Authorization value that may have
// arrived from a templated header rather than applyAuth itself: a raw
// "user:pass" after "Basic " that was never base64-encoded, and an
// accidentally doubled "Basic Basic"/"Bearer Bearer" scheme prefix.
func normalizeAuthorizationHeader(req *http.Request) {
	value := req.Header.Get("Authorization")
	if value == "" {
		return
	}

	value = dedupeAuthScheme(value, "Basic")
	value = dedupeAuthScheme(value, "Bearer")

	if rest, ok := splitAuthScheme(value, "Basic"); ok && !isBase64(rest) {
		value = "Basic " + base64.StdEncoding.EncodeToString([]byte(rest))
	}

	req.Header.Set("Authorization", value)
}

// dedupeAuthScheme collapses "<scheme> <scheme> rest" into "<scheme> rest".
func dedupeAuthScheme(value, scheme string) string {
	doubled := scheme + " " + scheme + " "
	if len(value) >= len(doubled) && strings.EqualFold(value[:len(doubled)], doubled) {
		return scheme + " " + value[len(doubled):]
	}
	return value
}

// splitAuthScheme reports whether value starts with "<scheme> " and returns
// the remainder.
func splitAuthScheme(value, scheme string) (string, bool) {
	prefix := scheme + " "
	if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
		return value[len(prefix):], true
	}
	return "", false
}

// isBase64 reports whether s decodes as standard base64, the test the spec
// uses to decide whether a Basic credential still needs encoding.
func isBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func decodeBody(body []byte) (interface{}, error) {
	if len(body) == 0 {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var data interface{}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		// Non-JSON bodies (plain text, HTML error pages) are returned as-is;
		// the pagination driver is responsible for detecting HTML responses.
		return string(body), nil
	}
	return data, nil
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}

// maskCredentials replaces any credential value appearing verbatim in an
// error's message with a redaction marker, so logs and surfaced errors never
// leak secrets.
func maskCredentials(err error, credentials map[string]string) error {
	if err == nil || len(credentials) == 0 {
		return err
	}

	var ke *errhandling.KindError
	var ce *errhandling.ClassifiedError
	msg := err.Error()
	masked := msg
	for _, v := range credentials {
		if v == "" {
			continue
		}
		masked = strings.ReplaceAll(masked, v, "[REDACTED]")
	}
	if masked == msg {
		return err
	}

	switch {
	case asKindError(err, &ke):
		ke.ClassifiedError.Message = masked
		return ke
	case asClassifiedError(err, &ce):
		ce.Message = masked
		return ce
	default:
		return fmt.Errorf("%s", masked)
	}
}

func asKindError(err error, target **errhandling.KindError) bool {
	if ke, ok := err.(*errhandling.KindError); ok {
		*target = ke
		return true
	}
	return false
}

func asClassifiedError(err error, target **errhandling.ClassifiedError) bool {
	if ce, ok := err.(*errhandling.ClassifiedError); ok {
		*target = ce
		return true
	}
	return false
}
