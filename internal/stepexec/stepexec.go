// Package stepexec resolves a single step's ApiConfig against a transport
// (HTTP or Postgres, chosen by URL scheme) and drives it through the
// pagination driver, returning the uniform {data, statusCode, headers}
// shape the self-healing coordinator and workflow engine both consume.
package stepexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/exprlang"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/pagination"
	"github.com/Pallavikumarimdb/superglue/internal/pgcaller"
	"github.com/Pallavikumarimdb/superglue/internal/template"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

const defaultTimeout = 30 * time.Second

// Executor resolves an ApiConfig's endpoint URL and routes the call to the
// matching transport.
type Executor struct {
	pgPool    *pgcaller.Pool
	evaluator *exprlang.Evaluator
}

// New creates a step executor. pgPool is shared across every step so
// Postgres connections stay pooled across the whole run.
func New(pgPool *pgcaller.Pool, evaluator *exprlang.Evaluator) *Executor {
	return &Executor{pgPool: pgPool, evaluator: evaluator}
}

// Execute resolves cfg's endpoint, runs it (through pagination when
// cfg.Pagination is configured), and returns the final {data, statusCode,
// headers}. Errors already carry the Kind the caller/pagination layer
// classified them with (ApiCallError, AbortError, PaginationConfigError,
// ...); Execute does not re-wrap them.
func (e *Executor) Execute(ctx context.Context, cfg *superglue.ApiConfig, payload map[string]interface{}, credentials map[string]string, options superglue.Options) (*httpcaller.Result, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetch, err := e.buildFetcher(cfg, credentials, options)
	if err != nil {
		return nil, err
	}

	driver := pagination.NewDriver(e.evaluator, 0)
	return driver.Run(ctx, cfg, payload, credentials, fetch)
}

// buildFetcher returns the single-page FetchFunc appropriate for cfg's
// endpoint scheme, so the pagination driver stays transport-agnostic.
func (e *Executor) buildFetcher(cfg *superglue.ApiConfig, credentials map[string]string, options superglue.Options) (pagination.FetchFunc, error) {
	scheme := urlScheme(cfg.URLHost)

	switch scheme {
	case "postgres", "postgresql":
		if e.pgPool == nil {
			return nil, errhandling.AbortError("step targets a postgres:// endpoint but no Postgres pool is configured", nil)
		}
		connString := cfg.URLHost
		pgCaller := pgcaller.New(e.pgPool, options.Timeout)
		return func(ctx context.Context, scope map[string]interface{}) (*httpcaller.Result, error) {
			return pgCaller.Call(ctx, connString, cfg.Body, scope)
		}, nil
	case "http", "https", "":
		httpCaller := httpcaller.NewWithRetryDelay(options.Timeout, options.Retries, options.RetryDelay)
		return func(ctx context.Context, scope map[string]interface{}) (*httpcaller.Result, error) {
			return httpCaller.Call(ctx, cfg, scope, credentials)
		}, nil
	default:
		return nil, errhandling.AbortError(fmt.Sprintf("unsupported endpoint scheme %q", scheme), nil)
	}
}

// Preview resolves cfg's first-page request without issuing it, for the
// run --dry-run CLI flag. Only the http(s) transport renders a structured
// preview; a postgres:// endpoint renders its connection host and the
// credential-masked query text, since pgcaller has no request shape to
// build ahead of actually dialing.
func (e *Executor) Preview(cfg *superglue.ApiConfig, payload map[string]interface{}, credentials map[string]string, options superglue.Options) (*httpcaller.Preview, error) {
	scope := template.BuildScope(payload, credentials, nil)

	switch urlScheme(cfg.URLHost) {
	case "postgres", "postgresql":
		host, body := cfg.URLHost, cfg.Body
		for _, v := range credentials {
			if v == "" {
				continue
			}
			host = strings.ReplaceAll(host, v, "[REDACTED]")
			body = strings.ReplaceAll(body, v, "[REDACTED]")
		}
		return &httpcaller.Preview{Method: "QUERY", URL: host, Body: body}, nil
	case "http", "https", "":
		httpCaller := httpcaller.NewWithRetryDelay(options.Timeout, options.Retries, options.RetryDelay)
		return httpCaller.Preview(cfg, scope, credentials)
	default:
		return nil, errhandling.AbortError(fmt.Sprintf("unsupported endpoint scheme %q", urlScheme(cfg.URLHost)), nil)
	}
}

// urlScheme extracts the scheme prefix of a urlHost value (e.g.
// "postgres://host/db" -> "postgres"), without requiring the rest of the
// URL to be well-formed (connection strings carry credentials url.Parse
// would otherwise need unescaped).
func urlScheme(urlHost string) string {
	idx := strings.Index(urlHost, "://")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(urlHost[:idx])
}
