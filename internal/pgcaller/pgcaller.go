// Package pgcaller issues a parameterized Postgres query as the "call" leg
// of an ApiConfig whose urlHost uses the postgres:// or postgresql://
// scheme, mirroring the shape httpcaller.Result returns so the step
// executor can treat either transport identically.
package pgcaller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pallavikumarimdb/superglue/internal/database"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/template"
)

// DefaultQueryTimeout bounds a single query when the step does not override it.
const DefaultQueryTimeout = 30 * time.Second

// Pool manages pooled pgx connections, keyed by connection string, so
// repeated calls against the same Postgres integration reuse one pool
// rather than dialing per call.
type Pool struct {
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewPool creates an empty connection pool registry.
func NewPool() *Pool {
	return &Pool{pools: make(map[string]*pgxpool.Pool)}
}

func (p *Pool) get(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pools[connString]; ok {
		return pool, nil
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		dbErr := database.ClassifyDatabaseError(err, database.DriverPostgres, "connect", "", 0)
		return nil, dbErr
	}
	p.pools[connString] = pool
	return pool, nil
}

// Close releases every pooled connection. Safe to call once at process exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pool := range p.pools {
		pool.Close()
	}
	p.pools = make(map[string]*pgxpool.Pool)
}

// Caller executes a query string (built from ApiConfig.Body, the step's
// Postgres query template) against a connection string (ApiConfig.URLHost).
type Caller struct {
	pool      *Pool
	evaluator *template.Evaluator
	timeout   time.Duration
}

// New creates a Postgres caller backed by pool, with the given per-query
// timeout. timeout <= 0 uses DefaultQueryTimeout.
func New(pool *Pool, timeout time.Duration) *Caller {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Caller{pool: pool, evaluator: template.NewEvaluator(), timeout: timeout}
}

// Call runs queryTemplate (the ApiConfig's Body field, holding SQL text with
// {{field}}-style placeholders) against connString (the ApiConfig's
// URLHost), substituting placeholders with parameterized positional
// arguments rather than literal interpolation, and returns rows as a slice
// of column-keyed maps in Result.Data.
func (c *Caller) Call(ctx context.Context, connString, queryTemplate string, scope map[string]interface{}) (*httpcaller.Result, error) {
	pool, err := c.pool.get(ctx, connString)
	if err != nil {
		return nil, err
	}

	query, args, err := buildParameterizedQuery(queryTemplate, scope)
	if err != nil {
		return nil, database.NewQueryError("query", err.Error(), queryTemplate, 0, err, false)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", query, len(args))
	}
	defer rows.Close()

	records, err := rowsToRecords(rows)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", query, len(args))
	}

	return &httpcaller.Result{
		Data:       records,
		StatusCode: 200,
		Headers:    map[string]string{"X-Row-Count": fmt.Sprintf("%d", len(records))},
	}, nil
}

// buildParameterizedQuery rewrites {{path}}/{path}/<<path>> placeholders in
// queryTemplate into $1, $2, ... positional parameters, resolving each path
// against scope. Values are never interpolated as literal SQL text, which is
// what keeps this safe against injection regardless of what scope holds.
func buildParameterizedQuery(queryTemplate string, scope map[string]interface{}) (string, []interface{}, error) {
	variables := template.NewEvaluator().ParseVariables(queryTemplate)
	if len(variables) == 0 {
		return queryTemplate, nil, nil
	}

	query := queryTemplate
	var args []interface{}
	paramIndex := 1

	for _, v := range variables {
		value, found := template.GetNestedValue(scope, v.Path)
		if !found {
			return "", nil, fmt.Errorf("query placeholder %q did not resolve against the call scope", v.Path)
		}
		query = strings.Replace(query, v.FullMatch, database.FormatPlaceholder(database.DriverPostgres, paramIndex), 1)
		args = append(args, value)
		paramIndex++
	}

	return query, args, nil
}

func rowsToRecords(rows pgx.Rows) ([]map[string]interface{}, error) {
	fields := rows.FieldDescriptions()
	records := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		record := make(map[string]interface{}, len(values))
		for i, v := range values {
			name := fields[i].Name
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[name] = v
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}
