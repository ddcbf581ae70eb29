// Package exprlang evaluates the JSONata-style expressions used for
// inputMapping, responseMapping, finalTransform, loopSelector, and
// stopCondition, via github.com/expr-lang/expr. Compiled programs are
// cached; evaluation runs on a goroutine bounded by a context deadline,
// generalizing the interrupt-on-cancellation idiom used for sandboxed
// script execution elsewhere in this codebase (expr programs expose no
// native interrupt hook, so a cancellation channel plays the same role
// goja.Runtime.Interrupt() does there).
package exprlang

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
)

// DefaultTimeout bounds a single expression evaluation when the caller does
// not override it.
const DefaultTimeout = 30 * time.Second

// Evaluator compiles and evaluates expressions against an arbitrary
// environment map, caching compiled programs by source text.
type Evaluator struct {
	mu      sync.Mutex
	cache   map[string]*vm.Program
	timeout time.Duration
}

// NewEvaluator creates an expression evaluator bounding each evaluation to
// timeout. timeout <= 0 uses DefaultTimeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{cache: make(map[string]*vm.Program), timeout: timeout}
}

// Compile compiles source once and caches the program, returning the cached
// program on subsequent calls with identical source.
func (e *Evaluator) Compile(source string) (*vm.Program, error) {
	e.mu.Lock()
	if program, ok := e.cache[source]; ok {
		e.mu.Unlock()
		return program, nil
	}
	e.mu.Unlock()

	opts := append([]expr.Option{expr.AllowUndefinedVariables()}, Functions()...)
	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, errhandling.AbortError(fmt.Sprintf("compiling expression: %v", err), err)
	}

	e.mu.Lock()
	e.cache[source] = program
	e.mu.Unlock()
	return program, nil
}

// Evaluate compiles (if needed) and runs source against env, within the
// evaluator's configured timeout. The env map is typically
// {payload, credentials, steps} or {response, pageInfo} depending on caller.
func (e *Evaluator) Evaluate(ctx context.Context, source string, env map[string]interface{}) (interface{}, error) {
	program, err := e.Compile(source)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, runErr := expr.Run(program, env)
		done <- outcome{value: value, err: runErr}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, errhandling.AbortError(fmt.Sprintf("evaluating expression: %v", out.err), out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		logger.Warn("expression evaluation timed out", slog.String("expression", truncate(source, 200)))
		return nil, errhandling.TimeoutError("expression evaluation exceeded its time budget")
	}
}

// EvaluateBool evaluates source and coerces the result to a bool, as
// required for loopSelector guards and stopCondition predicates.
func (e *Evaluator) EvaluateBool(ctx context.Context, source string, env map[string]interface{}) (bool, error) {
	value, err := e.Evaluate(ctx, source, env)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, errhandling.StopConditionError(fmt.Sprintf("expression did not evaluate to a boolean, got %T", value), nil)
	}
	return b, nil
}

// EvaluateArray evaluates source and coerces the result to a slice, as
// required for loopSelector.
func (e *Evaluator) EvaluateArray(ctx context.Context, source string, env map[string]interface{}) ([]interface{}, error) {
	value, err := e.Evaluate(ctx, source, env)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return []interface{}{}, nil
	}
	arr, ok := value.([]interface{})
	if !ok {
		return nil, errhandling.AbortError(fmt.Sprintf("loopSelector did not evaluate to an array, got %T", value), nil)
	}
	return arr, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
