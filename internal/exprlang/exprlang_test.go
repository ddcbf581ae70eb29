package exprlang

import (
	"context"
	"testing"
	"time"
)

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		env     map[string]interface{}
		want    interface{}
		wantErr bool
	}{
		{
			name:   "arithmetic over env values",
			source: "payload.count + 1",
			env:    map[string]interface{}{"payload": map[string]interface{}{"count": 41}},
			want:   42,
		},
		{
			name:   "string builtin trim",
			source: `trim("  hello  ")`,
			env:    map[string]interface{}{},
			want:   "hello",
		},
		{
			name:   "toInt coerces string",
			source: `toInt("7")`,
			env:    map[string]interface{}{},
			want:   7,
		},
		{
			name:    "compile error on malformed expression",
			source:  "payload..count",
			env:     map[string]interface{}{},
			wantErr: true,
		},
		{
			name:    "incomplete binary expression fails at compile",
			source:  "1 +",
			env:     map[string]interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(time.Second)
			got, err := e.Evaluate(context.Background(), tt.source, tt.env)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Evaluate() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvaluator_CompileIsCached(t *testing.T) {
	e := NewEvaluator(time.Second)
	first, err := e.Compile("1 + 1")
	if err != nil {
		t.Fatalf("Compile() unexpected error: %v", err)
	}
	second, err := e.Compile("1 + 1")
	if err != nil {
		t.Fatalf("Compile() unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("Compile() expected cached program pointer to be reused")
	}
}

func TestEvaluator_EvaluateBool(t *testing.T) {
	e := NewEvaluator(time.Second)

	t.Run("true predicate", func(t *testing.T) {
		got, err := e.EvaluateBool(context.Background(), "response.status == 200", map[string]interface{}{
			"response": map[string]interface{}{"status": 200},
		})
		if err != nil {
			t.Fatalf("EvaluateBool() unexpected error: %v", err)
		}
		if !got {
			t.Errorf("EvaluateBool() = false, want true")
		}
	})

	t.Run("non-boolean result is an error", func(t *testing.T) {
		_, err := e.EvaluateBool(context.Background(), `"not a bool"`, map[string]interface{}{})
		if err == nil {
			t.Fatal("EvaluateBool() expected error for non-boolean result")
		}
	})
}

func TestEvaluator_EvaluateArray(t *testing.T) {
	e := NewEvaluator(time.Second)

	t.Run("array result", func(t *testing.T) {
		got, err := e.EvaluateArray(context.Background(), "payload.items", map[string]interface{}{
			"payload": map[string]interface{}{"items": []interface{}{"a", "b", "c"}},
		})
		if err != nil {
			t.Fatalf("EvaluateArray() unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("EvaluateArray() len = %d, want 3", len(got))
		}
	})

	t.Run("nil result becomes empty array", func(t *testing.T) {
		got, err := e.EvaluateArray(context.Background(), "payload.missing", map[string]interface{}{
			"payload": map[string]interface{}{},
		})
		if err != nil {
			t.Fatalf("EvaluateArray() unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("EvaluateArray() expected empty array, got %v", got)
		}
	})

	t.Run("scalar result is an error", func(t *testing.T) {
		_, err := e.EvaluateArray(context.Background(), "42", map[string]interface{}{})
		if err == nil {
			t.Fatal("EvaluateArray() expected error for non-array result")
		}
	})
}

func TestEvaluator_FastExpressionFinishesWithinTimeout(t *testing.T) {
	e := NewEvaluator(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Wait out an unrelated 20ms context, then check that a fast expression
	// evaluated on a fresh context finishes within the evaluator's own 20ms
	// timeout.
	<-ctx.Done()

	_, err := e.Evaluate(context.Background(), "1 + 1", map[string]interface{}{})
	if err != nil {
		t.Fatalf("sanity check: fast expression should not itself time out: %v", err)
	}
}

func TestStableHash(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	if StableHash(a) != StableHash(b) {
		t.Errorf("StableHash() expected identical hashes for maps differing only in key order")
	}

	c := map[string]interface{}{"a": 1, "b": 3}
	if StableHash(a) == StableHash(c) {
		t.Errorf("StableHash() expected different hashes for different content")
	}
}

func TestStableHash_NestedStructures(t *testing.T) {
	a := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": 1, "name": "x"},
			map[string]interface{}{"id": 2, "name": "y"},
		},
	}
	b := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"name": "x", "id": 1},
			map[string]interface{}{"name": "y", "id": 2},
		},
	}
	if StableHash(a) != StableHash(b) {
		t.Errorf("StableHash() expected order-independent hashing of nested map keys")
	}
}
