package pgcaller

import (
	"testing"
)

func TestBuildParameterizedQuery(t *testing.T) {
	t.Run("no placeholders returns query unchanged", func(t *testing.T) {
		query, args, err := buildParameterizedQuery("SELECT * FROM users", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if query != "SELECT * FROM users" {
			t.Errorf("query = %q, want unchanged", query)
		}
		if len(args) != 0 {
			t.Errorf("expected no args, got %v", args)
		}
	})

	t.Run("substitutes placeholders with positional parameters", func(t *testing.T) {
		query, args, err := buildParameterizedQuery(
			"SELECT * FROM users WHERE id = {{id}} AND status = {{status}}",
			map[string]interface{}{"id": "42", "status": "active"},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if query != "SELECT * FROM users WHERE id = $1 AND status = $2" {
			t.Errorf("query = %q", query)
		}
		if len(args) != 2 || args[0] != "42" || args[1] != "active" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("errors on unresolved placeholder", func(t *testing.T) {
		_, _, err := buildParameterizedQuery("SELECT * FROM users WHERE id = {{missing}}", map[string]interface{}{})
		if err == nil {
			t.Error("expected error for unresolved placeholder")
		}
	})

	t.Run("repeated placeholder gets distinct positional parameters", func(t *testing.T) {
		query, args, err := buildParameterizedQuery(
			"SELECT * FROM t WHERE a = {{x}} OR b = {{x}}",
			map[string]interface{}{"x": "v"},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if query != "SELECT * FROM t WHERE a = $1 OR b = $2" {
			t.Errorf("query = %q", query)
		}
		if len(args) != 2 {
			t.Errorf("expected 2 args, got %v", args)
		}
	})
}

func TestPool_NewAndCloseResetRegistry(t *testing.T) {
	// get() dials lazily; this only verifies the registry structure without
	// requiring a live Postgres instance.
	p := NewPool()
	if p.pools == nil {
		t.Fatal("expected pools map to be initialized")
	}
	p.Close()
	if len(p.pools) != 0 {
		t.Error("expected pools map to be empty after Close")
	}
}
