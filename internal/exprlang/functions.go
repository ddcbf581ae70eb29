package exprlang

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// Functions returns the expr.Option set that registers this runtime's
// builtin callables, adapted from the string/type-conversion transform
// operations used elsewhere in this codebase so the same vocabulary
// (trim, toInt, dateFormat, ...) is available from expressions.
func Functions() []expr.Option {
	return []expr.Option{
		expr.Function("trim", func(params ...interface{}) (interface{}, error) {
			return exprTrim(arg(params, 0))
		}),
		expr.Function("lower", func(params ...interface{}) (interface{}, error) {
			return exprLower(arg(params, 0))
		}),
		expr.Function("upper", func(params ...interface{}) (interface{}, error) {
			return exprUpper(arg(params, 0))
		}),
		expr.Function("toString", func(params ...interface{}) (interface{}, error) {
			return exprToString(arg(params, 0)), nil
		}),
		expr.Function("toInt", func(params ...interface{}) (interface{}, error) {
			return exprToInt(arg(params, 0))
		}),
		expr.Function("toFloat", func(params ...interface{}) (interface{}, error) {
			return exprToFloat(arg(params, 0))
		}),
		expr.Function("toBool", func(params ...interface{}) (interface{}, error) {
			return exprToBool(arg(params, 0))
		}),
		expr.Function("dateFormat", func(params ...interface{}) (interface{}, error) {
			value := arg(params, 0)
			format, _ := arg(params, 1).(string)
			return exprDateFormat(value, format)
		}),
		expr.Function("join", func(params ...interface{}) (interface{}, error) {
			value := arg(params, 0)
			sep, _ := arg(params, 1).(string)
			return exprJoin(value, sep), nil
		}),
		expr.Function("split", func(params ...interface{}) (interface{}, error) {
			value := arg(params, 0)
			sep, _ := arg(params, 1).(string)
			return exprSplit(value, sep), nil
		}),
		expr.Function("stableHash", func(params ...interface{}) (interface{}, error) {
			return stableHashOf(arg(params, 0))
		}),
	}
}

func arg(params []interface{}, i int) interface{} {
	if i >= len(params) {
		return nil
	}
	return params[i]
}

func exprTrim(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return value, nil
}

func exprLower(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.ToLower(s), nil
	}
	return value, nil
}

func exprUpper(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.ToUpper(s), nil
	}
	return value, nil
}

func exprToString(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

func exprToInt(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return nil, fmt.Errorf("cannot convert float with fractional part to int: %v", v)
		}
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("cannot convert number to int: %w", err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("cannot parse int from string %q: %w", v, err)
		}
		return i, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", value)
	}
}

func exprToFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot convert number to float: %w", err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse float from string %q: %w", v, err)
		}
		return f, nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float", value)
	}
}

func exprToBool(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("cannot parse bool from string %q: %w", v, err)
		}
		return b, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bool", value)
	}
}

func exprDateFormat(value interface{}, format string) (interface{}, error) {
	if format == "" {
		format = "2006-01-02T15:04:05"
	}
	goFormat := convertDateFormat(format)

	var t time.Time
	var err error

	switch v := value.(type) {
	case string:
		for _, inputFmt := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", time.RFC1123} {
			t, err = time.Parse(inputFmt, v)
			if err == nil {
				break
			}
		}
		if err != nil {
			return value, fmt.Errorf("could not parse date: %s", v)
		}
	case time.Time:
		t = v
	default:
		return value, nil
	}

	return t.Format(goFormat), nil
}

func convertDateFormat(format string) string {
	replacements := []struct{ pattern, replacement string }{
		{"YYYY", "2006"}, {"YY", "06"}, {"MM", "01"}, {"DD", "02"},
		{"HH", "15"}, {"mm", "04"}, {"ss", "05"}, {"SSS", "000"},
	}
	result := format
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.pattern, r.replacement)
	}
	return result
}

func exprJoin(value interface{}, sep string) interface{} {
	if sep == "" {
		sep = ","
	}
	switch v := value.(type) {
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, sep)
	case []string:
		return strings.Join(v, sep)
	}
	return value
}

func stableHashOf(value interface{}) (interface{}, error) {
	return StableHash(value), nil
}

// StableHash produces a content hash of value that is stable across Go map
// key orderings, for the pagination driver's iteration-dedup check against
// previously seen pages.
func StableHash(value interface{}) string {
	sum := sha256.Sum256([]byte(canonicalize(value)))
	return hex.EncodeToString(sum[:])
}

func canonicalize(value interface{}) string {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.WriteString(canonicalize(v[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []interface{}:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalize(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func exprSplit(value interface{}, sep string) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(s, sep)
	result := make([]interface{}, len(parts))
	for i, p := range parts {
		result[i] = strings.TrimSpace(p)
	}
	return result
}
