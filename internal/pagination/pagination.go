// Package pagination drives the page/offset/cursor fetch loop shared by
// every paginated step, generalizing the three separate fetch loops
// (page-based, offset-based, cursor-based) that the reference HTTP polling
// module used to keep side by side into a single state machine.
package pagination

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/exprlang"
	"github.com/Pallavikumarimdb/superglue/internal/httpcaller"
	"github.com/Pallavikumarimdb/superglue/internal/template"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// MaxIterationsWithoutStopCondition bounds a pagination run that has no
// stopCondition expression to rely on for termination.
const MaxIterationsWithoutStopCondition = 500

// DefaultMaxPaginationRequests bounds a stopCondition-driven run when the
// caller does not override it.
const DefaultMaxPaginationRequests = 1000

// FetchFunc issues a single page request against whatever transport the
// step executor wired up (HTTP or Postgres), with scope already containing
// this iteration's page/offset/cursor/limit/pageSize variables merged in.
type FetchFunc func(ctx context.Context, scope map[string]interface{}) (*httpcaller.Result, error)

// Driver runs the per-iteration pagination algorithm against a FetchFunc.
type Driver struct {
	evaluator             *exprlang.Evaluator
	maxPaginationRequests int
}

// NewDriver creates a pagination driver. maxPaginationRequests <= 0 uses
// DefaultMaxPaginationRequests.
func NewDriver(evaluator *exprlang.Evaluator, maxPaginationRequests int) *Driver {
	if maxPaginationRequests <= 0 {
		maxPaginationRequests = DefaultMaxPaginationRequests
	}
	return &Driver{evaluator: evaluator, maxPaginationRequests: maxPaginationRequests}
}

type iterationState struct {
	page         int
	offset       int
	cursor       interface{}
	hasMore      bool
	loopCounter  int
	seenHashes   map[string]bool
	allResults   []interface{}
	firstHash    string
	previousHash string
	hasValidData bool
	totalFetched int
}

// Run drives fetch through as many iterations as the configured pagination
// type and stopCondition call for, and returns the accumulated result in
// the shape described for cfg.Pagination.Type.
func (d *Driver) Run(ctx context.Context, cfg *superglue.ApiConfig, payload map[string]interface{}, credentials map[string]string, fetch FetchFunc) (*httpcaller.Result, error) {
	pagination := cfg.Pagination
	if pagination == nil || pagination.Type == "" || pagination.Type == superglue.PaginationDisabled {
		return d.runSingleShot(ctx, cfg, payload, credentials, fetch)
	}

	pageSizeStr := pagination.EffectivePageSize()
	pageSize, err := strconv.Atoi(pageSizeStr)
	if err != nil || pageSize <= 0 {
		pageSize = 50
	}

	maxIterations := MaxIterationsWithoutStopCondition
	if pagination.StopCondition != "" {
		maxIterations = d.maxPaginationRequests
	}

	st := &iterationState{
		page: 1, offset: 0, cursor: nil, hasMore: true,
		seenHashes: make(map[string]bool), allResults: []interface{}{},
	}

	var lastResult *httpcaller.Result

	for st.loopCounter = 1; st.loopCounter <= maxIterations; st.loopCounter++ {
		vars := map[string]interface{}{
			"page": st.page, "offset": st.offset, "cursor": st.cursor,
			"limit": pageSizeStr, "pageSize": pageSizeStr,
		}
		scope := template.BuildScope(payload, credentials, vars)

		result, err := fetch(ctx, scope)
		if err != nil {
			return nil, err
		}
		lastResult = result

		body, err := autoParseIfString(result.Data)
		if err != nil {
			return nil, err
		}
		if err := detectErrorBody(body); err != nil {
			return nil, err
		}

		extracted := applyDataPath(body, cfg.DataPath)

		var terminate bool
		if pagination.StopCondition != "" {
			terminate, err = d.applyStopConditionRules(ctx, st, extracted, pagination.StopCondition, st.page, st.offset, st.cursor)
		} else {
			terminate = d.applyLengthBasedRules(st, extracted, pageSize, pagination.Type)
		}
		if err != nil {
			return nil, err
		}

		st.totalFetched = len(st.allResults)

		if terminate {
			break
		}

		if !advance(pagination, st, body) {
			break
		}
	}

	return buildFinalResult(pagination.Type, st, lastResult)
}

// runSingleShot issues one request with no pagination vocabulary — used
// when pagination is disabled or unconfigured.
func (d *Driver) runSingleShot(ctx context.Context, cfg *superglue.ApiConfig, payload map[string]interface{}, credentials map[string]string, fetch FetchFunc) (*httpcaller.Result, error) {
	scope := template.BuildScope(payload, credentials, nil)
	result, err := fetch(ctx, scope)
	if err != nil {
		return nil, err
	}

	body, err := autoParseIfString(result.Data)
	if err != nil {
		return nil, err
	}
	if err := detectErrorBody(body); err != nil {
		return nil, err
	}

	extracted := applyDataPath(body, cfg.DataPath)
	return &httpcaller.Result{Data: extracted, StatusCode: result.StatusCode, Headers: result.Headers}, nil
}

// applyStopConditionRules implements spec step 4: firstHash/hasValidData
// bookkeeping, the two-iteration misconfiguration and stop-condition-error
// checks, duplicate-hash short-circuit termination, and stopCondition
// expression evaluation. It returns whether this was the final iteration.
func (d *Driver) applyStopConditionRules(ctx context.Context, st *iterationState, extracted interface{}, stopCondition string, page, offset int, cursor interface{}) (bool, error) {
	hash := exprlang.StableHash(extracted)
	empty := isEmptyValue(extracted)

	if st.loopCounter == 1 {
		st.firstHash = hash
		st.hasValidData = !empty
	}

	if st.loopCounter == 2 && hash == st.firstHash && !empty {
		return false, errhandling.PaginationConfigError(
			"pagination parameters are not varying between requests: the first two pages are identical")
	}

	duplicateTerminate := st.loopCounter > 2 && hash == st.previousHash

	var stopFired bool
	if !duplicateTerminate {
		env := map[string]interface{}{
			"response": extracted,
			"pageInfo": map[string]interface{}{
				"page": page, "offset": offset, "cursor": cursor, "totalFetched": st.totalFetched,
			},
		}
		fired, err := d.evaluator.EvaluateBool(ctx, stopCondition, env)
		if err != nil {
			return false, err
		}
		stopFired = fired
	}

	if st.loopCounter == 2 && empty && !st.hasValidData && !stopFired {
		return false, errhandling.StopConditionError(
			"both of the first two pages were empty and the stop condition never fired", nil)
	}

	if !duplicateTerminate {
		st.allResults = accumulate(st.allResults, extracted)
	}

	st.previousHash = hash
	return duplicateTerminate || stopFired, nil
}

// applyLengthBasedRules implements spec step 5 for pagination without a
// stopCondition: short-page and hash-seen termination. Cursor-based
// pagination has no fixed page size to compare against — a page shorter
// than pageSize is not itself evidence of exhaustion, so termination for
// that mode comes only from advance() observing a nil cursor.
func (d *Driver) applyLengthBasedRules(st *iterationState, extracted interface{}, pageSize int, paginationType superglue.PaginationType) bool {
	arr, isArray := extracted.([]interface{})
	if !isArray {
		if !isEmptyValue(extracted) {
			st.allResults = accumulate(st.allResults, extracted)
		}
		return true
	}

	if paginationType != superglue.PaginationCursorBased && len(arr) < pageSize {
		st.hasMore = false
	}

	hash := exprlang.StableHash(extracted)
	if st.seenHashes[hash] {
		return true
	}
	st.seenHashes[hash] = true
	st.allResults = accumulate(st.allResults, extracted)

	return !st.hasMore
}

// advance implements spec step 6: page/offset/cursor progression. Returns
// false when there is nowhere left to advance to (cursor exhausted).
func advance(pagination *superglue.Pagination, st *iterationState, fullBody interface{}) bool {
	switch pagination.Type {
	case superglue.PaginationPageBased:
		st.page++
		return true
	case superglue.PaginationOffsetBased:
		pageSize, err := strconv.Atoi(pagination.EffectivePageSize())
		if err != nil || pageSize <= 0 {
			pageSize = 50
		}
		st.offset += pageSize
		return true
	case superglue.PaginationCursorBased:
		bodyMap, ok := fullBody.(map[string]interface{})
		if !ok {
			return false
		}
		next, ok := template.GetNestedValue(bodyMap, pagination.CursorPath)
		if !ok {
			return false
		}
		st.cursor = next
		return next != nil
	default:
		return false
	}
}

// buildFinalResult shapes the accumulated results per the return-value
// rules for each pagination type.
func buildFinalResult(paginationType superglue.PaginationType, st *iterationState, last *httpcaller.Result) (*httpcaller.Result, error) {
	var statusCode int
	var headers map[string]string
	if last != nil {
		statusCode = last.StatusCode
		headers = last.Headers
	}

	if paginationType == superglue.PaginationCursorBased {
		shape := map[string]interface{}{"next_cursor": st.cursor}
		if len(st.allResults) == 1 {
			if obj, ok := st.allResults[0].(map[string]interface{}); ok {
				for k, v := range obj {
					shape[k] = v
				}
				return &httpcaller.Result{Data: shape, StatusCode: statusCode, Headers: headers}, nil
			}
		}
		shape["results"] = st.allResults
		return &httpcaller.Result{Data: shape, StatusCode: statusCode, Headers: headers}, nil
	}

	if len(st.allResults) == 1 {
		return &httpcaller.Result{Data: st.allResults[0], StatusCode: statusCode, Headers: headers}, nil
	}
	return &httpcaller.Result{Data: st.allResults, StatusCode: statusCode, Headers: headers}, nil
}

// accumulate concats arr into all when extracted is itself an array,
// otherwise appends it as a single element.
func accumulate(all []interface{}, extracted interface{}) []interface{} {
	if arr, ok := extracted.([]interface{}); ok {
		return append(all, arr...)
	}
	return append(all, extracted)
}

// isEmptyValue reports whether v is nil, an empty string, or an empty
// array/map — the "data is non-empty" check the stopCondition rules need.
func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

// detectErrorBody raises a fatal ApiCallError when a 2xx body carries an
// "error" or non-empty "errors" field, per spec step 1. There is no status
// code to classify against here (the transport already succeeded), so the
// KindError is built directly rather than through ClassifyHTTPStatus.
func detectErrorBody(body interface{}) error {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil
	}

	var message string
	if errVal, ok := obj["error"]; ok && !isEmptyValue(errVal) {
		message = fmt.Sprintf("response body contains an error field: %v", errVal)
	} else if errsVal, ok := obj["errors"]; ok {
		if arr, ok := errsVal.([]interface{}); ok && len(arr) > 0 {
			message = fmt.Sprintf("response body contains %d error(s)", len(arr))
		}
	}
	if message == "" {
		return nil
	}

	return &errhandling.KindError{
		ClassifiedError: &errhandling.ClassifiedError{
			Category:  errhandling.CategoryValidation,
			Retryable: false,
			Message:   message,
		},
		ErrKind: errhandling.KindApiCallError,
	}
}

// applyDataPath walks dot segments of path into data; a missing segment
// leaves data unchanged rather than erroring, per spec step 3.
func applyDataPath(data interface{}, path string) interface{} {
	if path == "" {
		return data
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		return data
	}
	value, ok := template.GetNestedValue(obj, path)
	if !ok {
		return data
	}
	return value
}

// autoParseIfString implements spec step 2: string bodies are auto-detected
// and parsed as JSON, XML, or CSV before dataPath extraction, and an
// HTML-looking body is rejected outright.
func autoParseIfString(data interface{}) (interface{}, error) {
	s, ok := data.(string)
	if !ok {
		return data, nil
	}

	trimmed := strings.TrimSpace(s)
	if looksLikeHTML(trimmed) {
		return nil, errhandling.HtmlResponseError("Received HTML response instead of API data")
	}

	var jsonVal interface{}
	if err := json.Unmarshal([]byte(trimmed), &jsonVal); err == nil {
		return jsonVal, nil
	}

	if strings.HasPrefix(trimmed, "<") {
		if parsed, err := parseXML([]byte(trimmed)); err == nil {
			return parsed, nil
		}
	}

	if parsed, ok := tryParseCSV(trimmed); ok {
		return parsed, nil
	}

	return s, nil
}

// looksLikeHTML checks the first 100 trimmed characters for an HTML
// doctype or root tag, case-insensitively.
func looksLikeHTML(trimmed string) bool {
	prefix := trimmed
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	lower := strings.ToLower(prefix)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

func tryParseCSV(s string) ([]interface{}, bool) {
	if !strings.Contains(s, ",") || !strings.Contains(s, "\n") {
		return nil, false
	}
	reader := csv.NewReader(strings.NewReader(s))
	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 2 {
		return nil, false
	}
	header := rows[0]
	records := make([]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, true
}

type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func parseXML(data []byte) (map[string]interface{}, error) {
	var node xmlNode
	if err := xml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return xmlNodeToMap(node), nil
}

func xmlNodeToMap(node xmlNode) map[string]interface{} {
	result := make(map[string]interface{})
	for _, attr := range node.Attrs {
		result["@"+attr.Name.Local] = attr.Value
	}

	if len(node.Children) == 0 {
		content := strings.TrimSpace(node.Content)
		if content != "" {
			if len(result) == 0 {
				return map[string]interface{}{node.XMLName.Local: content}
			}
			result["#text"] = content
		}
		return map[string]interface{}{node.XMLName.Local: result}
	}

	childGroups := make(map[string][]interface{})
	for _, child := range node.Children {
		for k, v := range xmlNodeToMap(child) {
			childGroups[k] = append(childGroups[k], v)
		}
	}
	for name, values := range childGroups {
		if len(values) == 1 {
			result[name] = values[0]
		} else {
			result[name] = values
		}
	}
	return map[string]interface{}{node.XMLName.Local: result}
}
