package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Filter is a typed metadata predicate over a closed operator set: equality,
// numeric range (gte/lte), set membership (in), and logical AND. Anything
// outside this set is rejected when the filter is parsed, never silently
// ignored.
type Filter struct {
	op       filterOp
	field    string
	value    any
	gte, lte *float64
	in       []any
	children []*Filter
}

type filterOp int

const (
	opEq filterOp = iota
	opRange
	opIn
	opAnd
)

// Eq matches passages whose metadata field equals value.
func Eq(field string, value any) *Filter {
	return &Filter{op: opEq, field: field, value: value}
}

// Gte matches passages whose numeric metadata field is >= min.
func Gte(field string, min float64) *Filter {
	return &Filter{op: opRange, field: field, gte: &min}
}

// Lte matches passages whose numeric metadata field is <= max.
func Lte(field string, max float64) *Filter {
	return &Filter{op: opRange, field: field, lte: &max}
}

// Between matches passages whose numeric metadata field is in [min, max].
func Between(field string, min, max float64) *Filter {
	return &Filter{op: opRange, field: field, gte: &min, lte: &max}
}

// In matches passages whose metadata field equals any of values.
func In(field string, values ...any) *Filter {
	return &Filter{op: opIn, field: field, in: values}
}

// And matches passages satisfying every child filter.
func And(filters ...*Filter) *Filter {
	return &Filter{op: opAnd, children: filters}
}

// Matches evaluates the predicate against passage metadata. A nil filter
// matches everything. A field absent from the metadata never matches.
func (f *Filter) Matches(meta map[string]any) bool {
	if f == nil {
		return true
	}

	switch f.op {
	case opEq:
		v, ok := meta[f.field]
		return ok && looseEqual(v, f.value)

	case opRange:
		num, ok := toFloat(meta[f.field])
		if !ok {
			return false
		}
		if f.gte != nil && num < *f.gte {
			return false
		}
		if f.lte != nil && num > *f.lte {
			return false
		}
		return true

	case opIn:
		v, ok := meta[f.field]
		if !ok {
			return false
		}
		for _, candidate := range f.in {
			if looseEqual(v, candidate) {
				return true
			}
		}
		return false

	case opAnd:
		for _, child := range f.children {
			if !child.Matches(meta) {
				return false
			}
		}
		return true
	}

	return false
}

// String renders the predicate compactly for logs and run records.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}

	switch f.op {
	case opEq:
		return fmt.Sprintf("%s=%v", f.field, f.value)
	case opRange:
		var parts []string
		if f.gte != nil {
			parts = append(parts, fmt.Sprintf("%s>=%v", f.field, *f.gte))
		}
		if f.lte != nil {
			parts = append(parts, fmt.Sprintf("%s<=%v", f.field, *f.lte))
		}
		return strings.Join(parts, " AND ")
	case opIn:
		return fmt.Sprintf("%s in %v", f.field, f.in)
	case opAnd:
		parts := make([]string, len(f.children))
		for i, child := range f.children {
			parts[i] = child.String()
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	}
	return ""
}

// ParseFilterJSON parses the JSON filter form accepted at the CLI and MCP
// boundary:
//
//	{"category": "PRACTICAL"}
//	{"position": {"gte": 3, "lte": 12}}
//	{"category": {"in": ["PRACTICAL", "MOTIVATION"]}}
//	{"and": [{"category": "PRACTICAL"}, {"position": {"gte": 3}}]}
//
// Operator keys may carry a leading "$" for compatibility with Chroma-style
// filters ($gte, $lte, $in, $and). Multiple fields in one object combine as
// an implicit AND. An empty object parses to a nil filter.
func ParseFilterJSON(data []byte) (*Filter, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("filter must be a JSON object: %w", err)
	}

	return ParseFilterObject(raw)
}

// ParseFilterObject parses an already-decoded JSON object into a Filter.
func ParseFilterObject(raw map[string]any) (*Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	// Logical AND must be the only key in its object.
	for _, andKey := range []string{"and", "$and"} {
		v, ok := raw[andKey]
		if !ok {
			continue
		}
		if len(raw) != 1 {
			return nil, fmt.Errorf("%q cannot be combined with other filter keys", andKey)
		}
		clauses, ok := v.([]any)
		if !ok || len(clauses) == 0 {
			return nil, fmt.Errorf("%q requires a non-empty array of filter objects", andKey)
		}
		children := make([]*Filter, 0, len(clauses))
		for i, clause := range clauses {
			obj, ok := clause.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%q clause %d is not an object", andKey, i)
			}
			child, err := ParseFilterObject(obj)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%q resolved to no filter clauses", andKey)
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return And(children...), nil
	}

	// Sort fields so multi-field objects build deterministically.
	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	filters := make([]*Filter, 0, len(fields))
	for _, field := range fields {
		f, err := parseFieldFilter(field, raw[field])
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	if len(filters) == 1 {
		return filters[0], nil
	}
	return And(filters...), nil
}

// parseFieldFilter parses one field's condition: a scalar for equality or an
// operator object for range / set membership.
func parseFieldFilter(field string, value any) (*Filter, error) {
	switch v := value.(type) {
	case map[string]any:
		return parseOperatorObject(field, v)
	case []any:
		return nil, fmt.Errorf("field %q: bare arrays are not a filter; use {\"in\": [...]}", field)
	case nil:
		return nil, fmt.Errorf("field %q: null is not a supported filter value", field)
	default:
		return Eq(field, v), nil
	}
}

func parseOperatorObject(field string, obj map[string]any) (*Filter, error) {
	if len(obj) == 0 {
		return nil, fmt.Errorf("field %q: empty operator object", field)
	}

	f := &Filter{op: opRange, field: field}
	var haveRange, haveIn bool

	for key, v := range obj {
		switch strings.TrimPrefix(key, "$") {
		case "gte":
			num, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("field %q: gte requires a number, got %T", field, v)
			}
			f.gte = &num
			haveRange = true
		case "lte":
			num, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("field %q: lte requires a number, got %T", field, v)
			}
			f.lte = &num
			haveRange = true
		case "in":
			values, ok := v.([]any)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("field %q: in requires a non-empty array", field)
			}
			f.op = opIn
			f.in = values
			haveIn = true
		default:
			return nil, fmt.Errorf("field %q: unsupported filter operator %q (supported: gte, lte, in)", field, key)
		}
	}

	if haveRange && haveIn {
		return nil, fmt.Errorf("field %q: cannot combine range and in operators", field)
	}
	return f, nil
}

// toFloat coerces numeric values (and numeric strings, which the chromem
// backend stores) to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// looseEqual compares metadata values across the type drift introduced by
// JSON decoding and string-typed backend storage: values that both parse as
// numbers compare numerically, everything else by string form.
func looseEqual(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
