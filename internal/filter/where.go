package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-dap"
)

// fields maps --where field names to variable accessors.
var fields = map[string]func(dap.Variable) string{
	"name":  func(v dap.Variable) string { return v.Name },
	"value": func(v dap.Variable) string { return v.Value },
	"type":  func(v dap.Variable) string { return v.Type },
	"ref":   func(v dap.Variable) string { return strconv.Itoa(v.VariablesReference) },
}

// operators in match order; two-character operators come first so "!="
// is not read as "=".
var operators = []struct {
	token string
	match func(wc *WhereClause, got string) bool
}{
	{"!~", func(wc *WhereClause, got string) bool { return !wc.regex.MatchString(got) }},
	{">=", func(wc *WhereClause, got string) bool { return compareNumbers(got, wc.Value, 1) }},
	{"<=", func(wc *WhereClause, got string) bool { return compareNumbers(got, wc.Value, -1) }},
	{"!=", func(wc *WhereClause, got string) bool { return got != wc.Value }},
	{"~", func(wc *WhereClause, got string) bool { return wc.regex.MatchString(got) }},
	{"=", func(wc *WhereClause, got string) bool { return got == wc.Value }},
	{"^", func(wc *WhereClause, got string) bool { return strings.HasPrefix(got, wc.Value) }},
	{"$", func(wc *WhereClause, got string) bool { return strings.HasSuffix(got, wc.Value) }},
}

// WhereClause is one parsed --where condition on a variable field
type WhereClause struct {
	Field    string
	Operator string
	Value    string

	get   func(dap.Variable) string
	match func(wc *WhereClause, got string) bool
	regex *regexp.Regexp
}

// ParseWhereClause parses a clause like "type=int", "name~^tmp" or
// "value>=10".
func ParseWhereClause(clause string) (*WhereClause, error) {
	for _, op := range operators {
		idx := strings.Index(clause, op.token)
		if idx <= 0 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(clause[:idx]))
		value := strings.TrimSpace(clause[idx+len(op.token):])
		if field == "" || value == "" {
			return nil, fmt.Errorf("invalid where clause: %s", clause)
		}
		get, ok := fields[field]
		if !ok {
			return nil, fmt.Errorf("unknown field %q in where clause (use name, value, type or ref)", field)
		}

		wc := &WhereClause{Field: field, Operator: op.token, Value: value, get: get, match: op.match}
		if op.token == "~" || op.token == "!~" {
			re, err := regexp.Compile(value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
			}
			wc.regex = re
		}
		return wc, nil
	}
	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match reports whether v satisfies the clause
func (wc *WhereClause) Match(v dap.Variable) bool {
	return wc.match(wc, wc.get(v))
}

// compareNumbers reports got >= want (sign 1) or got <= want (sign -1).
// Either side failing to parse never matches.
func compareNumbers(got, want string, sign int) bool {
	a, ok := parseNumber(got)
	if !ok {
		return false
	}
	b, ok := parseNumber(want)
	if !ok {
		return false
	}
	if sign > 0 {
		return a >= b
	}
	return a <= b
}

// parseNumber accepts decimal, 0x hex and floating point values.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(n), true
	}
	if n, err := strconv.ParseUint(s, 0, 64); err == nil {
		return float64(n), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return 0, false
}

// WhereFilter ANDs several clauses. A nil filter matches everything.
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter parses every clause; no clauses gives a nil filter
func NewWhereFilter(clauses []string) (*WhereFilter, error) {
	if len(clauses) == 0 {
		return nil, nil
	}
	f := &WhereFilter{clauses: make([]*WhereClause, 0, len(clauses))}
	for _, clause := range clauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		f.clauses = append(f.clauses, wc)
	}
	return f, nil
}

// Match reports whether v satisfies every clause
func (f *WhereFilter) Match(v dap.Variable) bool {
	if f == nil {
		return true
	}
	for _, wc := range f.clauses {
		if !wc.Match(v) {
			return false
		}
	}
	return true
}
