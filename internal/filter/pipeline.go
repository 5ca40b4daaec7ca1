// Package filter narrows variable listings and collapses repeated backend
// log events for the CLI.
package filter

import (
	"regexp"

	"github.com/google/go-dap"
	"github.com/samber/lo"
)

// Pipeline applies a name pattern, exclude patterns and where clauses, in
// that order. A nil Pipeline matches everything.
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline returns nil when no filter is configured.
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{pattern: pattern, excludes: excludes, where: where}
}

// Match reports whether v passes every stage.
func (p *Pipeline) Match(v dap.Variable) bool {
	if p == nil {
		return true
	}
	if p.pattern != nil && !p.pattern.MatchString(v.Name) {
		return false
	}
	for _, ex := range p.excludes {
		if ex.MatchString(v.Name) {
			return false
		}
	}
	return p.where.Match(v)
}

// Apply returns the variables that match, preserving order.
func (p *Pipeline) Apply(vars []dap.Variable) []dap.Variable {
	if p == nil {
		return vars
	}
	return lo.Filter(vars, func(v dap.Variable, _ int) bool { return p.Match(v) })
}
