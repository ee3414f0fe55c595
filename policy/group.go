// Package policy groups cached functions by their function id and attaches
// tier overrides to each group. A group sits between the constructor options
// and the per-wrap options when a wrapped function's settings are resolved.
package policy

import (
	"regexp"

	"github.com/Keksclan/goRawrCache/cache"
)

// Policy holds the overrides that apply to every function in a matched
// group. Zero fields inherit the constructor settings.
type Policy struct {
	Local  cache.LocalConfig
	Remote cache.RemoteConfig
	// WaitForRefresh makes calls in the group wait for their refresh-ahead
	// check. False leaves the wrap option in charge.
	WaitForRefresh bool
}

type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

type rule struct {
	kind    matchKind
	pattern string         // exact and prefix
	re      *regexp.Regexp // regex
}

// GroupBuilder constructs a function group with one or more matching rules
// and a policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new function group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Name returns the group name.
func (g *GroupBuilder) Name() string { return g.name }

// Exact matches one function id.
func (g *GroupBuilder) Exact(functionID string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: functionID})
	return g
}

// Prefix matches every function id starting with prefix, typically a package
// path such as "github.com/acme/users.".
func (g *GroupBuilder) Prefix(prefix string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: prefix})
	return g
}

// Regex matches function ids against pattern.
// The pattern is compiled immediately; an invalid regex will panic.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches p to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
