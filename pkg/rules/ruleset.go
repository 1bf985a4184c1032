// Package rules holds the per-client answer rules and the store that
// publishes them to the query path.
package rules

import (
	"fmt"

	"blackhole/pkg/pattern"
)

// DoNothing is the answer value that suppresses any answer for a matching
// query. It is checked before any record-type specific synthesis.
const DoNothing = "do_nothing"

// Entry is the uncompiled form of a rule as it appears in configuration,
// API payloads and persisted overrides.
type Entry struct {
	Pattern string `yaml:"pattern" json:"pattern" validate:"required"`
	Answer  string `yaml:"answer" json:"answer" validate:"required"`
}

// Rule pairs a compiled pattern with the answer to give when it matches.
type Rule struct {
	pattern *pattern.Pattern
	answer  string
}

// NewRule builds a rule from an already compiled pattern.
func NewRule(p *pattern.Pattern, answer string) Rule {
	return Rule{pattern: p, answer: answer}
}

// Pattern returns the rule's pattern text.
func (r Rule) Pattern() string {
	if r.pattern == nil {
		return ""
	}
	return r.pattern.Raw
}

// Answer returns the configured answer value.
func (r Rule) Answer() string { return r.answer }

// Suppresses reports whether the rule's answer is the DoNothing sentinel.
func (r Rule) Suppresses() bool { return r.answer == DoNothing }

// Matches reports whether the rule's pattern occurs in query.
func (r Rule) Matches(query string) bool {
	return r.pattern != nil && r.pattern.Match(query)
}

// RuleSet is an ordered list of rules for one client. Order is priority:
// the first rule whose pattern matches wins. A RuleSet never changes after
// construction, so readers holding one see a consistent set.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet copies rules into a new RuleSet.
func NewRuleSet(rules ...Rule) *RuleSet {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &RuleSet{rules: cp}
}

// Compile compiles entries, in order, into a RuleSet. The first entry that
// fails to compile aborts the whole set.
func Compile(entries []Entry) (*RuleSet, error) {
	compiled := make([]Rule, 0, len(entries))
	for i, e := range entries {
		if e.Answer == "" {
			return nil, fmt.Errorf("rule %d (%s): empty answer", i, e.Pattern)
		}
		p, err := pattern.Compile(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		compiled = append(compiled, Rule{pattern: p, answer: e.Answer})
	}
	return &RuleSet{rules: compiled}, nil
}

// First returns the first rule matching query.
func (rs *RuleSet) First(query string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	for _, r := range rs.rules {
		if r.Matches(query) {
			return r, true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns a copy of the rules in priority order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	cp := make([]Rule, len(rs.rules))
	copy(cp, rs.rules)
	return cp
}

// Entries converts the set back to its uncompiled form.
func (rs *RuleSet) Entries() []Entry {
	if rs == nil {
		return []Entry{}
	}
	out := make([]Entry, 0, len(rs.rules))
	for _, r := range rs.rules {
		out = append(out, Entry{Pattern: r.Pattern(), Answer: r.answer})
	}
	return out
}
