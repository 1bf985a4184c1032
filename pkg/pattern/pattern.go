// Package pattern compiles the query patterns used by answer rules.
// Two forms are understood:
//   - Wildcard: *.example.com (strict subdomains of example.com)
//   - Regex: anything else, e.g. a\.com or ^ads?\. ; searched anywhere in the query
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternType represents the form a rule pattern was written in.
type PatternType int

const (
	// PatternTypeRegex is a regular expression searched anywhere in the query.
	PatternTypeRegex PatternType = iota
	// PatternTypeWildcard matches strict subdomains (e.g., *.example.com)
	PatternTypeWildcard
)

// String returns a human-readable name for the pattern type.
func (pt PatternType) String() string {
	switch pt {
	case PatternTypeRegex:
		return "regex"
	case PatternTypeWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Pattern is a compiled rule pattern. It is immutable after Compile and
// safe for concurrent use.
type Pattern struct {
	Raw  string
	Type PatternType

	suffix   string         // wildcard only, lower case with leading dot
	compiled *regexp.Regexp // regex only
}

// Compile parses raw into a Pattern.
//
// A pattern is not anchored: "a\.com" matches "a.com" and "www.a.com.cdn"
// alike. Use ^ and $ to anchor explicitly.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	if strings.HasPrefix(raw, "*.") {
		suffix := strings.TrimPrefix(raw, "*")
		if suffix == "." {
			return nil, fmt.Errorf("invalid wildcard pattern %q: missing domain", raw)
		}
		return &Pattern{
			Raw:    raw,
			Type:   PatternTypeWildcard,
			suffix: strings.ToLower(strings.TrimSuffix(suffix, ".")),
		}, nil
	}

	compiled, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", raw, err)
	}
	return &Pattern{
		Raw:      raw,
		Type:     PatternTypeRegex,
		compiled: compiled,
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level fixtures.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the pattern occurs in query.
func (p *Pattern) Match(query string) bool {
	switch p.Type {
	case PatternTypeWildcard:
		q := strings.ToLower(strings.TrimSuffix(query, "."))
		return len(q) > len(p.suffix) && strings.HasSuffix(q, p.suffix)
	case PatternTypeRegex:
		if p.compiled == nil {
			return false
		}
		return p.compiled.MatchString(query)
	}
	return false
}

// String returns a string representation of the pattern.
func (p *Pattern) String() string {
	return fmt.Sprintf("%s(%s)", p.Type, p.Raw)
}
