package answer

import "blackhole/pkg/rules"

// RuleLookup returns the RuleSet published for a client.
type RuleLookup interface {
	Lookup(client string) (*rules.RuleSet, bool)
}

// Engine picks the rule that applies to a query.
type Engine struct {
	rules RuleLookup
}

// NewEngine creates an engine reading from store.
func NewEngine(store RuleLookup) *Engine {
	return &Engine{rules: store}
}

// Decide returns the raw decision for query. PTR queries are never answered
// from rules; they are served from registered follow-up answers only.
// A Matched result carries the configured answer value, not yet synthesized.
func (e *Engine) Decide(client, query string, kind Kind) Result {
	if kind == KindPTR {
		return noOpinion()
	}

	rs, ok := e.rules.Lookup(client)
	if !ok {
		return noOpinion()
	}

	r, ok := rs.First(query)
	if !ok {
		return noOpinion()
	}
	if r.Suppresses() {
		return suppress()
	}
	return matched(r.Answer())
}
