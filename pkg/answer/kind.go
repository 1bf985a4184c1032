// Package answer decides, per client, whether a query gets a synthetic
// answer and builds that answer.
package answer

import "github.com/miekg/dns"

// Kind is the record kind a query asks for, reduced to the distinctions
// answer synthesis cares about.
type Kind int

const (
	// KindAddress covers A, AAAA and every type without special handling.
	KindAddress Kind = iota
	KindPTR
	KindMX
	KindCNAME
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindPTR:
		return "PTR"
	case KindMX:
		return "MX"
	case KindCNAME:
		return "CNAME"
	default:
		return "unknown"
	}
}

// KindFromQtype maps a DNS question type to a Kind.
func KindFromQtype(qtype uint16) Kind {
	switch qtype {
	case dns.TypePTR:
		return KindPTR
	case dns.TypeMX:
		return KindMX
	case dns.TypeCNAME:
		return KindCNAME
	default:
		return KindAddress
	}
}

// Outcome is the three-way result of asking a provider about a query.
type Outcome int

const (
	// NoOpinion means the provider has nothing to say; the next provider
	// in the chain is consulted.
	NoOpinion Outcome = iota
	// Suppress means a rule matched and asked for no answer at all.
	Suppress
	// Matched means Result.Value holds the answer.
	Matched
)

func (o Outcome) String() string {
	switch o {
	case NoOpinion:
		return "no_opinion"
	case Suppress:
		return "suppress"
	case Matched:
		return "matched"
	default:
		return "unknown"
	}
}

// Result is a provider's decision for one query.
type Result struct {
	Outcome Outcome
	Value   string
}

// Answer returns the answer value, or false for Suppress and NoOpinion.
func (r Result) Answer() (string, bool) {
	if r.Outcome != Matched {
		return "", false
	}
	return r.Value, true
}

func noOpinion() Result { return Result{Outcome: NoOpinion} }

func suppress() Result { return Result{Outcome: Suppress} }

func matched(v string) Result { return Result{Outcome: Matched, Value: v} }
