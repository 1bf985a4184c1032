package answer

import (
	"errors"
	"fmt"
)

const (
	mailPrefix  = "mail."
	cnamePrefix = "cname."
)

// ErrRegistration wraps a failed write to the Registry. The synthesized
// answer is still valid when it is returned.
var ErrRegistration = errors.New("follow-up answer registration failed")

// Registry stores follow-up answers a client is expected to ask for next.
type Registry interface {
	Add(client, name string, kind Kind, value string) error
}

// Synthesizer turns a matched answer value into the final answer.
type Synthesizer struct {
	registry Registry
}

// NewSynthesizer creates a synthesizer. A nil registry disables follow-up
// registration.
func NewSynthesizer(registry Registry) *Synthesizer {
	return &Synthesizer{registry: registry}
}

// Synthesize returns the answer for query given the matched value.
//
// MX and CNAME answers are fabricated hostnames ("mail."+query,
// "cname."+query) whose address is registered as value. For every other kind
// the value is returned as is and, when it is an address literal, a PTR from
// its reverse name back to query is registered.
//
// The returned error only reports a failed registration; the answer is
// unaffected by it.
func (s *Synthesizer) Synthesize(client, query string, kind Kind, value string) (string, error) {
	switch kind {
	case KindMX:
		host := mailPrefix + query
		return host, s.register(client, host, KindAddress, value)
	case KindCNAME:
		host := cnamePrefix + query
		return host, s.register(client, host, KindAddress, value)
	default:
		reverse, err := ReverseName(value)
		if err != nil {
			// value is not an address literal; nothing to reverse
			return value, nil
		}
		return value, s.register(client, reverse, KindPTR, query)
	}
}

func (s *Synthesizer) register(client, name string, kind Kind, value string) error {
	if s.registry == nil {
		return nil
	}
	if err := s.registry.Add(client, name, kind, value); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRegistration, kind, name, err)
	}
	return nil
}
