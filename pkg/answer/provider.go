package answer

import (
	"context"
	"errors"

	"blackhole/pkg/logging"
	"blackhole/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Provider answers queries for the client carried in ctx (see WithClientIP).
type Provider interface {
	Name() string
	Answer(ctx context.Context, query string, kind Kind) Result
}

// Chain consults providers in order. The first result that is not
// NoOpinion ends the walk.
type Chain []Provider

// Resolve returns the first opinionated result and the name of the provider
// that gave it. If every provider declines, the result is NoOpinion and the
// name is empty.
func (c Chain) Resolve(ctx context.Context, query string, kind Kind) (Result, string) {
	for _, p := range c {
		if res := p.Answer(ctx, query, kind); res.Outcome != NoOpinion {
			return res, p.Name()
		}
	}
	return noOpinion(), ""
}

// PatternProvider answers from the per-client rule store.
type PatternProvider struct {
	engine  *Engine
	synth   *Synthesizer
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// NewPatternProvider wires the match engine to the synthesizer. registry
// may be nil; logger and metrics may be nil.
func NewPatternProvider(store RuleLookup, registry Registry, logger *logging.Logger, metrics *telemetry.Metrics) *PatternProvider {
	if logger == nil {
		logger = logging.Global()
	}
	return &PatternProvider{
		engine:  NewEngine(store),
		synth:   NewSynthesizer(registry),
		logger:  logger,
		metrics: metrics,
	}
}

// Name implements Provider.
func (p *PatternProvider) Name() string { return "patterns" }

// Answer implements Provider using the client address from ctx. Without a
// client address there is nothing to match on.
func (p *PatternProvider) Answer(ctx context.Context, query string, kind Kind) Result {
	client, ok := ClientIP(ctx)
	if !ok {
		return noOpinion()
	}
	return p.answer(ctx, client, query, kind)
}

// GetAnswer decides and synthesizes the answer for query on behalf of
// client. Registration failures are logged and counted but never change the
// result.
func (p *PatternProvider) GetAnswer(client, query string, kind Kind) Result {
	return p.answer(context.Background(), client, query, kind)
}

func (p *PatternProvider) answer(ctx context.Context, client, query string, kind Kind) Result {
	res := p.engine.Decide(client, query, kind)
	if res.Outcome != Matched {
		return res
	}

	final, err := p.synth.Synthesize(client, query, kind, res.Value)
	if err != nil {
		p.logger.Warn("Follow-up answer not registered",
			"client", client,
			"query", query,
			"kind", kind.String(),
			"error", err,
		)
		if p.metrics != nil && errors.Is(err, ErrRegistration) {
			p.metrics.TempAnswersFailed.Add(ctx, 1,
				metric.WithAttributes(attribute.String("kind", kind.String())))
		}
	}
	return matched(final)
}
