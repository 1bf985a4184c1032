// Package tempanswer keeps short-lived, per-client answers registered while
// synthesizing another answer, such as the address behind a fabricated MX
// host or the PTR for a synthetic address.
package tempanswer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"blackhole/pkg/answer"
	"blackhole/pkg/config"
	"blackhole/pkg/telemetry"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrInvalidEntry is returned by Add when client, name or value is empty.
var ErrInvalidEntry = errors.New("temp answer requires client, name and value")

// Entry is one registered answer.
type Entry struct {
	Client    string    `json:"client"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Registry is a TTL-bounded LRU of temp answers keyed by client, kind and
// name. It is safe for concurrent use.
type Registry struct {
	lru     *lru.Cache[string, Entry]
	ttl     time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New creates a registry sized and timed from cfg. metrics may be nil.
func New(cfg *config.TempAnswersConfig, metrics *telemetry.Metrics) (*Registry, error) {
	cache, err := lru.New[string, Entry](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &Registry{
		lru:     cache,
		ttl:     cfg.TTL,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Canonical lower-cases name and strips the trailing root dot, so that
// "4.3.2.1.in-addr.arpa." and a wire query for it share one key.
func Canonical(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func key(client string, kind answer.Kind, name string) string {
	return client + "|" + kind.String() + "|" + Canonical(name)
}

// Add registers value as the answer to (client, name, kind), replacing any
// earlier registration.
func (r *Registry) Add(client, name string, kind answer.Kind, value string) error {
	if client == "" || name == "" || value == "" {
		return ErrInvalidEntry
	}

	r.lru.Add(key(client, kind, name), Entry{
		Client:    client,
		Name:      Canonical(name),
		Kind:      kind.String(),
		Value:     value,
		ExpiresAt: r.now().Add(r.ttl),
	})

	if r.metrics != nil {
		r.metrics.TempAnswersRegistered.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind.String())))
	}
	return nil
}

// Lookup returns the live answer for (client, name, kind). An expired entry
// is removed and reported as absent.
func (r *Registry) Lookup(client, name string, kind answer.Kind) (string, bool) {
	k := key(client, kind, name)
	e, ok := r.lru.Get(k)
	if !ok {
		return "", false
	}
	if e.expired(r.now()) {
		r.lru.Remove(k)
		return "", false
	}
	return e.Value, true
}

// Name implements answer.Provider.
func (r *Registry) Name() string { return "temp_answers" }

// Answer implements answer.Provider for the client carried in ctx.
func (r *Registry) Answer(ctx context.Context, query string, kind answer.Kind) answer.Result {
	client, ok := answer.ClientIP(ctx)
	if !ok {
		return answer.Result{Outcome: answer.NoOpinion}
	}
	if v, ok := r.Lookup(client, query, kind); ok {
		return answer.Result{Outcome: answer.Matched, Value: v}
	}
	return answer.Result{Outcome: answer.NoOpinion}
}

// Entries returns the live entries, sorted by client then name. Reading
// does not refresh recency.
func (r *Registry) Entries() []Entry {
	now := r.now()
	out := make([]Entry, 0, r.lru.Len())
	for _, k := range r.lru.Keys() {
		if e, ok := r.lru.Peek(k); ok && !e.expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Client != out[j].Client {
			return out[i].Client < out[j].Client
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Len returns the number of stored entries, expired ones included until
// they are read or evicted.
func (r *Registry) Len() int { return r.lru.Len() }

// Purge drops every entry.
func (r *Registry) Purge() { r.lru.Purge() }

var (
	_ answer.Registry = (*Registry)(nil)
	_ answer.Provider = (*Registry)(nil)
)
