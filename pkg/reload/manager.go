// Package reload keeps the live rule store in step with the configuration
// file and the per-client overrides persisted by the admin API.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"blackhole/pkg/config"
	"blackhole/pkg/logging"
	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
	"blackhole/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrInvalidClient is returned for a client key that is not an address.
	ErrInvalidClient = errors.New("invalid client")
	// ErrInvalidRules is returned when override entries do not compile.
	ErrInvalidRules = errors.New("invalid rules")
	// ErrNoSource is returned by Reload when no config source is set.
	ErrNoSource = errors.New("no config source")
)

// Manager builds rule store contents. Config rules form the baseline; an
// override for a client replaces that client's baseline RuleSet.
type Manager struct {
	store   *rules.Store
	storage storage.Storage
	logger  *logging.Logger
	metrics *telemetry.Metrics
	source  func() (*config.Config, error)

	// serialises Apply, Override and Revert so baseline and store agree
	mu          sync.Mutex
	baseline    map[string]*rules.RuleSet
	lastClients int
}

// New creates a manager writing to store. st may be a NoOpStorage; metrics
// may be nil.
func New(store *rules.Store, st storage.Storage, logger *logging.Logger, metrics *telemetry.Metrics) *Manager {
	if logger == nil {
		logger = logging.Global()
	}
	return &Manager{
		store:    store,
		storage:  st,
		logger:   logger,
		metrics:  metrics,
		baseline: map[string]*rules.RuleSet{},
	}
}

// SetSource sets where Reload reads configuration from.
func (m *Manager) SetSource(fn func() (*config.Config, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = fn
}

// Apply compiles cfg's rules, overlays persisted overrides and installs the
// result in one swap. If cfg's rules do not compile the store is left as
// it was.
func (m *Manager) Apply(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, err := cfg.RuleSets()
	if err != nil {
		m.recordReload(ctx, "error")
		return fmt.Errorf("compile config rules: %w", err)
	}

	merged := make(map[string]*rules.RuleSet, len(base))
	for client, rs := range base {
		merged[client] = rs
	}

	overrides, err := m.storage.GetRuleOverrides(ctx)
	if err != nil {
		m.logger.Warn("Rule overrides unavailable, using config rules only", "error", err)
		overrides = nil
	}
	for client, entries := range overrides {
		rs, err := rules.Compile(entries)
		if err != nil {
			m.logger.Warn("Skipping stored override that no longer compiles", "client", client, "error", err)
			continue
		}
		merged[client] = rs
	}

	m.store.ReplaceAll(merged)
	m.baseline = base

	if m.metrics != nil {
		m.metrics.RuleClients.Add(ctx, int64(len(merged)-m.lastClients))
	}
	m.lastClients = len(merged)
	m.recordReload(ctx, "success")

	m.logger.Info("Rules applied",
		"clients", len(merged),
		"config_clients", len(base),
		"overrides", len(overrides),
	)
	return nil
}

// Reload reads configuration from the source and applies it.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	source := m.source
	m.mu.Unlock()

	if source == nil {
		return ErrNoSource
	}
	cfg, err := source()
	if err != nil {
		m.recordReload(ctx, "error")
		return fmt.Errorf("load config: %w", err)
	}
	return m.Apply(ctx, cfg)
}

// Override persists entries as client's rules and publishes them. Other
// clients' RuleSets are untouched.
func (m *Manager) Override(ctx context.Context, client string, entries []rules.Entry) (*rules.RuleSet, error) {
	key, err := config.CanonicalClient(client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	rs, err := rules.Compile(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.SaveRuleOverride(ctx, key, rs.Entries()); err != nil {
		return nil, fmt.Errorf("persist override: %w", err)
	}
	m.publish(ctx, key, rs)

	m.logger.Info("Rule override set", "client", key, "rules", rs.Len())
	return rs, nil
}

// Revert drops client's override and restores its config rules (an empty
// RuleSet if the config has none for it).
func (m *Manager) Revert(ctx context.Context, client string) error {
	key, err := config.CanonicalClient(client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.DeleteRuleOverride(ctx, key); err != nil {
		return err
	}

	rs, ok := m.baseline[key]
	if !ok {
		rs = rules.NewRuleSet()
	}
	m.publish(ctx, key, rs)

	m.logger.Info("Rule override removed", "client", key, "rules", rs.Len())
	return nil
}

// Baseline returns the config RuleSet for client.
func (m *Manager) Baseline(client string) (*rules.RuleSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.baseline[client]
	return rs, ok
}

func (m *Manager) publish(ctx context.Context, client string, rs *rules.RuleSet) {
	_, existed := m.store.Lookup(client)
	m.store.ReplaceFor(client, rs)
	if !existed {
		m.lastClients++
		if m.metrics != nil {
			m.metrics.RuleClients.Add(ctx, 1)
		}
	}
}

func (m *Manager) recordReload(ctx context.Context, result string) {
	if m.metrics != nil {
		m.metrics.RuleReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
