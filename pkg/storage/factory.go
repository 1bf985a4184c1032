package storage

import (
	"context"
	"time"

	"blackhole/pkg/config"
	"blackhole/pkg/rules"
)

// New returns the SQLite backend, or a no-op backend when storage is
// disabled.
func New(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if !cfg.Enabled {
		return NewNoOpStorage(), nil
	}
	return NewSQLiteStorage(cfg, metrics)
}

// NoOpStorage discards query logs and holds no overrides.
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogQuery does nothing
func (n *NoOpStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	return nil
}

// GetRecentQueries returns an empty slice
func (n *NoOpStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

// GetQueriesByClientIP returns an empty slice
func (n *NoOpStorage) GetQueriesByClientIP(ctx context.Context, clientIP string, limit int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

// SaveRuleOverride does nothing; the override only lives in memory.
func (n *NoOpStorage) SaveRuleOverride(ctx context.Context, client string, entries []rules.Entry) error {
	return nil
}

// DeleteRuleOverride does nothing
func (n *NoOpStorage) DeleteRuleOverride(ctx context.Context, client string) error {
	return nil
}

// GetRuleOverrides returns an empty map
func (n *NoOpStorage) GetRuleOverrides(ctx context.Context) (map[string][]rules.Entry, error) {
	return map[string][]rules.Entry{}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

// Close does nothing
func (n *NoOpStorage) Close() error {
	return nil
}

// Ping does nothing
func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
