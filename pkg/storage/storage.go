package storage

import (
	"context"
	"time"

	"blackhole/pkg/rules"
)

// Storage defines the interface for all storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Query logging
	LogQuery(ctx context.Context, query *QueryLog) error
	GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)
	GetQueriesByClientIP(ctx context.Context, clientIP string, limit int) ([]*QueryLog, error)

	// Per-client rule overrides set through the admin API
	SaveRuleOverride(ctx context.Context, client string, entries []rules.Entry) error
	DeleteRuleOverride(ctx context.Context, client string) error
	GetRuleOverrides(ctx context.Context) (map[string][]rules.Entry, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// MetricsRecorder is the slice of telemetry storage needs; it keeps this
// package free of a telemetry import.
type MetricsRecorder interface {
	AddDroppedQuery(ctx context.Context, count int64)
}

// QueryLog represents a single answered DNS query
type QueryLog struct {
	Timestamp      time.Time `json:"timestamp"`
	ClientIP       string    `json:"client_ip"`
	Domain         string    `json:"domain"`
	QueryType      string    `json:"query_type"`
	Outcome        string    `json:"outcome"`
	Provider       string    `json:"provider,omitempty"`
	Answer         string    `json:"answer,omitempty"`
	ID             int64     `json:"id"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}
