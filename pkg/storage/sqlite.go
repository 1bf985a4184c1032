// Package storage persists the query log and admin rule overrides. The
// SQLite backend batches query log writes through a buffered channel so the
// DNS path never waits on disk.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"blackhole/pkg/config"
	"blackhole/pkg/rules"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage on SQLite
type SQLiteStorage struct {
	db              *sql.DB
	cfg             *config.StorageConfig
	metrics         MetricsRecorder
	buffer          chan *QueryLog
	stmtInsertQuery *sql.Stmt
	wg              sync.WaitGroup
	mu              sync.RWMutex
	closed          bool
}

// NewSQLiteStorage opens (or creates) the database at cfg.DatabasePath,
// applies migrations and starts the flush worker.
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder) (*SQLiteStorage, error) {
	if cfg == nil || cfg.BufferSize < 1 || cfg.BatchSize < 1 || cfg.FlushInterval <= 0 {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection; this also keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO queries
		(timestamp, client_ip, domain, query_type, outcome, provider, answer, response_code, response_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s := &SQLiteStorage{
		db:              db,
		cfg:             cfg,
		metrics:         metrics,
		buffer:          make(chan *QueryLog, cfg.BufferSize),
		stmtInsertQuery: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogQuery queues a query for the flush worker. It never blocks: when the
// buffer is full the query is dropped and ErrBufferFull returned.
func (s *SQLiteStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if query.Timestamp.IsZero() {
		query.Timestamp = time.Now()
	}

	select {
	case s.buffer <- query:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedQuery(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker drains the buffer, writing a batch when it reaches BatchSize
// or when FlushInterval elapses, and a final batch when the buffer closes.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*QueryLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush query batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case query, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, query)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes queries in one transaction.
func (s *SQLiteStorage) flushBatch(queries []*QueryLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsertQuery)
	for _, q := range queries {
		if _, err := stmt.Exec(
			q.Timestamp.UnixNano(),
			q.ClientIP,
			q.Domain,
			q.QueryType,
			q.Outcome,
			nullString(q.Provider),
			nullString(q.Answer),
			q.ResponseCode,
			q.ResponseTimeMs,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

const selectQueries = `
	SELECT id, timestamp, client_ip, domain, query_type, outcome, provider, answer,
	       response_code, response_time_ms
	FROM queries`

// GetRecentQueries returns the most recent queries with pagination support
func (s *SQLiteStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectQueries+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanQueryLogs(rows)
}

// GetQueriesByClientIP returns the most recent queries from one client
func (s *SQLiteStorage) GetQueriesByClientIP(ctx context.Context, clientIP string, limit int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectQueries+`
		WHERE client_ip = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, clientIP, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanQueryLogs(rows)
}

// SaveRuleOverride stores entries as the override for client, replacing any
// previous one.
func (s *SQLiteStorage) SaveRuleOverride(ctx context.Context, client string, entries []rules.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if entries == nil {
		entries = []rules.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_overrides (client, entries, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(client) DO UPDATE SET
			entries = excluded.entries,
			updated_at = excluded.updated_at
	`, client, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// DeleteRuleOverride removes the override for client. It returns
// ErrNotFound if there was none.
func (s *SQLiteStorage) DeleteRuleOverride(ctx context.Context, client string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM rule_overrides WHERE client = ?`, client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRuleOverrides returns every stored override keyed by client.
func (s *SQLiteStorage) GetRuleOverrides(ctx context.Context) (map[string][]rules.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT client, entries FROM rule_overrides`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]rules.Entry)
	for rows.Next() {
		var client, raw string
		if err := rows.Scan(&client, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		var entries []rules.Entry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("decode override for %s: %w", client, err)
		}
		out[client] = entries
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return out, nil
}

// Cleanup deletes query log rows older than olderThan. Overrides are kept.
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE timestamp < ?`, olderThan.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if rows, _ := result.RowsAffected(); rows > 10000 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			slog.Default().Error("VACUUM operation failed", "error", err, "deleted_rows", rows)
		}
	}
	return nil
}

// Close flushes pending queries and closes the database.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsertQuery != nil {
		_ = s.stmtInsertQuery.Close()
	}
	return s.db.Close()
}

// Ping checks if the storage is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func scanQueryLogs(rows *sql.Rows) ([]*QueryLog, error) {
	queries := []*QueryLog{}

	for rows.Next() {
		var (
			q                QueryLog
			ts               int64
			provider, answer sql.NullString
		)
		if err := rows.Scan(
			&q.ID,
			&ts,
			&q.ClientIP,
			&q.Domain,
			&q.QueryType,
			&q.Outcome,
			&provider,
			&answer,
			&q.ResponseCode,
			&q.ResponseTimeMs,
		); err != nil {
			return nil, err
		}
		q.Timestamp = time.Unix(0, ts).UTC()
		q.Provider = provider.String
		q.Answer = answer.String
		queries = append(queries, &q)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queries, nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
