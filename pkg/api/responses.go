package api

import (
	"time"

	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
	"blackhole/pkg/tempanswer"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string  `json:"status"`
	Uptime       string  `json:"uptime"`
	Version      string  `json:"version"`
	RuleClients  int     `json:"rule_clients"`
	TempAnswers  int     `json:"temp_answers"`
	Storage      string  `json:"storage"` // "ok" or the ping error
	CPUPercent   float64 `json:"cpu_percent"`
	MemoryRSS    uint64  `json:"memory_rss_bytes"`
	MemPercent   float64 `json:"memory_percent"`
	RulesUpdated string  `json:"rules_updated,omitempty"`
}

// ClientRulesResponse is one client's ordered rules
type ClientRulesResponse struct {
	Client string        `json:"client"`
	Rules  []rules.Entry `json:"rules"`
}

// RulesResponse lists every client with rules
type RulesResponse struct {
	Clients   []ClientRulesResponse `json:"clients"`
	Total     int                   `json:"total"`
	UpdatedAt string                `json:"updated_at"`
}

// RulesRequest is the PUT /api/rules/{client} body
type RulesRequest struct {
	Rules []rules.Entry `json:"rules"`
}

// ReloadResponse represents a rules reload result
type ReloadResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// TempAnswersResponse lists registered follow-up answers
type TempAnswersResponse struct {
	Entries []tempanswer.Entry `json:"entries"`
	Total   int                `json:"total"`
}

// PurgeResponse reports how many entries were dropped
type PurgeResponse struct {
	Status  string `json:"status"`
	Removed int    `json:"removed"`
}

// QueryResponse represents a single DNS query log entry
type QueryResponse struct {
	ID             int64   `json:"id"`
	Timestamp      string  `json:"timestamp"` // RFC 3339
	ClientIP       string  `json:"client_ip"`
	Domain         string  `json:"domain"`
	QueryType      string  `json:"query_type"`
	Outcome        string  `json:"outcome"`
	Provider       string  `json:"provider,omitempty"`
	Answer         string  `json:"answer,omitempty"`
	ResponseCode   int     `json:"response_code"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// QueriesResponse represents paginated query results
type QueriesResponse struct {
	Queries []QueryResponse `json:"queries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func convertQueryLog(q *storage.QueryLog) QueryResponse {
	return QueryResponse{
		ID:             q.ID,
		Timestamp:      q.Timestamp.Format(time.RFC3339),
		ClientIP:       q.ClientIP,
		Domain:         q.Domain,
		QueryType:      q.QueryType,
		Outcome:        q.Outcome,
		Provider:       q.Provider,
		Answer:         q.Answer,
		ResponseCode:   q.ResponseCode,
		ResponseTimeMs: q.ResponseTimeMs,
	}
}
