package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"blackhole/pkg/config"
)

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
		Storage: "ok",
	}

	if s.rules != nil {
		snap := s.rules.Snapshot()
		resp.RuleClients = snap.Len()
		if !snap.UpdatedAt.IsZero() {
			resp.RulesUpdated = snap.UpdatedAt.Format(time.RFC3339)
		}
	}
	if s.temp != nil {
		resp.TempAnswers = s.temp.Len()
	}
	if err := s.storage.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Storage = err.Error()
	}

	pm := collectProcessMetrics(ctx)
	resp.CPUPercent = pm.CPUPercent
	resp.MemoryRSS = pm.MemRSS
	resp.MemPercent = pm.MemPercent

	s.writeJSON(w, http.StatusOK, resp)
}

// handleQueries handles GET /api/queries?limit=&offset=&client=
func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var err error
	queries := []QueryResponse{}
	if client := r.URL.Query().Get("client"); client != "" {
		key, cerr := config.CanonicalClient(client)
		if cerr != nil {
			s.writeError(w, http.StatusBadRequest, cerr.Error())
			return
		}
		logs, qerr := s.storage.GetQueriesByClientIP(ctx, key, limit)
		for _, q := range logs {
			queries = append(queries, convertQueryLog(q))
		}
		err = qerr
	} else {
		logs, qerr := s.storage.GetRecentQueries(ctx, limit, offset)
		for _, q := range logs {
			queries = append(queries, convertQueryLog(q))
		}
		err = qerr
	}
	if err != nil {
		s.logger.Error("Failed to get queries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve queries")
		return
	}

	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: queries,
		Total:   len(queries),
		Limit:   limit,
		Offset:  offset,
	})
}
