package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"blackhole/pkg/config"
	"blackhole/pkg/reload"
	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
)

const maxRulesBody = 1 << 20

// handleListRules handles GET /api/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	snap := s.rules.Snapshot()
	clients := snap.Clients()

	resp := RulesResponse{
		Clients: make([]ClientRulesResponse, 0, len(clients)),
		Total:   len(clients),
	}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = snap.UpdatedAt.Format(time.RFC3339)
	}
	for _, c := range clients {
		rs, _ := snap.Lookup(c)
		resp.Clients = append(resp.Clients, ClientRulesResponse{Client: c, Rules: rs.Entries()})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetRules handles GET /api/rules/{client}
func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	client, err := config.CanonicalClient(r.PathValue("client"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, ok := s.rules.Lookup(client)
	if !ok {
		s.writeError(w, http.StatusNotFound, "No rules for client "+client)
		return
	}
	s.writeJSON(w, http.StatusOK, ClientRulesResponse{Client: client, Rules: rs.Entries()})
}

// handlePutRules handles PUT /api/rules/{client}. The body replaces the
// client's whole rule list.
func (s *Server) handlePutRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRulesBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rs, err := s.reload.Override(r.Context(), r.PathValue("client"), req.Rules)
	if err != nil {
		s.writeReloadError(w, err)
		return
	}

	client, _ := config.CanonicalClient(r.PathValue("client"))
	s.writeJSON(w, http.StatusOK, ClientRulesResponse{Client: client, Rules: rs.Entries()})
}

// handleDeleteRules handles DELETE /api/rules/{client}: the override is
// dropped and the configured rules come back.
func (s *Server) handleDeleteRules(w http.ResponseWriter, r *http.Request) {
	if err := s.reload.Revert(r.Context(), r.PathValue("client")); err != nil {
		s.writeReloadError(w, err)
		return
	}

	client, _ := config.CanonicalClient(r.PathValue("client"))
	entries := []rules.Entry{}
	if rs, ok := s.rules.Lookup(client); ok {
		entries = rs.Entries()
	}
	s.writeJSON(w, http.StatusOK, ClientRulesResponse{Client: client, Rules: entries})
}

// handleReloadRules handles POST /api/rules/reload
func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := s.reload.Reload(r.Context()); err != nil {
		if errors.Is(err, reload.ErrNoSource) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Warn("Rules reload failed", "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, ReloadResponse{
		Status:  "ok",
		Clients: s.rules.Snapshot().Len(),
	})
}

func (s *Server) writeReloadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reload.ErrInvalidClient), errors.Is(err, reload.ErrInvalidRules):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "No override for client")
	default:
		s.logger.Error("Rule update failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to update rules")
	}
}
