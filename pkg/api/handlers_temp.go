package api

import (
	"net/http"

	"blackhole/pkg/tempanswer"
)

// handleListTempAnswers handles GET /api/temp-answers
func (s *Server) handleListTempAnswers(w http.ResponseWriter, r *http.Request) {
	entries := []tempanswer.Entry{}
	if s.temp != nil {
		entries = s.temp.Entries()
	}
	s.writeJSON(w, http.StatusOK, TempAnswersResponse{Entries: entries, Total: len(entries)})
}

// handlePurgeTempAnswers handles DELETE /api/temp-answers
func (s *Server) handlePurgeTempAnswers(w http.ResponseWriter, r *http.Request) {
	removed := 0
	if s.temp != nil {
		removed = s.temp.Len()
		s.temp.Purge()
		s.logger.Info("Temporary answers purged", "removed", removed)
	}
	s.writeJSON(w, http.StatusOK, PurgeResponse{Status: "ok", Removed: removed})
}
