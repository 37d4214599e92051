package api

import (
	"fmt"
	"net/http"

	"github.com/okian/expertrank/internal/domain/model"
)

var leaderboards = map[string]model.EntityKind{
	"experts":    model.KindExpert,
	"candidates": model.KindCandidate,
}

// handleLeaderboard handles GET /leaderboard/{experts|candidates}?limit=N.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	kind, ok := leaderboards[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("no leaderboard %q", r.PathValue("kind")))
		return
	}
	n, err := s.limit(r)
	if err != nil {
		s.writeLimitError(w, err)
		return
	}
	entries, err := s.deps.Leaderboard(r.Context(), kind, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
