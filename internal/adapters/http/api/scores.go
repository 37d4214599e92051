package api

import (
	"net/http"
)

func (s *Server) handleExpertScore(w http.ResponseWriter, r *http.Request) {
	card, err := s.deps.ExpertScoreCard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleCandidateScore(w http.ResponseWriter, r *http.Request) {
	card, err := s.deps.CandidateScoreCard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// handleSubjectExperts handles GET /subjects/{id}/experts?limit=N.
func (s *Server) handleSubjectExperts(w http.ResponseWriter, r *http.Request) {
	n, err := s.limit(r)
	if err != nil {
		s.writeLimitError(w, err)
		return
	}
	entries, err := s.deps.SubjectExperts(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
