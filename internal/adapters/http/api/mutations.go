package api

import (
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/expertrank/internal/domain/model"
)

func validateMutation(ev *model.MutationEvent) error {
	switch {
	case !ev.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrBadRequest, ev.Kind)
	case strings.TrimSpace(string(ev.Action)) == "":
		return fmt.Errorf("%w: missing action", ErrBadRequest)
	case !ev.Kind.Accepts(ev.Action):
		return fmt.Errorf("%w: %s does not support action %q", ErrBadRequest, ev.Kind, ev.Action)
	case ev.EntityID == "" && len(ev.EntityIDs) == 0:
		return fmt.Errorf("%w: missing entity_id", ErrBadRequest)
	}
	return nil
}

// handlePostMutation handles POST /mutations from an external CRUD layer
// that has already committed the change.
func (s *Server) handlePostMutation(w http.ResponseWriter, r *http.Request) {
	var ev model.MutationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := validateMutation(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if !s.deps.Submit(r.Context(), ev) {
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: ev.ID})
}
