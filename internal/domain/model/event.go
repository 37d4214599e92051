package model

import (
	"slices"
	"time"
)

// Action describes what a committed mutation did to its entity.
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionDeleted     Action = "deleted"
	ActionBulkDeleted Action = "bulk_deleted"
	// ActionLinked and ActionUnlinked record membership changes: a candidate
	// applying to or withdrawing from a subject, an expert being assigned to
	// or removed from a board.
	ActionLinked   Action = "linked"
	ActionUnlinked Action = "unlinked"
)

var kindActions = map[EntityKind][]Action{
	KindCandidate: {ActionCreated, ActionUpdated, ActionDeleted, ActionBulkDeleted, ActionLinked, ActionUnlinked},
	KindExpert:    {ActionCreated, ActionUpdated, ActionDeleted, ActionLinked, ActionUnlinked},
	KindSubject:   {ActionCreated, ActionUpdated, ActionDeleted},
}

// Accepts reports whether a mutation of kind k can carry action a.
func (k EntityKind) Accepts(a Action) bool {
	return slices.Contains(kindActions[k], a)
}

// Well-known ChangedFields values.
const (
	FieldSkills            = "skills"
	FieldRecommendedSkills = "recommended_skills"
	FieldSubjects          = "subjects"
)

// MutationEvent describes a committed change that may invalidate scores.
// It is transient and consumed once by the orchestrator.
type MutationEvent struct {
	ID            string     `json:"id"`
	Kind          EntityKind `json:"kind"`
	Action        Action     `json:"action"`
	EntityID      string     `json:"entity_id,omitempty"`
	EntityIDs     []string   `json:"entity_ids,omitempty"` // bulk deletions
	ChangedFields []string   `json:"changed_fields,omitempty"`
	// AffectedSubjectIDs carries subject membership captured at the trigger
	// site: pre-deletion subjects for deletes, the touched subject for
	// link/unlink.
	AffectedSubjectIDs []string  `json:"affected_subject_ids,omitempty"`
	CommittedAt        time.Time `json:"committed_at"`
}

// Changed reports whether field is listed in ChangedFields.
func (e MutationEvent) Changed(field string) bool {
	return slices.Contains(e.ChangedFields, field)
}
