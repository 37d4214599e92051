// Package model contains domain models passed between layers.
package model

// EntityKind names the three document kinds the engine reads.
type EntityKind string

const (
	KindCandidate EntityKind = "candidate"
	KindExpert    EntityKind = "expert"
	KindSubject   EntityKind = "subject"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindCandidate, KindExpert, KindSubject:
		return true
	}
	return false
}

// SubjectStatus mirrors the board lifecycle of a Subject.
type SubjectStatus string

const (
	SubjectOpen   SubjectStatus = "open"
	SubjectClosed SubjectStatus = "closed"
)

// Candidate is an applicant to one or more interview boards.
type Candidate struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Skills   []string `json:"skills" yaml:"skills"`
	Subjects []string `json:"subjects" yaml:"subjects"` // subjects applied to
}

// Expert is a board member. Its average relevancy is derived and lives in
// the score store, never on the document.
type Expert struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Skills   []string `json:"skills" yaml:"skills"`
	Subjects []string `json:"subjects" yaml:"subjects"` // assigned boards
}

// Subject is an interview board.
type Subject struct {
	ID                string        `json:"id" yaml:"id"`
	Title             string        `json:"title" yaml:"title"`
	Status            SubjectStatus `json:"status" yaml:"status"`
	RecommendedSkills []string      `json:"recommended_skills" yaml:"recommended_skills"`
	Applicants        []string      `json:"applicants" yaml:"-"`
	Experts           []string      `json:"experts" yaml:"-"`
}

// Owners returns the owner IDs of pair kind k on this subject.
func (s Subject) Owners(k PairKind) []string {
	if k == PairExpertSubject {
		return s.Experts
	}
	return s.Applicants
}
