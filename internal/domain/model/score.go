package model

import "time"

// PairKind identifies which side of a pair score the owner is on.
type PairKind string

const (
	PairExpertSubject    PairKind = "expert"
	PairCandidateSubject PairKind = "candidate"
)

// OwnerKind returns the entity kind owning pairs of this kind.
func (k PairKind) OwnerKind() EntityKind {
	if k == PairExpertSubject {
		return KindExpert
	}
	return KindCandidate
}

// PairKindFor returns the pair kind owned by an entity kind.
func PairKindFor(k EntityKind) (PairKind, bool) {
	switch k {
	case KindExpert:
		return PairExpertSubject, true
	case KindCandidate:
		return PairCandidateSubject, true
	}
	return "", false
}

// PairKey addresses one derived score between an owner and a subject.
type PairKey struct {
	Kind      PairKind
	OwnerID   string
	SubjectID string
}

// String renders the key for logs and claim maps.
func (k PairKey) String() string {
	return "pair/" + string(k.Kind) + "/" + k.OwnerID + "/" + k.SubjectID
}

// PairScore is a derived relevancy value between an owner and a subject.
type PairScore struct {
	PairKey
	Value      float64
	ComputedAt time.Time
}

// EntityRef addresses one entity.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// String renders the reference for logs and claim maps.
func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Aggregate is the average relevancy of an expert or candidate.
type Aggregate struct {
	EntityRef
	Value      float64
	ComputedAt time.Time
}
