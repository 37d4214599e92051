// Package scope maps a committed mutation to the minimal set of pair scores
// and aggregates that must be recomputed.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/expertrank/internal/domain/model"
)

// Reader is the document source the resolver walks.
type Reader interface {
	FetchCandidate(ctx context.Context, id string) (model.Candidate, error)
	FetchExpert(ctx context.Context, id string) (model.Expert, error)
	FetchSubject(ctx context.Context, id string) (model.Subject, error)
}

// Scope is the work derived from one mutation event.
type Scope struct {
	ExpertPairs         []model.PairKey
	CandidatePairs      []model.PairKey
	ExpertAggregates    []string
	CandidateAggregates []string
	// Purge lists deleted owners whose derived scores must be removed.
	Purge []model.EntityRef
	// PurgeSubjects lists deleted subjects whose pair scores must be removed.
	PurgeSubjects []string
	// Skipped holds non-fatal resolution errors for referenced entities.
	Skipped []error
}

// Pairs returns every pair in the scope, experts first.
func (s Scope) Pairs() []model.PairKey {
	out := make([]model.PairKey, 0, len(s.ExpertPairs)+len(s.CandidatePairs))
	out = append(out, s.ExpertPairs...)
	return append(out, s.CandidatePairs...)
}

// Aggregates returns every owner needing re-aggregation.
func (s Scope) Aggregates() []model.EntityRef {
	out := make([]model.EntityRef, 0, len(s.ExpertAggregates)+len(s.CandidateAggregates))
	for _, id := range s.ExpertAggregates {
		out = append(out, model.EntityRef{Kind: model.KindExpert, ID: id})
	}
	for _, id := range s.CandidateAggregates {
		out = append(out, model.EntityRef{Kind: model.KindCandidate, ID: id})
	}
	return out
}

// Empty reports whether the scope carries no work.
func (s Scope) Empty() bool {
	return len(s.ExpertPairs) == 0 && len(s.CandidatePairs) == 0 &&
		len(s.ExpertAggregates) == 0 && len(s.CandidateAggregates) == 0 &&
		len(s.Purge) == 0 && len(s.PurgeSubjects) == 0
}

// Resolver computes scopes. It never writes.
type Resolver struct {
	reader Reader
}

// NewResolver creates a resolver reading documents from r.
func NewResolver(r Reader) *Resolver {
	return &Resolver{reader: r}
}

// Resolve returns the recompute scope for ev. Errors other than a missing
// document are returned so the caller can retry; missing subjects referenced
// from membership are recorded in Scope.Skipped.
func (r *Resolver) Resolve(ctx context.Context, ev model.MutationEvent) (Scope, error) {
	b := newBuilder()
	var err error
	switch ev.Kind {
	case model.KindCandidate:
		err = r.candidate(ctx, ev, b)
	case model.KindExpert:
		err = r.expert(ctx, ev, b)
	case model.KindSubject:
		err = r.subject(ctx, ev, b)
	default:
		err = fmt.Errorf("%w: kind %q", ErrUnknownEvent, ev.Kind)
	}
	if err != nil {
		return Scope{}, err
	}
	return b.build(), nil
}

func (r *Resolver) candidate(ctx context.Context, ev model.MutationEvent, b *builder) error {
	switch ev.Action {
	case model.ActionUpdated:
		if !ev.Changed(model.FieldSkills) {
			return nil
		}
		fallthrough
	case model.ActionCreated, model.ActionLinked, model.ActionUnlinked:
		c, err := r.reader.FetchCandidate(ctx, ev.EntityID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			// Deleted after commit; the deletion event purges it.
		case err != nil:
			return err
		default:
			b.candidateAggregate(c.ID)
			for _, sid := range c.Subjects {
				b.candidatePair(c.ID, sid)
			}
		}
		// Expert scores depend on the applicant pool, so every subject the
		// candidate is or was in needs its experts rescored.
		return r.expertsOf(ctx, union(c.Subjects, ev.AffectedSubjectIDs), b)

	case model.ActionDeleted:
		b.purge(model.KindCandidate, ev.EntityID)
		return r.expertsOf(ctx, ev.AffectedSubjectIDs, b)

	case model.ActionBulkDeleted:
		for _, id := range ev.EntityIDs {
			b.purge(model.KindCandidate, id)
		}
		if ev.EntityID != "" {
			b.purge(model.KindCandidate, ev.EntityID)
		}
		return r.expertsOf(ctx, union(nil, ev.AffectedSubjectIDs), b)
	}
	return fmt.Errorf("%w: candidate action %q", ErrUnknownEvent, ev.Action)
}

func (r *Resolver) expert(ctx context.Context, ev model.MutationEvent, b *builder) error {
	switch ev.Action {
	case model.ActionUpdated:
		if !ev.Changed(model.FieldSkills) && !ev.Changed(model.FieldSubjects) {
			return nil
		}
		fallthrough
	case model.ActionCreated, model.ActionLinked, model.ActionUnlinked:
		e, err := r.reader.FetchExpert(ctx, ev.EntityID)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// The aggregate is always rewritten so a removed board is pruned.
		b.expertAggregate(e.ID)
		for _, sid := range e.Subjects {
			b.expertPair(e.ID, sid)
		}
		return nil

	case model.ActionDeleted:
		b.purge(model.KindExpert, ev.EntityID)
		return nil
	}
	return fmt.Errorf("%w: expert action %q", ErrUnknownEvent, ev.Action)
}

func (r *Resolver) subject(ctx context.Context, ev model.MutationEvent, b *builder) error {
	switch ev.Action {
	case model.ActionUpdated:
		if !ev.Changed(model.FieldRecommendedSkills) {
			return nil
		}
		fallthrough
	case model.ActionCreated:
		s, err := r.reader.FetchSubject(ctx, ev.EntityID)
		if errors.Is(err, model.ErrNotFound) {
			b.skip(ev.EntityID, err)
			return nil
		}
		if err != nil {
			return err
		}
		for _, cid := range s.Applicants {
			b.candidatePair(cid, s.ID)
		}
		for _, eid := range s.Experts {
			b.expertPair(eid, s.ID)
		}
		return nil

	case model.ActionDeleted:
		b.purgeSubject(ev.EntityID)
		return nil
	}
	return fmt.Errorf("%w: subject action %q", ErrUnknownEvent, ev.Action)
}

// expertsOf adds (e,s) for every expert currently assigned to each subject.
func (r *Resolver) expertsOf(ctx context.Context, subjects []string, b *builder) error {
	for _, sid := range subjects {
		s, err := r.reader.FetchSubject(ctx, sid)
		if errors.Is(err, model.ErrNotFound) {
			b.skip(sid, err)
			continue
		}
		if err != nil {
			return err
		}
		for _, eid := range s.Experts {
			b.expertPair(eid, s.ID)
		}
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

type builder struct {
	pairs   map[model.PairKey]struct{}
	aggs    map[model.EntityRef]struct{}
	purges  map[model.EntityRef]struct{}
	subject map[string]struct{}
	skipped []error
}

func newBuilder() *builder {
	return &builder{
		pairs:   map[model.PairKey]struct{}{},
		aggs:    map[model.EntityRef]struct{}{},
		purges:  map[model.EntityRef]struct{}{},
		subject: map[string]struct{}{},
	}
}

func (b *builder) expertPair(eid, sid string) {
	b.pairs[model.PairKey{Kind: model.PairExpertSubject, OwnerID: eid, SubjectID: sid}] = struct{}{}
	b.expertAggregate(eid)
}

func (b *builder) candidatePair(cid, sid string) {
	b.pairs[model.PairKey{Kind: model.PairCandidateSubject, OwnerID: cid, SubjectID: sid}] = struct{}{}
	b.candidateAggregate(cid)
}

func (b *builder) expertAggregate(id string) {
	b.aggs[model.EntityRef{Kind: model.KindExpert, ID: id}] = struct{}{}
}

func (b *builder) candidateAggregate(id string) {
	b.aggs[model.EntityRef{Kind: model.KindCandidate, ID: id}] = struct{}{}
}

func (b *builder) purge(kind model.EntityKind, id string) {
	if id != "" {
		b.purges[model.EntityRef{Kind: kind, ID: id}] = struct{}{}
	}
}

func (b *builder) purgeSubject(id string) {
	if id != "" {
		b.subject[id] = struct{}{}
	}
}

func (b *builder) skip(id string, err error) {
	b.skipped = append(b.skipped, fmt.Errorf("%w: subject %s: %w", ErrScopeResolution, id, err))
}

// build emits a deterministic scope. Purged owners are dropped from the
// compute and aggregate sets.
func (b *builder) build() Scope {
	var sc Scope
	for pk := range b.pairs {
		if _, gone := b.purges[model.EntityRef{Kind: pk.Kind.OwnerKind(), ID: pk.OwnerID}]; gone {
			continue
		}
		if _, gone := b.subject[pk.SubjectID]; gone {
			continue
		}
		if pk.Kind == model.PairExpertSubject {
			sc.ExpertPairs = append(sc.ExpertPairs, pk)
		} else {
			sc.CandidatePairs = append(sc.CandidatePairs, pk)
		}
	}
	for ref := range b.aggs {
		if _, gone := b.purges[ref]; gone {
			continue
		}
		if ref.Kind == model.KindExpert {
			sc.ExpertAggregates = append(sc.ExpertAggregates, ref.ID)
		} else {
			sc.CandidateAggregates = append(sc.CandidateAggregates, ref.ID)
		}
	}
	for ref := range b.purges {
		sc.Purge = append(sc.Purge, ref)
	}
	for id := range b.subject {
		sc.PurgeSubjects = append(sc.PurgeSubjects, id)
	}
	sc.Skipped = b.skipped

	sortPairs(sc.ExpertPairs)
	sortPairs(sc.CandidatePairs)
	sort.Strings(sc.ExpertAggregates)
	sort.Strings(sc.CandidateAggregates)
	sort.Strings(sc.PurgeSubjects)
	sort.Slice(sc.Purge, func(i, j int) bool { return sc.Purge[i].String() < sc.Purge[j].String() })
	return sc
}

func sortPairs(p []model.PairKey) {
	sort.Slice(p, func(i, j int) bool { return p[i].String() < p[j].String() })
}
