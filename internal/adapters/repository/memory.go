package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/okian/expertrank/internal/domain/model"
)

type owner struct {
	name   string
	skills []string
}

type relation map[string]map[string]struct{}

func (r relation) add(a, b string) {
	if r[a] == nil {
		r[a] = map[string]struct{}{}
	}
	r[a][b] = struct{}{}
}

func (r relation) remove(a, b string) bool {
	if _, ok := r[a][b]; !ok {
		return false
	}
	delete(r[a], b)
	if len(r[a]) == 0 {
		delete(r, a)
	}
	return true
}

func (r relation) keys(a string) []string {
	out := make([]string, 0, len(r[a]))
	for k := range r[a] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// link keeps both directions of one relation table so either foreign key
// can be looked up directly.
type link struct {
	byOwner   relation
	bySubject relation
}

func newLink() link { return link{byOwner: relation{}, bySubject: relation{}} }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	candidates  map[string]owner
	experts     map[string]owner
	subjects    map[string]model.Subject
	application link
	assignment  link
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candidates:  map[string]owner{},
		experts:     map[string]owner{},
		subjects:    map[string]model.Subject{},
		application: newLink(),
		assignment:  newLink(),
	}
}

func (m *MemoryStore) owners(kind model.EntityKind) (map[string]owner, *link, error) {
	switch kind {
	case model.KindCandidate:
		return m.candidates, &m.application, nil
	case model.KindExpert:
		return m.experts, &m.assignment, nil
	}
	return nil, nil, fmt.Errorf("%w: kind %q has no relations", ErrInvalidID, kind)
}

func (m *MemoryStore) FetchCandidate(_ context.Context, id string) (model.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.candidates[id]
	if !ok {
		return model.Candidate{}, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	return model.Candidate{ID: id, Name: o.name, Skills: slices.Clone(o.skills), Subjects: m.application.byOwner.keys(id)}, nil
}

func (m *MemoryStore) FetchExpert(_ context.Context, id string) (model.Expert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.experts[id]
	if !ok {
		return model.Expert{}, fmt.Errorf("expert %s: %w", id, ErrNotFound)
	}
	return model.Expert{ID: id, Name: o.name, Skills: slices.Clone(o.skills), Subjects: m.assignment.byOwner.keys(id)}, nil
}

func (m *MemoryStore) FetchSubject(_ context.Context, id string) (model.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return model.Subject{}, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	s.RecommendedSkills = slices.Clone(s.RecommendedSkills)
	s.Applicants = m.application.bySubject.keys(id)
	s.Experts = m.assignment.bySubject.keys(id)
	return s, nil
}

func (m *MemoryStore) ListApplicants(ctx context.Context, subjectID string) ([]model.Candidate, error) {
	m.mu.RLock()
	if _, ok := m.subjects[subjectID]; !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	ids := m.application.bySubject.keys(subjectID)
	m.mu.RUnlock()

	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		c, err := m.FetchCandidate(ctx, id)
		if err != nil {
			continue // deleted between reads
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) ListExperts(ctx context.Context, subjectID string) ([]model.Expert, error) {
	m.mu.RLock()
	if _, ok := m.subjects[subjectID]; !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	ids := m.assignment.bySubject.keys(subjectID)
	m.mu.RUnlock()

	out := make([]model.Expert, 0, len(ids))
	for _, id := range ids {
		e, err := m.FetchExpert(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) ListIDs(_ context.Context, kind model.EntityKind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	switch kind {
	case model.KindCandidate:
		for id := range m.candidates {
			out = append(out, id)
		}
	case model.KindExpert:
		for id := range m.experts {
			out = append(out, id)
		}
	case model.KindSubject:
		for id := range m.subjects {
			out = append(out, id)
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidID, kind)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context, kind model.EntityKind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch kind {
	case model.KindCandidate:
		return len(m.candidates), nil
	case model.KindExpert:
		return len(m.experts), nil
	case model.KindSubject:
		return len(m.subjects), nil
	}
	return 0, fmt.Errorf("%w: kind %q", ErrInvalidID, kind)
}

func (m *MemoryStore) PutCandidate(_ context.Context, c model.Candidate) error {
	if c.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.ID] = owner{name: c.Name, skills: slices.Clone(c.Skills)}
	return nil
}

func (m *MemoryStore) PutExpert(_ context.Context, e model.Expert) error {
	if e.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experts[e.ID] = owner{name: e.Name, skills: slices.Clone(e.Skills)}
	return nil
}

func (m *MemoryStore) PutSubject(_ context.Context, s model.Subject) error {
	if s.ID == "" {
		return ErrInvalidID
	}
	if s.Status == "" {
		s.Status = model.SubjectOpen
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = model.Subject{
		ID:                s.ID,
		Title:             s.Title,
		Status:            s.Status,
		RecommendedSkills: slices.Clone(s.RecommendedSkills),
	}
	return nil
}

func (m *MemoryStore) Link(_ context.Context, ref model.EntityRef, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, l, err := m.owners(ref.Kind)
	if err != nil {
		return err
	}
	if _, ok := docs[ref.ID]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if _, ok := m.subjects[subjectID]; !ok {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	l.byOwner.add(ref.ID, subjectID)
	l.bySubject.add(subjectID, ref.ID)
	return nil
}

func (m *MemoryStore) Unlink(_ context.Context, ref model.EntityRef, subjectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, l, err := m.owners(ref.Kind)
	if err != nil {
		return false, err
	}
	removed := l.byOwner.remove(ref.ID, subjectID)
	l.bySubject.remove(subjectID, ref.ID)
	return removed, nil
}

func (m *MemoryStore) Delete(_ context.Context, kind model.EntityKind, ids ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, l, err := m.owners(kind)
	if err != nil {
		return nil, err
	}
	affected := map[string]struct{}{}
	for _, id := range ids {
		for _, sid := range l.byOwner.keys(id) {
			affected[sid] = struct{}{}
			l.bySubject.remove(sid, id)
		}
		delete(l.byOwner, id)
		delete(docs, id)
	}
	out := make([]string, 0, len(affected))
	for sid := range affected {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) DeleteSubject(_ context.Context, id string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[id]; !ok {
		return nil, nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	applicants := m.application.bySubject.keys(id)
	experts := m.assignment.bySubject.keys(id)
	for _, cid := range applicants {
		m.application.byOwner.remove(cid, id)
	}
	for _, eid := range experts {
		m.assignment.byOwner.remove(eid, id)
	}
	delete(m.application.bySubject, id)
	delete(m.assignment.bySubject, id)
	delete(m.subjects, id)
	return applicants, experts, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
