package service

import (
	"context"
	"slices"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/pkg/logger"
)

// notify fires the recompute trigger after a commit, retrying briefly on
// backpressure. A trigger still rejected is counted as dropped: the commit
// stands and the next repair pass reconciles the scores.
func (s *Service) notify(ctx context.Context, ev model.MutationEvent) { //nolint:gocritic // hugeParam: events travel by value
	orch, _, err := s.running()
	if err != nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.StorageRetryInitial()
	b.MaxInterval = s.cfg.StorageRetryMax()
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if orch.OnMutation(ctx, ev) {
			return struct{}{}, nil
		}
		return struct{}{}, errTriggerRejected
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.StorageRetryAttempts)))
	if err == nil {
		return
	}

	s.dropped.Add(1)
	s.logger.Warn(ctx, "recompute trigger dropped; scheduled for repair",
		logger.String("event_id", ev.ID),
		logger.String("kind", string(ev.Kind)),
		logger.String("action", string(ev.Action)),
		logger.String("entity_id", ev.EntityID),
		logger.Error(err),
	)
}

func event(kind model.EntityKind, action model.Action, id string, subjects ...string) model.MutationEvent {
	return model.MutationEvent{Kind: kind, Action: action, EntityID: id, AffectedSubjectIDs: subjects}
}

func sameSkills(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// link relates every listed subject to ref, stopping at the first failure.
func (s *Service) link(ctx context.Context, ref model.EntityRef, subjects []string) ([]string, error) {
	_, repo, err := s.running()
	if err != nil {
		return nil, err
	}
	linked := make([]string, 0, len(subjects))
	for _, sid := range subjects {
		if err := repo.Link(ctx, ref, sid); err != nil {
			return linked, err
		}
		linked = append(linked, sid)
	}
	return linked, nil
}

// RegisterCandidate stores a new candidate and applies it to c.Subjects.
// An empty ID is replaced by a generated one, which is returned.
func (s *Service) RegisterCandidate(ctx context.Context, c model.Candidate) (string, error) {
	_, repo, err := s.running()
	if err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := repo.PutCandidate(ctx, c); err != nil {
		return "", err
	}
	linked, err := s.link(ctx, model.EntityRef{Kind: model.KindCandidate, ID: c.ID}, c.Subjects)
	s.notify(ctx, event(model.KindCandidate, model.ActionCreated, c.ID, linked...))
	return c.ID, err
}

// UpdateCandidate replaces a candidate's profile. Scores are recomputed only
// when its skills changed.
func (s *Service) UpdateCandidate(ctx context.Context, c model.Candidate) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	old, err := repo.FetchCandidate(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := repo.PutCandidate(ctx, c); err != nil {
		return err
	}
	ev := event(model.KindCandidate, model.ActionUpdated, c.ID)
	if old.Name != c.Name {
		ev.ChangedFields = append(ev.ChangedFields, "name")
	}
	if !sameSkills(old.Skills, c.Skills) {
		ev.ChangedFields = append(ev.ChangedFields, model.FieldSkills)
	}
	s.notify(ctx, ev)
	return nil
}

// DeleteCandidate removes a candidate with its applications.
func (s *Service) DeleteCandidate(ctx context.Context, id string) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	if _, err := repo.FetchCandidate(ctx, id); err != nil {
		return err
	}
	affected, err := repo.Delete(ctx, model.KindCandidate, id)
	if err != nil {
		return err
	}
	s.notify(ctx, event(model.KindCandidate, model.ActionDeleted, id, affected...))
	return nil
}

// BulkDeleteCandidates removes many candidates at once. Unknown IDs are
// ignored.
func (s *Service) BulkDeleteCandidates(ctx context.Context, ids []string) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	affected, err := repo.Delete(ctx, model.KindCandidate, ids...)
	if err != nil {
		return err
	}
	ev := event(model.KindCandidate, model.ActionBulkDeleted, "", affected...)
	ev.EntityIDs = slices.Clone(ids)
	s.notify(ctx, ev)
	return nil
}

// Apply enrolls a candidate on a subject.
func (s *Service) Apply(ctx context.Context, candidateID, subjectID string) error {
	if _, err := s.link(ctx, model.EntityRef{Kind: model.KindCandidate, ID: candidateID}, []string{subjectID}); err != nil {
		return err
	}
	s.notify(ctx, event(model.KindCandidate, model.ActionLinked, candidateID, subjectID))
	return nil
}

// Withdraw removes a candidate from a subject.
func (s *Service) Withdraw(ctx context.Context, candidateID, subjectID string) error {
	return s.unlink(ctx, model.EntityRef{Kind: model.KindCandidate, ID: candidateID}, subjectID)
}

func (s *Service) unlink(ctx context.Context, ref model.EntityRef, subjectID string) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	removed, err := repo.Unlink(ctx, ref, subjectID)
	if err != nil {
		return err
	}
	if removed {
		s.notify(ctx, event(ref.Kind, model.ActionUnlinked, ref.ID, subjectID))
	}
	return nil
}

// CreateExpert stores a new expert and assigns it to e.Subjects.
func (s *Service) CreateExpert(ctx context.Context, e model.Expert) (string, error) {
	_, repo, err := s.running()
	if err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := repo.PutExpert(ctx, e); err != nil {
		return "", err
	}
	linked, err := s.link(ctx, model.EntityRef{Kind: model.KindExpert, ID: e.ID}, e.Subjects)
	s.notify(ctx, event(model.KindExpert, model.ActionCreated, e.ID, linked...))
	return e.ID, err
}

// UpdateExpert replaces an expert's profile.
func (s *Service) UpdateExpert(ctx context.Context, e model.Expert) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	old, err := repo.FetchExpert(ctx, e.ID)
	if err != nil {
		return err
	}
	if err := repo.PutExpert(ctx, e); err != nil {
		return err
	}
	ev := event(model.KindExpert, model.ActionUpdated, e.ID)
	if old.Name != e.Name {
		ev.ChangedFields = append(ev.ChangedFields, "name")
	}
	if !sameSkills(old.Skills, e.Skills) {
		ev.ChangedFields = append(ev.ChangedFields, model.FieldSkills)
	}
	s.notify(ctx, ev)
	return nil
}

// DeleteExpert removes an expert with its assignments.
func (s *Service) DeleteExpert(ctx context.Context, id string) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	if _, err := repo.FetchExpert(ctx, id); err != nil {
		return err
	}
	affected, err := repo.Delete(ctx, model.KindExpert, id)
	if err != nil {
		return err
	}
	s.notify(ctx, event(model.KindExpert, model.ActionDeleted, id, affected...))
	return nil
}

// Assign puts an expert on a subject's board.
func (s *Service) Assign(ctx context.Context, expertID, subjectID string) error {
	if _, err := s.link(ctx, model.EntityRef{Kind: model.KindExpert, ID: expertID}, []string{subjectID}); err != nil {
		return err
	}
	s.notify(ctx, event(model.KindExpert, model.ActionLinked, expertID, subjectID))
	return nil
}

// Unassign removes an expert from a subject's board.
func (s *Service) Unassign(ctx context.Context, expertID, subjectID string) error {
	return s.unlink(ctx, model.EntityRef{Kind: model.KindExpert, ID: expertID}, subjectID)
}

// CreateSubject stores a new subject. Applicants and experts join it later
// through Apply and Assign.
func (s *Service) CreateSubject(ctx context.Context, sub model.Subject) (string, error) {
	_, repo, err := s.running()
	if err != nil {
		return "", err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = model.SubjectOpen
	}
	if err := repo.PutSubject(ctx, sub); err != nil {
		return "", err
	}
	s.notify(ctx, event(model.KindSubject, model.ActionCreated, sub.ID))
	return sub.ID, nil
}

// UpdateSubject replaces a subject's attributes.
func (s *Service) UpdateSubject(ctx context.Context, sub model.Subject) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	old, err := repo.FetchSubject(ctx, sub.ID)
	if err != nil {
		return err
	}
	if sub.Status == "" {
		sub.Status = old.Status
	}
	if err := repo.PutSubject(ctx, sub); err != nil {
		return err
	}
	ev := event(model.KindSubject, model.ActionUpdated, sub.ID)
	if old.Title != sub.Title {
		ev.ChangedFields = append(ev.ChangedFields, "title")
	}
	if old.Status != sub.Status {
		ev.ChangedFields = append(ev.ChangedFields, "status")
	}
	if !sameSkills(old.RecommendedSkills, sub.RecommendedSkills) {
		ev.ChangedFields = append(ev.ChangedFields, model.FieldRecommendedSkills)
	}
	s.notify(ctx, ev)
	return nil
}

// DeleteSubject removes a subject with every application and assignment to it.
func (s *Service) DeleteSubject(ctx context.Context, id string) error {
	_, repo, err := s.running()
	if err != nil {
		return err
	}
	if _, _, err := repo.DeleteSubject(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, event(model.KindSubject, model.ActionDeleted, id))
	return nil
}
