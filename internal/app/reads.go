package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/types"
)

// ExpertScoreCard returns the stored relevancy view of an expert.
func (s *Service) ExpertScoreCard(ctx context.Context, id string) (types.ScoreCard, error) {
	return s.scoreCard(ctx, model.EntityRef{Kind: model.KindExpert, ID: id})
}

// CandidateScoreCard returns the stored relevancy view of a candidate.
func (s *Service) CandidateScoreCard(ctx context.Context, id string) (types.ScoreCard, error) {
	return s.scoreCard(ctx, model.EntityRef{Kind: model.KindCandidate, ID: id})
}

func (s *Service) scoreCard(ctx context.Context, ref model.EntityRef) (types.ScoreCard, error) {
	_, repo, err := s.running()
	if err != nil {
		return types.ScoreCard{}, err
	}
	switch ref.Kind {
	case model.KindExpert:
		_, err = repo.FetchExpert(ctx, ref.ID)
	case model.KindCandidate:
		_, err = repo.FetchCandidate(ctx, ref.ID)
	}
	if err != nil {
		return types.ScoreCard{}, err
	}

	card := types.ScoreCard{Kind: string(ref.Kind), ID: ref.ID, Subjects: []types.SubjectScore{}}
	agg, err := s.scores.ReadAggregate(ctx, ref)
	switch {
	case err == nil:
		card.AverageRelevancy = agg.Value
		card.Computed = true
	case !errors.Is(err, scorestore.ErrNotFound):
		return types.ScoreCard{}, err
	}

	kind, _ := model.PairKindFor(ref.Kind)
	pairs, err := s.scores.ListPairScores(ctx, kind, ref.ID)
	if err != nil {
		return types.ScoreCard{}, err
	}
	for _, ps := range pairs {
		card.Subjects = append(card.Subjects, types.SubjectScore{SubjectID: ps.SubjectID, Score: ps.Value, ComputedAt: ps.ComputedAt})
	}
	sort.Slice(card.Subjects, func(i, j int) bool { return card.Subjects[i].SubjectID < card.Subjects[j].SubjectID })
	return card, nil
}

// SubjectExperts ranks the experts of a subject by their pair score, best
// first. Ties share a rank.
func (s *Service) SubjectExperts(ctx context.Context, subjectID string, limit int) ([]types.Entry, error) {
	_, repo, err := s.running()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	if _, err := repo.FetchSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	pairs, err := s.scores.ListSubjectPairs(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	experts := pairs[:0]
	for _, ps := range pairs {
		if ps.Kind == model.PairExpertSubject {
			experts = append(experts, ps)
		}
	}
	sort.Slice(experts, func(i, j int) bool {
		if experts[i].Value != experts[j].Value {
			return experts[i].Value > experts[j].Value
		}
		return experts[i].OwnerID < experts[j].OwnerID
	})

	out := make([]types.Entry, 0, min(limit, len(experts)))
	for i, ps := range experts {
		if i == limit {
			break
		}
		rank := i + 1
		if i > 0 && ps.Value == experts[i-1].Value {
			rank = out[i-1].Rank
		}
		out = append(out, types.Entry{Rank: rank, ID: ps.OwnerID, Score: ps.Value})
	}
	return out, nil
}

// Leaderboard returns the top entities of kind by average relevancy.
func (s *Service) Leaderboard(ctx context.Context, kind model.EntityKind, limit int) ([]types.Entry, error) {
	if _, _, err := s.running(); err != nil {
		return nil, err
	}
	if kind != model.KindExpert && kind != model.KindCandidate {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return s.ranks.TopN(ctx, kind, limit)
}

// Rank returns the leaderboard position of one entity.
func (s *Service) Rank(ctx context.Context, ref model.EntityRef) (types.Entry, error) {
	if _, _, err := s.running(); err != nil {
		return types.Entry{}, err
	}
	return s.ranks.Rank(ctx, ref)
}
