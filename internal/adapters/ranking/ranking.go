// Package ranking keeps experts and candidates ordered by average relevancy
// for leaderboard reads.
package ranking

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/types"
	"github.com/okian/expertrank/pkg/metrics"
)

// AggregateLister is the source the index is rebuilt from on start.
type AggregateLister interface {
	ListAggregates(ctx context.Context, kind model.EntityKind) ([]model.Aggregate, error)
}

type board struct {
	root *node
	byID map[string]scoreFP
}

// Index is an in-memory leaderboard per ranked kind. Ranks use competition
// ordering: equal scores share a rank and the next rank skips ahead.
type Index struct {
	mu     sync.RWMutex
	boards map[model.EntityKind]*board
}

// New creates an empty index for experts and candidates.
func New() *Index {
	return &Index{boards: map[model.EntityKind]*board{
		model.KindExpert:    {byID: map[string]scoreFP{}},
		model.KindCandidate: {byID: map[string]scoreFP{}},
	}}
}

func (x *Index) board(kind model.EntityKind) (*board, error) {
	b, ok := x.boards[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return b, nil
}

// Upsert sets the score of ref, replacing any previous value.
func (x *Index) Upsert(_ context.Context, ref model.EntityRef, score float64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	b, err := x.board(ref.Kind)
	if err != nil {
		return err
	}
	ns := toFixedPoint(score)
	if old, ok := b.byID[ref.ID]; ok {
		if old == ns {
			return nil
		}
		b.root = remove(b.root, ref.ID, old)
	}
	b.byID[ref.ID] = ns
	b.root = insert(b.root, ref.ID, ns)
	metrics.UpdateRankingEntries(string(ref.Kind), len(b.byID))
	return nil
}

// Remove drops ref from its leaderboard. Missing entries are ignored.
func (x *Index) Remove(_ context.Context, ref model.EntityRef) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	b, err := x.board(ref.Kind)
	if err != nil {
		return err
	}
	if old, ok := b.byID[ref.ID]; ok {
		b.root = remove(b.root, ref.ID, old)
		delete(b.byID, ref.ID)
		metrics.UpdateRankingEntries(string(ref.Kind), len(b.byID))
	}
	return nil
}

// Rank returns the rank and score of ref.
func (x *Index) Rank(_ context.Context, ref model.EntityRef) (types.Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	b, err := x.board(ref.Kind)
	if err != nil {
		return types.Entry{}, err
	}
	score, ok := b.byID[ref.ID]
	if !ok {
		metrics.RecordErrorByComponent("ranking", "not_found")
		return types.Entry{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return types.Entry{Rank: countAbove(b.root, score) + 1, ID: ref.ID, Score: toFloat(score)}, nil
}

// TopN returns up to n entries of kind, best first.
func (x *Index) TopN(_ context.Context, kind model.EntityKind, n int) ([]types.Entry, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("ranking", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	b, err := x.board(kind)
	if err != nil {
		return nil, err
	}

	out := make([]types.Entry, 0, min(n, len(b.byID)))
	var prev scoreFP
	visit(b.root, func(nd *node) bool {
		rank := len(out) + 1
		if len(out) > 0 && nd.score == prev {
			rank = out[len(out)-1].Rank
		}
		out = append(out, types.Entry{Rank: rank, ID: nd.id, Score: toFloat(nd.score)})
		prev = nd.score
		return len(out) < n
	})
	return out, nil
}

// Count returns the number of ranked entities of kind.
func (x *Index) Count(_ context.Context, kind model.EntityKind) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if b, ok := x.boards[kind]; ok {
		return len(b.byID)
	}
	return 0
}

// Load replaces the index contents with the aggregates held by src.
func (x *Index) Load(ctx context.Context, src AggregateLister) error {
	fresh := New()
	for kind := range fresh.boards {
		aggs, err := src.ListAggregates(ctx, kind)
		if err != nil {
			return fmt.Errorf("loading %s ranking: %w", kind, err)
		}
		for _, a := range aggs {
			if err := fresh.Upsert(ctx, a.EntityRef, a.Value); err != nil {
				return err
			}
		}
	}

	x.mu.Lock()
	x.boards = fresh.boards
	x.mu.Unlock()
	return nil
}
