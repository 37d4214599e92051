// Package aggregate derives per-entity average relevancy from stored pair
// scores.
package aggregate

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/expertrank/internal/domain/model"
)

// Result is the outcome of aggregating one owner.
type Result struct {
	// Value is the mean over member scores, 0 when none exist.
	Value float64
	// Counted is the number of scores that contributed to Value.
	Counted int
	// Stale lists subjects with a stored score that are no longer members.
	Stale []string
}

// AverageFor averages the pair scores whose subject is in members. Scores for
// non-member subjects are reported as stale so the caller can prune them.
// Members without a stored score are skipped rather than counted as 0.
func AverageFor(members []string, scores []model.PairScore) Result {
	in := make(map[string]struct{}, len(members))
	for _, id := range members {
		in[id] = struct{}{}
	}

	values := make([]float64, 0, len(scores))
	seen := make(map[string]struct{}, len(scores))
	var stale []string
	for _, ps := range scores {
		if _, dup := seen[ps.SubjectID]; dup {
			continue
		}
		seen[ps.SubjectID] = struct{}{}
		if _, ok := in[ps.SubjectID]; !ok {
			stale = append(stale, ps.SubjectID)
			continue
		}
		values = append(values, ps.Value)
	}
	sort.Strings(stale)

	res := Result{Counted: len(values), Stale: stale}
	if len(values) > 0 {
		res.Value = stat.Mean(values, nil)
	}
	return res
}
