package recompute

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/okian/expertrank/internal/domain/model"
)

// flightReader collapses concurrent identical document reads within one
// event into a single repository call.
type flightReader struct {
	repo  documents
	group singleflight.Group
}

func newFlightReader(repo documents) *flightReader {
	return &flightReader{repo: repo}
}

func (f *flightReader) FetchCandidate(ctx context.Context, id string) (model.Candidate, error) {
	v, err, _ := f.group.Do("candidate/"+id, func() (any, error) {
		return f.repo.FetchCandidate(ctx, id)
	})
	c, _ := v.(model.Candidate)
	return c, err
}

func (f *flightReader) FetchExpert(ctx context.Context, id string) (model.Expert, error) {
	v, err, _ := f.group.Do("expert/"+id, func() (any, error) {
		return f.repo.FetchExpert(ctx, id)
	})
	e, _ := v.(model.Expert)
	return e, err
}

func (f *flightReader) FetchSubject(ctx context.Context, id string) (model.Subject, error) {
	v, err, _ := f.group.Do("subject/"+id, func() (any, error) {
		return f.repo.FetchSubject(ctx, id)
	})
	s, _ := v.(model.Subject)
	return s, err
}

func (f *flightReader) ListApplicants(ctx context.Context, subjectID string) ([]model.Candidate, error) {
	v, err, _ := f.group.Do("applicants/"+subjectID, func() (any, error) {
		return f.repo.ListApplicants(ctx, subjectID)
	})
	pool, _ := v.([]model.Candidate)
	return pool, err
}
