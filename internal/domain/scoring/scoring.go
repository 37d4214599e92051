// Package scoring computes pairwise relevancy between experts or candidates
// and interview boards. It is pure: callers load documents and persist the
// returned values.
package scoring

import (
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/similarity"
	"github.com/okian/expertrank/internal/domain/skills"
)

// Option applies a configuration option to the Computer.
type Option func(*Computer)

// WithMetric sets the similarity strategy.
func WithMetric(m similarity.Metric) Option {
	return func(c *Computer) {
		if m != nil {
			c.metric = m
		}
	}
}

// WithExtractor sets the skill normalizer.
func WithExtractor(e *skills.Extractor) Option {
	return func(c *Computer) {
		if e != nil {
			c.extractor = e
		}
	}
}

// WithRecommendedBlend mixes the subject's recommended skills into expert
// scores: blend*sim(expert, recommended) + (1-blend)*sim(expert, pool).
// Values outside [0,1] are ignored.
func WithRecommendedBlend(blend float64) Option {
	return func(c *Computer) {
		if blend >= 0 && blend <= 1 {
			c.blend = blend
		}
	}
}

// Computer scores Expert-Subject and Candidate-Subject pairs.
type Computer struct {
	metric    similarity.Metric
	extractor *skills.Extractor
	blend     float64
}

// NewComputer creates a Computer using the coverage metric by default.
func NewComputer(opts ...Option) *Computer {
	c := &Computer{
		metric:    similarity.MustNew(similarity.Coverage),
		extractor: skills.NewExtractor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metric returns the configured similarity strategy.
func (c *Computer) Metric() similarity.Metric { return c.metric }

// Extractor returns the configured skill normalizer.
func (c *Computer) Extractor() *skills.Extractor { return c.extractor }

// ScoreExpertSubject scores an expert against the union of the skills of the
// subject's current applicants, optionally blended with the subject's
// recommended skills. An empty pool carries no signal and scores 0.
func (c *Computer) ScoreExpertSubject(expert model.Expert, subject model.Subject, pool []model.Candidate) float64 {
	if len(pool) == 0 {
		return 0
	}
	profile := c.extractor.Extract(expert.Skills)
	demand := c.PoolProfile(pool)

	score := c.metric.Score(profile, demand)
	if c.blend > 0 {
		recommended := c.extractor.Extract(subject.RecommendedSkills)
		score = c.blend*c.metric.Score(profile, recommended) + (1-c.blend)*score
	}
	return score
}

// ScoreCandidateSubject scores a candidate's skills against the subject's
// recommended skills.
func (c *Computer) ScoreCandidateSubject(candidate model.Candidate, subject model.Subject) float64 {
	return c.metric.Score(
		c.extractor.Extract(candidate.Skills),
		c.extractor.Extract(subject.RecommendedSkills),
	)
}

// PoolProfile is the union of the normalized skills of every applicant.
func (c *Computer) PoolProfile(pool []model.Candidate) skills.Set {
	sets := make([]skills.Set, len(pool))
	for i, cand := range pool {
		sets[i] = c.extractor.Extract(cand.Skills)
	}
	return skills.UnionAll(sets...)
}
