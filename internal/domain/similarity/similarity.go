// Package similarity scores how well two skill sets match.
//
// Every metric returns a value in [0,1], is 0 when either side is empty,
// 1 for identical non-empty sets, never decreases when a shared token is
// added, and never increases when a token present on one side only is
// added to the side the metric normalizes by.
package similarity

import (
	"fmt"
	"math"

	"github.com/okian/expertrank/internal/domain/skills"
)

// Metric names.
const (
	Coverage = "coverage"
	Jaccard  = "jaccard"
	Overlap  = "overlap"
	Dice     = "dice"
)

// Metric is a pure similarity function over canonical skill sets.
type Metric interface {
	Name() string
	// Score compares a profile against a target. Asymmetric metrics such as
	// coverage normalize by the target.
	Score(profile, target skills.Set) float64
}

// Option configures a metric.
type Option func(*metric)

// WithSkillWeights weighs tokens by rarity or importance. Non-positive
// weights are ignored; tokens missing from the map use defaultWeight.
func WithSkillWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(m *metric) {
		m.weights = make(map[string]float64, len(weights))
		for skill, w := range weights {
			if w > 0 {
				m.weights[skill] = w
			}
		}
		if defaultWeight > 0 {
			m.defaultWeight = defaultWeight
		}
	}
}

type metric struct {
	name          string
	combine       func(inter, profile, target, union float64) float64
	weights       map[string]float64
	defaultWeight float64
}

// New returns the metric registered under name.
func New(name string, opts ...Option) (Metric, error) {
	m := &metric{name: name, defaultWeight: 1}
	switch name {
	case Coverage, "":
		m.name = Coverage
		m.combine = func(inter, _, target, _ float64) float64 { return inter / target }
	case Jaccard:
		m.combine = func(inter, _, _, union float64) float64 { return inter / union }
	case Overlap:
		m.combine = func(inter, profile, target, _ float64) float64 { return inter / math.Min(profile, target) }
	case Dice:
		m.combine = func(inter, profile, target, _ float64) float64 { return 2 * inter / (profile + target) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MustNew is New for metric names known at compile time.
func MustNew(name string, opts ...Option) Metric {
	m, err := New(name, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *metric) Name() string { return m.name }

func (m *metric) Score(profile, target skills.Set) float64 {
	if profile.Empty() || target.Empty() {
		return 0
	}
	inter := m.weight(profile.Intersect(target))
	if inter == 0 {
		return 0
	}
	p, t := m.weight(profile), m.weight(target)
	u := p + t - inter
	return clamp(m.combine(inter, p, t, u))
}

func (m *metric) weight(s skills.Set) float64 {
	if len(m.weights) == 0 {
		return float64(s.Len())
	}
	var total float64
	for _, tok := range s.Tokens() {
		if w, ok := m.weights[tok]; ok {
			total += w
		} else {
			total += m.defaultWeight
		}
	}
	return total
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
