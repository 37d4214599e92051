// Package types contains read shapes shared by the service and HTTP layers.
package types

import "time"

// Entry is one row of a relevancy leaderboard.
type Entry struct {
	Rank  int     `json:"rank"`
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SubjectScore is one owner-to-subject relevancy value.
type SubjectScore struct {
	SubjectID  string    `json:"subject_id"`
	Score      float64   `json:"score"`
	ComputedAt time.Time `json:"computed_at"`
}

// ScoreCard is the derived relevancy view of one expert or candidate.
type ScoreCard struct {
	Kind             string         `json:"kind"`
	ID               string         `json:"id"`
	AverageRelevancy float64        `json:"average_relevancy"`
	Computed         bool           `json:"computed"`
	Subjects         []SubjectScore `json:"subjects"`
}
