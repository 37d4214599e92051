// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/types"
	"github.com/okian/expertrank/pkg/metrics"
)

const (
	defaultMaxLimit = 100
	defaultLimit    = 10
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Submit hands a committed mutation to the recompute pipeline. Returns
	// false on backpressure.
	Submit(ctx context.Context, ev model.MutationEvent) bool

	ExpertScoreCard(ctx context.Context, id string) (types.ScoreCard, error)
	CandidateScoreCard(ctx context.Context, id string) (types.ScoreCard, error)
	SubjectExperts(ctx context.Context, subjectID string, limit int) ([]types.Entry, error)
	Leaderboard(ctx context.Context, kind model.EntityKind, limit int) ([]types.Entry, error)
}

// StatsProvider exposes service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Option configures a Server.
type Option func(*Server)

// WithMaxLimit caps the ?limit accepted by list endpoints.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps     Dependencies
	stats    StatsProvider
	maxLimit int
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{deps: deps, stats: stats, maxLimit: defaultMaxLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(handleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("POST /mutations", MetricsMiddleware(s.handlePostMutation, "mutations"))
	mux.HandleFunc("GET /scores/experts/{id}", MetricsMiddleware(s.handleExpertScore, "scores"))
	mux.HandleFunc("GET /scores/candidates/{id}", MetricsMiddleware(s.handleCandidateScore, "scores"))
	mux.HandleFunc("GET /subjects/{id}/experts", MetricsMiddleware(s.handleSubjectExperts, "subject_experts"))
	mux.HandleFunc("GET /leaderboard/{kind}", MetricsMiddleware(s.handleLeaderboard, "leaderboard"))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeLookupError maps domain read errors onto HTTP statuses.
func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// limit reads ?limit, defaulting when absent.
func (s *Server) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return min(defaultLimit, s.maxLimit), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
	}
	if n > s.maxLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrLimitExceeded, n, s.maxLimit)
	}
	return n, nil
}

func (s *Server) writeLimitError(w http.ResponseWriter, err error) {
	code := "bad_request"
	if errors.Is(err, ErrLimitExceeded) {
		code = "limit_exceeded"
	}
	writeError(w, http.StatusBadRequest, code, err)
}
