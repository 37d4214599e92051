package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/skills"
	"github.com/okian/expertrank/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	skills TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS experts (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	skills TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS subjects (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'open',
	recommended_skills TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS applications (
	candidate_id TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	PRIMARY KEY (candidate_id, subject_id)
);
CREATE INDEX IF NOT EXISTS idx_applications_subject ON applications(subject_id);
CREATE TABLE IF NOT EXISTS assignments (
	expert_id  TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	PRIMARY KEY (expert_id, subject_id)
);
CREATE INDEX IF NOT EXISTS idx_assignments_subject ON assignments(subject_id);
`

// table names the document and relation tables of one owner kind.
type table struct {
	docs     string
	relation string
	ownerCol string
}

var (
	candidateTable = table{docs: "candidates", relation: "applications", ownerCol: "candidate_id"}
	expertTable    = table{docs: "experts", relation: "assignments", ownerCol: "expert_id"}
)

func tableFor(kind model.EntityKind) (table, error) {
	switch kind {
	case model.KindCandidate:
		return candidateTable, nil
	case model.KindExpert:
		return expertTable, nil
	}
	return table{}, fmt.Errorf("%w: kind %q has no relations", ErrInvalidID, kind)
}

// SQLiteStore is a Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// SQLiteOption configures OpenSQLite.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets the logger used to report malformed stored values.
func WithLogger(l logger.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQLite opens (and migrates) the database at dsn. An empty dsn or
// ":memory:" uses a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("sqlite")
	}
	return s, nil
}

// Transaction runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", skills.ErrExtraction, err)
	}
	return out, nil
}

// decodeSkills decodes a stored skill list. Malformed values are logged and read
// as empty so scoring continues.
func (s *SQLiteStore) decodeSkills(ctx context.Context, ref string, raw string) []string {
	out, err := decodeList(raw)
	if err != nil {
		s.logger.Warn(ctx, "dropping malformed skill list", logger.String("entity", ref), logger.Error(err))
	}
	return out
}

func (s *SQLiteStore) fetchOwner(ctx context.Context, t table, id string) (name string, sk []string, subjects []string, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT name, skills FROM `+t.docs+` WHERE id = ?`, id).Scan(&name, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil, fmt.Errorf("%s %s: %w", strings.TrimSuffix(t.docs, "s"), id, ErrNotFound)
	}
	if err != nil {
		return "", nil, nil, fmt.Errorf("reading %s %s: %w", t.docs, id, err)
	}
	subjects, err = s.column(ctx, `SELECT subject_id FROM `+t.relation+` WHERE `+t.ownerCol+` = ? ORDER BY subject_id`, id)
	if err != nil {
		return "", nil, nil, err
	}
	return name, s.decodeSkills(ctx, t.docs+"/"+id, raw), subjects, nil
}

func (s *SQLiteStore) column(ctx context.Context, query string, args ...any) ([]string, error) {
	return queryColumn(ctx, s.db, query, args...)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryColumn reads a single string column.
func queryColumn(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) FetchCandidate(ctx context.Context, id string) (model.Candidate, error) {
	name, sk, subjects, err := s.fetchOwner(ctx, candidateTable, id)
	if err != nil {
		return model.Candidate{}, err
	}
	return model.Candidate{ID: id, Name: name, Skills: sk, Subjects: subjects}, nil
}

func (s *SQLiteStore) FetchExpert(ctx context.Context, id string) (model.Expert, error) {
	name, sk, subjects, err := s.fetchOwner(ctx, expertTable, id)
	if err != nil {
		return model.Expert{}, err
	}
	return model.Expert{ID: id, Name: name, Skills: sk, Subjects: subjects}, nil
}

func (s *SQLiteStore) FetchSubject(ctx context.Context, id string) (model.Subject, error) {
	var (
		sub model.Subject
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, recommended_skills FROM subjects WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.Title, &sub.Status, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subject{}, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Subject{}, fmt.Errorf("reading subject %s: %w", id, err)
	}
	sub.RecommendedSkills = s.decodeSkills(ctx, "subjects/"+id, raw)

	if sub.Applicants, err = s.column(ctx, `SELECT candidate_id FROM applications WHERE subject_id = ? ORDER BY candidate_id`, id); err != nil {
		return model.Subject{}, err
	}
	if sub.Experts, err = s.column(ctx, `SELECT expert_id FROM assignments WHERE subject_id = ? ORDER BY expert_id`, id); err != nil {
		return model.Subject{}, err
	}
	return sub, nil
}

func (s *SQLiteStore) requireSubject(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading subject %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListApplicants(ctx context.Context, subjectID string) ([]model.Candidate, error) {
	if err := s.requireSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	ids, err := s.column(ctx, `SELECT candidate_id FROM applications WHERE subject_id = ? ORDER BY candidate_id`, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		c, err := s.FetchCandidate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) ListExperts(ctx context.Context, subjectID string) ([]model.Expert, error) {
	if err := s.requireSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	ids, err := s.column(ctx, `SELECT expert_id FROM assignments WHERE subject_id = ? ORDER BY expert_id`, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Expert, 0, len(ids))
	for _, id := range ids {
		e, err := s.FetchExpert(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func docsTable(kind model.EntityKind) (string, error) {
	switch kind {
	case model.KindCandidate:
		return "candidates", nil
	case model.KindExpert:
		return "experts", nil
	case model.KindSubject:
		return "subjects", nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrInvalidID, kind)
}

func (s *SQLiteStore) ListIDs(ctx context.Context, kind model.EntityKind) ([]string, error) {
	t, err := docsTable(kind)
	if err != nil {
		return nil, err
	}
	return s.column(ctx, `SELECT id FROM `+t+` ORDER BY id`)
}

func (s *SQLiteStore) Count(ctx context.Context, kind model.EntityKind) (int, error) {
	t, err := docsTable(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t, err)
	}
	return n, nil
}

func (s *SQLiteStore) putOwner(ctx context.Context, t table, id, name string, sk []string) error {
	if id == "" {
		return ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+t.docs+` (id, name, skills) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, skills = excluded.skills
	`, id, name, encodeList(sk))
	if err != nil {
		return fmt.Errorf("writing %s %s: %w", t.docs, id, err)
	}
	return nil
}

func (s *SQLiteStore) PutCandidate(ctx context.Context, c model.Candidate) error {
	return s.putOwner(ctx, candidateTable, c.ID, c.Name, c.Skills)
}

func (s *SQLiteStore) PutExpert(ctx context.Context, e model.Expert) error {
	return s.putOwner(ctx, expertTable, e.ID, e.Name, e.Skills)
}

func (s *SQLiteStore) PutSubject(ctx context.Context, sub model.Subject) error {
	if sub.ID == "" {
		return ErrInvalidID
	}
	if sub.Status == "" {
		sub.Status = model.SubjectOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, title, status, recommended_skills) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			recommended_skills = excluded.recommended_skills
	`, sub.ID, sub.Title, string(sub.Status), encodeList(sub.RecommendedSkills))
	if err != nil {
		return fmt.Errorf("writing subject %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Link(ctx context.Context, ref model.EntityRef, subjectID string) error {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+t.docs+` WHERE id = ?`, ref.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", ref, err)
		}
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = ?`, subjectID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading subject %s: %w", subjectID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+t.relation+` (`+t.ownerCol+`, subject_id) VALUES (?, ?)`,
			ref.ID, subjectID,
		); err != nil {
			return fmt.Errorf("linking %s to %s: %w", ref, subjectID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) Unlink(ctx context.Context, ref model.EntityRef, subjectID string) (bool, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+t.relation+` WHERE `+t.ownerCol+` = ? AND subject_id = ?`, ref.ID, subjectID)
	if err != nil {
		return false, fmt.Errorf("unlinking %s from %s: %w", ref, subjectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlinking %s from %s: %w", ref, subjectID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, kind model.EntityKind, ids ...string) ([]string, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	affected := map[string]struct{}{}
	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			subjects, err := queryColumn(ctx, tx, `SELECT subject_id FROM `+t.relation+` WHERE `+t.ownerCol+` = ?`, id)
			if err != nil {
				return fmt.Errorf("reading relations of %s: %w", id, err)
			}
			for _, sid := range subjects {
				affected[sid] = struct{}{}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.relation+` WHERE `+t.ownerCol+` = ?`, id); err != nil {
				return fmt.Errorf("deleting relations of %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.docs+` WHERE id = ?`, id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(affected))
	for sid := range affected {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLiteStore) DeleteSubject(ctx context.Context, id string) ([]string, []string, error) {
	var applicants, experts []string
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting subject %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("subject %s: %w", id, ErrNotFound)
		}
		if applicants, err = queryColumn(ctx, tx, `SELECT candidate_id FROM applications WHERE subject_id = ? ORDER BY candidate_id`, id); err != nil {
			return err
		}
		if experts, err = queryColumn(ctx, tx, `SELECT expert_id FROM assignments WHERE subject_id = ? ORDER BY expert_id`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE subject_id = ?`, id); err != nil {
			return fmt.Errorf("deleting applications of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE subject_id = ?`, id); err != nil {
			return fmt.Errorf("deleting assignments of %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return applicants, experts, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
