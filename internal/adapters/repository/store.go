// Package repository stores candidate, expert and subject documents together
// with the application and assignment relations between them.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/expertrank/internal/domain/model"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Reader is the read side used by the recompute pipeline. Documents come back
// with their membership lists filled from the relation tables.
type Reader interface {
	FetchCandidate(ctx context.Context, id string) (model.Candidate, error)
	FetchExpert(ctx context.Context, id string) (model.Expert, error)
	FetchSubject(ctx context.Context, id string) (model.Subject, error)

	// ListApplicants returns the current applicants of a subject.
	ListApplicants(ctx context.Context, subjectID string) ([]model.Candidate, error)
	// ListExperts returns the experts currently assigned to a subject.
	ListExperts(ctx context.Context, subjectID string) ([]model.Expert, error)

	ListIDs(ctx context.Context, kind model.EntityKind) ([]string, error)
	Count(ctx context.Context, kind model.EntityKind) (int, error)
}

// Writer is the commit side used by the application service. Membership
// fields on the documents passed to Put* are ignored; relations change only
// through Link and Unlink.
type Writer interface {
	PutCandidate(ctx context.Context, c model.Candidate) error
	PutExpert(ctx context.Context, e model.Expert) error
	PutSubject(ctx context.Context, s model.Subject) error

	// Link relates an owner (candidate or expert) to a subject. Both must exist.
	Link(ctx context.Context, owner model.EntityRef, subjectID string) error
	// Unlink removes the relation. It reports whether one existed.
	Unlink(ctx context.Context, owner model.EntityRef, subjectID string) (bool, error)

	// Delete removes owners and every relation referencing them. It returns
	// the distinct subjects the deleted owners were related to.
	Delete(ctx context.Context, kind model.EntityKind, ids ...string) ([]string, error)
	// DeleteSubject removes a subject and its relations, returning the
	// owners that were related to it.
	DeleteSubject(ctx context.Context, id string) (applicants, experts []string, err error)
}

// Store is a full document repository.
type Store interface {
	Reader
	Writer
	Close() error
}

// Open returns a store for driver. dsn is only used by the sqlite driver.
func Open(ctx context.Context, driver, dsn string, opts ...SQLiteOption) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn, opts...)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
