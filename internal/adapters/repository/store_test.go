package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/okian/expertrank/internal/domain/model"
	logging "github.com/okian/expertrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func drivers(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		DriverMemory: func() Store { return NewMemoryStore() },
		DriverSQLite: func() Store {
			s, err := OpenSQLite(context.Background(), ":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func seed(ctx context.Context, s Store) {
	So(s.PutSubject(ctx, model.Subject{ID: "s1", Title: "Backend", RecommendedSkills: []string{"go", "sql"}}), ShouldBeNil)
	So(s.PutSubject(ctx, model.Subject{ID: "s2", Title: "Security", Status: model.SubjectClosed}), ShouldBeNil)
	So(s.PutCandidate(ctx, model.Candidate{ID: "c1", Name: "Ada", Skills: []string{"go"}}), ShouldBeNil)
	So(s.PutCandidate(ctx, model.Candidate{ID: "c2", Name: "Bo", Skills: []string{"sql"}}), ShouldBeNil)
	So(s.PutExpert(ctx, model.Expert{ID: "e1", Name: "Eve", Skills: []string{"go", "security"}}), ShouldBeNil)

	So(s.Link(ctx, model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, "s1"), ShouldBeNil)
	So(s.Link(ctx, model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, "s2"), ShouldBeNil)
	So(s.Link(ctx, model.EntityRef{Kind: model.KindCandidate, ID: "c2"}, "s1"), ShouldBeNil)
	So(s.Link(ctx, model.EntityRef{Kind: model.KindExpert, ID: "e1"}, "s1"), ShouldBeNil)
}

func TestStoreContract(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	for name, open := range drivers(t) {
		Convey("Given a seeded "+name+" store", t, func() {
			s := open()
			defer s.Close()
			seed(ctx, s)

			Convey("When documents are fetched", func() {
				c, err := s.FetchCandidate(ctx, "c1")
				So(err, ShouldBeNil)
				sub, err := s.FetchSubject(ctx, "s1")
				So(err, ShouldBeNil)
				e, err := s.FetchExpert(ctx, "e1")
				So(err, ShouldBeNil)

				Convey("Then membership comes from the relation tables", func() {
					So(c.Name, ShouldEqual, "Ada")
					So(c.Subjects, ShouldResemble, []string{"s1", "s2"})
					So(sub.Applicants, ShouldResemble, []string{"c1", "c2"})
					So(sub.Experts, ShouldResemble, []string{"e1"})
					So(sub.Status, ShouldEqual, model.SubjectOpen)
					So(sub.RecommendedSkills, ShouldResemble, []string{"go", "sql"})
					So(e.Subjects, ShouldResemble, []string{"s1"})
				})
			})

			Convey("When a document is missing", func() {
				_, err := s.FetchCandidate(ctx, "nope")

				Convey("Then ErrNotFound is returned", func() {
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
					So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When listing a subject's applicants and experts", func() {
				apps, err := s.ListApplicants(ctx, "s1")
				So(err, ShouldBeNil)
				exps, err := s.ListExperts(ctx, "s1")
				So(err, ShouldBeNil)
				_, missing := s.ListApplicants(ctx, "s9")

				Convey("Then full documents are returned", func() {
					So(apps, ShouldHaveLength, 2)
					So(apps[0].Skills, ShouldResemble, []string{"go"})
					So(exps, ShouldHaveLength, 1)
					So(exps[0].ID, ShouldEqual, "e1")
					So(errors.Is(missing, ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When a document is updated", func() {
				So(s.PutCandidate(ctx, model.Candidate{ID: "c1", Name: "Ada L", Skills: []string{"rust"}, Subjects: []string{"ignored"}}), ShouldBeNil)
				c, err := s.FetchCandidate(ctx, "c1")

				Convey("Then fields change but membership does not", func() {
					So(err, ShouldBeNil)
					So(c.Skills, ShouldResemble, []string{"rust"})
					So(c.Subjects, ShouldResemble, []string{"s1", "s2"})
				})
			})

			Convey("When linking to a missing subject", func() {
				err := s.Link(ctx, model.EntityRef{Kind: model.KindExpert, ID: "e1"}, "s9")

				Convey("Then ErrNotFound is returned", func() {
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When a candidate withdraws", func() {
				removed, err := s.Unlink(ctx, model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, "s1")
				So(err, ShouldBeNil)
				again, err := s.Unlink(ctx, model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, "s1")
				So(err, ShouldBeNil)
				sub, _ := s.FetchSubject(ctx, "s1")

				Convey("Then both sides of the relation drop it", func() {
					So(removed, ShouldBeTrue)
					So(again, ShouldBeFalse)
					So(sub.Applicants, ShouldResemble, []string{"c2"})
				})
			})

			Convey("When candidates are bulk deleted", func() {
				affected, err := s.Delete(ctx, model.KindCandidate, "c1", "c2")
				So(err, ShouldBeNil)
				sub, _ := s.FetchSubject(ctx, "s1")
				n, _ := s.Count(ctx, model.KindCandidate)

				Convey("Then the union of their subjects is returned and relations are gone", func() {
					So(affected, ShouldResemble, []string{"s1", "s2"})
					So(sub.Applicants, ShouldBeEmpty)
					So(n, ShouldEqual, 0)
				})
			})

			Convey("When a subject is deleted", func() {
				apps, exps, err := s.DeleteSubject(ctx, "s1")
				So(err, ShouldBeNil)
				c, _ := s.FetchCandidate(ctx, "c1")
				e, _ := s.FetchExpert(ctx, "e1")
				_, _, again := s.DeleteSubject(ctx, "s1")

				Convey("Then former members are returned and lose the subject", func() {
					So(apps, ShouldResemble, []string{"c1", "c2"})
					So(exps, ShouldResemble, []string{"e1"})
					So(c.Subjects, ShouldResemble, []string{"s2"})
					So(e.Subjects, ShouldBeEmpty)
					So(errors.Is(again, ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When listing ids", func() {
				ids, err := s.ListIDs(ctx, model.KindSubject)

				Convey("Then they are sorted", func() {
					So(err, ShouldBeNil)
					So(ids, ShouldResemble, []string{"s1", "s2"})
				})
			})

			Convey("When writing without an id", func() {
				Convey("Then ErrInvalidID is returned", func() {
					So(errors.Is(s.PutExpert(ctx, model.Expert{}), ErrInvalidID), ShouldBeTrue)
				})
			})
		})
	}
}

func TestSQLiteMalformedSkills(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a sqlite row with a corrupt skill list", t, func() {
		s, err := OpenSQLite(ctx, ":memory:")
		So(err, ShouldBeNil)
		defer s.Close()
		_, err = s.db.ExecContext(ctx, `INSERT INTO experts (id, name, skills) VALUES ('e1', 'Eve', '{not json')`)
		So(err, ShouldBeNil)

		Convey("When it is fetched", func() {
			e, err := s.FetchExpert(ctx, "e1")

			Convey("Then the skills read as empty instead of failing", func() {
				So(err, ShouldBeNil)
				So(e.Skills, ShouldBeEmpty)
			})
		})
	})
}

func TestSQLiteRelationReads(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a seeded sqlite store", t, func() {
		s, err := OpenSQLite(ctx, ":memory:")
		So(err, ShouldBeNil)
		defer s.Close()
		seed(ctx, s)

		Convey("When a relation column is read inside a transaction", func() {
			var got []string
			err := s.Transaction(ctx, func(tx *sql.Tx) error {
				var err error
				got, err = queryColumn(ctx, tx, `SELECT subject_id FROM applications WHERE candidate_id = ? ORDER BY subject_id`, "c1")
				return err
			})

			Convey("Then every row is returned", func() {
				So(err, ShouldBeNil)
				So(got, ShouldResemble, []string{"s1", "s2"})
			})
		})

		Convey("When a deletion cannot read relations", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			affected, err := s.Delete(cancelled, model.KindCandidate, "c1")

			Convey("Then it fails and nothing is removed", func() {
				So(err, ShouldNotBeNil)
				So(affected, ShouldBeNil)
				c, err := s.FetchCandidate(ctx, "c1")
				So(err, ShouldBeNil)
				So(c.Subjects, ShouldResemble, []string{"s1", "s2"})
			})
		})
	})
}

func TestOpen(t *testing.T) {
	_ = logging.Init()

	Convey("Given the driver factory", t, func() {
		Convey("Then memory and sqlite open and unknown drivers fail", func() {
			m, err := Open(context.Background(), DriverMemory, "")
			So(err, ShouldBeNil)
			So(m.Close(), ShouldBeNil)

			q, err := Open(context.Background(), DriverSQLite, "")
			So(err, ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			_, err = Open(context.Background(), "mongo", "")
			So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)
		})
	})
}
