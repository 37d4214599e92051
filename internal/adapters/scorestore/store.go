// Package scorestore persists derived pair scores and aggregates in Badger.
//
// Keys:
//
//	pair/{kind}/{owner}/{subject}  -> record
//	subj/{subject}/{kind}/{owner}  -> empty (reverse index)
//	agg/{kind}/{id}                -> record
package scorestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/pkg/logger"
	"github.com/okian/expertrank/pkg/metrics"
)

const sep = "/"

// Store is the derived score side table.
type Store interface {
	WritePairScore(ctx context.Context, ps model.PairScore) error
	ReadPairScore(ctx context.Context, key model.PairKey) (model.PairScore, error)
	// ListPairScores returns every stored pair of one owner.
	ListPairScores(ctx context.Context, kind model.PairKind, ownerID string) ([]model.PairScore, error)
	// ListSubjectPairs returns every stored pair referencing a subject.
	ListSubjectPairs(ctx context.Context, subjectID string) ([]model.PairScore, error)
	DeletePairScores(ctx context.Context, keys ...model.PairKey) error
	// DeleteOwner removes an owner's pairs and aggregate.
	DeleteOwner(ctx context.Context, ref model.EntityRef) error
	// DeleteSubject removes every pair referencing a subject and returns
	// the owners that had one.
	DeleteSubject(ctx context.Context, subjectID string) ([]model.EntityRef, error)

	WriteAggregate(ctx context.Context, agg model.Aggregate) error
	ReadAggregate(ctx context.Context, ref model.EntityRef) (model.Aggregate, error)
	ListAggregates(ctx context.Context, kind model.EntityKind) ([]model.Aggregate, error)

	Close() error
}

type record struct {
	Value      float64   `json:"v"`
	ComputedAt time.Time `json:"t"`
}

// BadgerStore implements Store.
type BadgerStore struct {
	db     *badger.DB
	gc     *gcRunner
	logger logger.Logger
}

// Open opens the store described by cfg.
func Open(cfg Config) (*BadgerStore, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Get().Named("scorestore")
	}

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create score store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, logger: log}
	if cfg.GCInterval > 0 && cfg.Path != "" {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, log)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

func validID(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.Contains(id, sep) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, id)
		}
	}
	return nil
}

func pairKey(k model.PairKey) []byte {
	return []byte("pair" + sep + string(k.Kind) + sep + k.OwnerID + sep + k.SubjectID)
}

func ownerPrefix(kind model.PairKind, ownerID string) []byte {
	return []byte("pair" + sep + string(kind) + sep + ownerID + sep)
}

func indexKey(k model.PairKey) []byte {
	return []byte("subj" + sep + k.SubjectID + sep + string(k.Kind) + sep + k.OwnerID)
}

func subjectPrefix(subjectID string) []byte {
	return []byte("subj" + sep + subjectID + sep)
}

func aggKey(ref model.EntityRef) []byte {
	return []byte("agg" + sep + string(ref.Kind) + sep + ref.ID)
}

func aggPrefix(kind model.EntityKind) []byte {
	return []byte("agg" + sep + string(kind) + sep)
}

// parsePairKey reverses pairKey.
func parsePairKey(b []byte) (model.PairKey, bool) {
	parts := strings.Split(string(b), sep)
	if len(parts) != 4 || parts[0] != "pair" {
		return model.PairKey{}, false
	}
	return model.PairKey{Kind: model.PairKind(parts[1]), OwnerID: parts[2], SubjectID: parts[3]}, true
}

// parseIndexKey reverses indexKey.
func parseIndexKey(b []byte) (model.PairKey, bool) {
	parts := strings.Split(string(b), sep)
	if len(parts) != 4 || parts[0] != "subj" {
		return model.PairKey{}, false
	}
	return model.PairKey{Kind: model.PairKind(parts[2]), OwnerID: parts[3], SubjectID: parts[1]}, true
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

func encode(v float64, at time.Time) ([]byte, error) {
	b, err := json.Marshal(record{Value: v, ComputedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding score: %w", err)
	}
	return b, nil
}

func decode(item *badger.Item) (record, error) {
	var r record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return record{}, fmt.Errorf("decoding %s: %w", item.Key(), err)
	}
	return r, nil
}

func (s *BadgerStore) WritePairScore(ctx context.Context, ps model.PairScore) error {
	defer observe("write_pair", time.Now())
	if err := validID(ps.OwnerID, ps.SubjectID); err != nil {
		return err
	}
	val, err := encode(ps.Value, ps.ComputedAt)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(pairKey(ps.PairKey), val); err != nil {
			return err
		}
		return txn.Set(indexKey(ps.PairKey), nil)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", ps.PairKey, err)
	}
	return nil
}

func (s *BadgerStore) ReadPairScore(ctx context.Context, key model.PairKey) (model.PairScore, error) {
	defer observe("read_pair", time.Now())
	var out model.PairScore
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(key))
		if err != nil {
			return err
		}
		r, err := decode(item)
		if err != nil {
			return err
		}
		out = model.PairScore{PairKey: key, Value: r.Value, ComputedAt: r.ComputedAt}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.PairScore{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.PairScore{}, fmt.Errorf("reading %s: %w", key, err)
	}
	return out, nil
}

func (s *BadgerStore) ListPairScores(ctx context.Context, kind model.PairKind, ownerID string) ([]model.PairScore, error) {
	defer observe("list_pairs", time.Now())
	var out []model.PairScore
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := ownerPrefix(kind, ownerID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, ok := parsePairKey(item.KeyCopy(nil))
			if !ok {
				continue
			}
			r, err := decode(item)
			if err != nil {
				return err
			}
			out = append(out, model.PairScore{PairKey: key, Value: r.Value, ComputedAt: r.ComputedAt})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing pairs of %s/%s: %w", kind, ownerID, err)
	}
	return out, nil
}

func (s *BadgerStore) subjectKeys(subjectID string) ([]model.PairKey, error) {
	var keys []model.PairKey
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := subjectPrefix(subjectID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if k, ok := parseIndexKey(it.Item().KeyCopy(nil)); ok {
				keys = append(keys, k)
			}
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) ListSubjectPairs(ctx context.Context, subjectID string) ([]model.PairScore, error) {
	defer observe("list_subject", time.Now())
	keys, err := s.subjectKeys(subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing pairs of subject %s: %w", subjectID, err)
	}
	out := make([]model.PairScore, 0, len(keys))
	for _, k := range keys {
		ps, err := s.ReadPairScore(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

// deleteKeys removes raw keys in batches so large purges stay under Badger's
// transaction limits.
func (s *BadgerStore) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) DeletePairScores(ctx context.Context, keys ...model.PairKey) error {
	defer observe("delete_pairs", time.Now())
	raw := make([][]byte, 0, 2*len(keys))
	for _, k := range keys {
		raw = append(raw, pairKey(k), indexKey(k))
	}
	if err := s.deleteKeys(raw); err != nil {
		return fmt.Errorf("deleting %d pairs: %w", len(keys), err)
	}
	return nil
}

func (s *BadgerStore) DeleteOwner(ctx context.Context, ref model.EntityRef) error {
	defer observe("delete_owner", time.Now())
	kind, ok := model.PairKindFor(ref.Kind)
	if !ok {
		return fmt.Errorf("%w: %s owns no pairs", ErrInvalidKey, ref)
	}
	var raw [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := ownerPrefix(kind, ref.ID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if pk, ok := parsePairKey(k); ok {
				raw = append(raw, k, indexKey(pk))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning pairs of %s: %w", ref, err)
	}
	raw = append(raw, aggKey(ref))
	if err := s.deleteKeys(raw); err != nil {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	return nil
}

func (s *BadgerStore) DeleteSubject(ctx context.Context, subjectID string) ([]model.EntityRef, error) {
	defer observe("delete_subject", time.Now())
	keys, err := s.subjectKeys(subjectID)
	if err != nil {
		return nil, fmt.Errorf("scanning pairs of subject %s: %w", subjectID, err)
	}
	raw := make([][]byte, 0, 2*len(keys))
	owners := make([]model.EntityRef, 0, len(keys))
	for _, k := range keys {
		raw = append(raw, pairKey(k), indexKey(k))
		owners = append(owners, model.EntityRef{Kind: k.Kind.OwnerKind(), ID: k.OwnerID})
	}
	if err := s.deleteKeys(raw); err != nil {
		return nil, fmt.Errorf("deleting pairs of subject %s: %w", subjectID, err)
	}
	return owners, nil
}

func (s *BadgerStore) WriteAggregate(ctx context.Context, agg model.Aggregate) error {
	defer observe("write_aggregate", time.Now())
	if err := validID(agg.ID); err != nil {
		return err
	}
	val, err := encode(agg.Value, agg.ComputedAt)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(aggKey(agg.EntityRef), val)
	}); err != nil {
		return fmt.Errorf("writing aggregate %s: %w", agg.EntityRef, err)
	}
	return nil
}

func (s *BadgerStore) ReadAggregate(ctx context.Context, ref model.EntityRef) (model.Aggregate, error) {
	defer observe("read_aggregate", time.Now())
	var out model.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(aggKey(ref))
		if err != nil {
			return err
		}
		r, err := decode(item)
		if err != nil {
			return err
		}
		out = model.Aggregate{EntityRef: ref, Value: r.Value, ComputedAt: r.ComputedAt}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Aggregate{}, fmt.Errorf("aggregate %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("reading aggregate %s: %w", ref, err)
	}
	return out, nil
}

func (s *BadgerStore) ListAggregates(ctx context.Context, kind model.EntityKind) ([]model.Aggregate, error) {
	defer observe("list_aggregates", time.Now())
	var out []model.Aggregate
	prefix := aggPrefix(kind)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(bytes.TrimPrefix(item.KeyCopy(nil), prefix))
			r, err := decode(item)
			if err != nil {
				return err
			}
			out = append(out, model.Aggregate{EntityRef: model.EntityRef{Kind: kind, ID: id}, Value: r.Value, ComputedAt: r.ComputedAt})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s aggregates: %w", kind, err)
	}
	return out, nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}
