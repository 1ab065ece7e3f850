// Package badgerstore implements jobstore.Store on top of
// github.com/timshannon/badgerhold/v4 (itself backed by
// github.com/dgraph-io/badger/v4), for callers that want a persistent,
// embedded JobStore instead of the in-memory default. Grounded directly on
// this module's teacher's internal/storage/badger/connection.go and
// internal/storage/badger/job_storage.go.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/gpetretto/jobflow/pkg/jobstore"
)

// record is badgerhold's on-disk shape for one Document: "_id" is the
// primary key, UUID/Index are promoted to indexed fields because the
// Router's output lookups filter on them, and the rest of the document rides along as
// an opaque JSON blob — Document is arbitrarily shaped (main records and
// auxiliary blob records have different field sets), so there is no single
// flat struct worth hand-modelling field-by-field.
type record struct {
	ID     string `badgerhold:"key"`
	UUID   string `badgerhold:"index"`
	Index  int    `badgerhold:"index"`
	Fields []byte
}

func encodeRecord(doc jobstore.Document) (record, error) {
	id, _ := doc["_id"].(string)
	uuid, _ := doc["uuid"].(string)
	index, _ := doc["index"].(int)
	data, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return record{}, fmt.Errorf("badgerstore: marshal document %s: %w", id, err)
	}
	return record{ID: id, UUID: uuid, Index: index, Fields: data}, nil
}

func decodeRecord(r record) (jobstore.Document, error) {
	var doc jobstore.Document
	if err := json.Unmarshal(r.Fields, &doc); err != nil {
		return nil, fmt.Errorf("badgerstore: unmarshal document %s: %w", r.ID, err)
	}
	return doc, nil
}

// Store is a badgerhold-backed jobstore.Store. One Store instance owns one
// badger database directory; a Router can use one Store for the main
// records and one per named auxiliary store, each in its own directory.
type Store struct {
	Path           string
	ResetOnStartup bool
	logger         arbor.ILogger

	db *badgerhold.Store
}

// New returns a Store rooted at path. Connect must be called before use.
func New(path string, resetOnStartup bool) *Store {
	return &Store{Path: path, ResetOnStartup: resetOnStartup, logger: arbor.NewLogger()}
}

func (s *Store) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if s.ResetOnStartup {
		if err := os.RemoveAll(s.Path); err != nil {
			return fmt.Errorf("badgerstore: reset %s: %w", s.Path, err)
		}
	}
	if err := os.MkdirAll(s.Path, 0o755); err != nil {
		return fmt.Errorf("badgerstore: create %s: %w", s.Path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = s.Path
	opts.ValueDir = s.Path
	opts.Logger = nil // disable badger's own logger in favor of arbor
	db, err := badgerhold.Open(opts)
	if err != nil {
		return fmt.Errorf("badgerstore: open %s: %w", s.Path, err)
	}
	s.db = db
	s.logger.Info().Str("path", s.Path).Msg("opened badger store")
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// query translates f into a badgerhold query. Only the "_id", "uuid" and
// "index" keys of f.Equals are honoured ("index" only together with
// "uuid"); any other key is ignored. Sorting is supported on "index" only.
func (s *Store) query(f jobstore.Filter) *badgerhold.Query {
	q := badgerhold.Where("ID").Ne("")
	if id, ok := f.Equals["_id"].(string); ok {
		q = badgerhold.Where("ID").Eq(id)
	} else if uuid, ok := f.Equals["uuid"].(string); ok {
		q = badgerhold.Where("UUID").Eq(uuid)
		if index, ok := f.Equals["index"].(int); ok {
			q = q.And("Index").Eq(index)
		}
	}
	if f.SortByField == "index" {
		q = q.SortBy("Index")
		if f.SortDesc {
			q = q.Reverse()
		}
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q
}

func (s *Store) Query(ctx context.Context, f jobstore.Filter) ([]jobstore.Document, error) {
	var records []record
	if err := s.db.Find(&records, s.query(f)); err != nil {
		return nil, fmt.Errorf("badgerstore: query: %w", err)
	}
	out := make([]jobstore.Document, 0, len(records))
	for _, r := range records {
		doc, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) QueryOne(ctx context.Context, f jobstore.Filter) (jobstore.Document, bool, error) {
	f.Limit = 1
	docs, err := s.Query(ctx, f)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *Store) Update(ctx context.Context, doc jobstore.Document) error {
	r, err := encodeRecord(doc)
	if err != nil {
		return err
	}
	if err := s.db.Upsert(r.ID, r); err != nil {
		return fmt.Errorf("badgerstore: upsert %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, f jobstore.Filter) error {
	if err := s.db.DeleteMatching(&record{}, s.query(f)); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("badgerstore: remove: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, f jobstore.Filter) (int, error) {
	n, err := s.db.Count(&record{}, s.query(jobstore.Filter{Equals: f.Equals}))
	if err != nil {
		return 0, fmt.Errorf("badgerstore: count: %w", err)
	}
	return n, nil
}

// Distinct has no native badgerhold equivalent, so it is a Find followed by
// an in-memory dedupe — fine at the scale a JobStore operates at.
func (s *Store) Distinct(ctx context.Context, field string, f jobstore.Filter) ([]any, error) {
	docs, err := s.Query(ctx, jobstore.Filter{Equals: f.Equals})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []any
	for _, doc := range docs {
		v := doc[field]
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out, nil
}
