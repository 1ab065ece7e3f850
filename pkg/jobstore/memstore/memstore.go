// Package memstore implements jobstore.Store in memory, with a plain linear
// scan standing in for a real query planner — this is the default store
// run_locally falls back to when the caller supplies none, and it is what
// every scheduler test in this module runs against.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gpetretto/jobflow/pkg/jobstore"
)

// Store is an in-memory jobstore.Store keyed by Document["_id"].
type Store struct {
	mu   sync.RWMutex
	docs map[string]jobstore.Document
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{docs: map[string]jobstore.Document{}}
}

func (s *Store) Connect(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) Update(ctx context.Context, doc jobstore.Document) error {
	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("memstore: document missing a string \"_id\"")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := jobstore.Document{}
	for k, v := range doc {
		cp[k] = v
	}
	s.docs[id] = cp
	return nil
}

func (s *Store) matches(doc jobstore.Document, f jobstore.Filter) bool {
	for k, want := range f.Equals {
		if doc[k] != want {
			return false
		}
	}
	return true
}

func (s *Store) Query(ctx context.Context, f jobstore.Filter) ([]jobstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []jobstore.Document
	for _, doc := range s.docs {
		if s.matches(doc, f) {
			out = append(out, doc)
		}
	}
	if f.SortByField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i][f.SortByField], out[j][f.SortByField]
			if f.SortDesc {
				return lessValue(b, a)
			}
			return lessValue(a, b)
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case int:
		bv, _ := b.(int)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	default:
		return fmt.Sprint(a) < fmt.Sprint(b)
	}
}

func (s *Store) QueryOne(ctx context.Context, f jobstore.Filter) (jobstore.Document, bool, error) {
	f.Limit = 1
	docs, err := s.Query(ctx, f)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (s *Store) Remove(ctx context.Context, f jobstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		if s.matches(doc, f) {
			delete(s.docs, id)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, f jobstore.Filter) (int, error) {
	docs, err := s.Query(ctx, jobstore.Filter{Equals: f.Equals})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Store) Distinct(ctx context.Context, field string, f jobstore.Filter) ([]any, error) {
	docs, err := s.Query(ctx, jobstore.Filter{Equals: f.Equals})
	if err != nil {
		return nil, err
	}
	seen := map[any]bool{}
	var out []any
	for _, doc := range docs {
		v := doc[field]
		key := fmt.Sprint(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out, nil
}
