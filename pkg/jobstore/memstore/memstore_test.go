package memstore

import (
	"context"
	"testing"

	"github.com/gpetretto/jobflow/pkg/jobstore"
)

func TestUpdateQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Update(ctx, jobstore.Document{"_id": "a#1", "uuid": "a", "index": 1, "output": 6}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, jobstore.Document{"_id": "a#2", "uuid": "a", "index": 2, "output": 9}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	docs, err := s.Query(ctx, jobstore.Filter{Equals: map[string]any{"uuid": "a"}, SortByField: "index", SortDesc: true, Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0]["output"] != 9 {
		t.Fatalf("expected highest-index record with output 9, got %#v", docs)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Update(ctx, jobstore.Document{"_id": "a#1", "uuid": "a"})
	if err := s.Remove(ctx, jobstore.Filter{Equals: map[string]any{"_id": "a#1"}}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, found, err := s.QueryOne(ctx, jobstore.Filter{Equals: map[string]any{"_id": "a#1"}})
	if err != nil {
		t.Fatalf("QueryOne: %v", err)
	}
	if found {
		t.Fatal("expected record to be gone after Remove")
	}
}

func TestCountAndDistinct(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Update(ctx, jobstore.Document{"_id": "a#1", "uuid": "a", "name": "fetch"})
	_ = s.Update(ctx, jobstore.Document{"_id": "b#1", "uuid": "b", "name": "fetch"})
	_ = s.Update(ctx, jobstore.Document{"_id": "c#1", "uuid": "c", "name": "sum"})

	count, err := s.Count(ctx, jobstore.Filter{})
	if err != nil || count != 3 {
		t.Fatalf("Count = %d, %v, want 3, nil", count, err)
	}
	names, err := s.Distinct(ctx, "name", jobstore.Filter{})
	if err != nil || len(names) != 2 {
		t.Fatalf("Distinct = %v, %v, want 2 distinct names", names, err)
	}
}
