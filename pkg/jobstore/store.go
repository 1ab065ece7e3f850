// Package jobstore implements jobflow's JobStore: a router over one main
// Store plus any number of named auxiliary Stores, each satisfying the same
// small capability set spec.md describes for an underlying store.
package jobstore

import "context"

// Document is a flat, JSON-tree-shaped record. Both the main store and
// every auxiliary store trade in Documents — the main store's documents
// carry job-record fields (uuid, index, output, ...), an auxiliary store's
// documents carry a single blob ("_id", "value"). "_id" is the primary key
// every concrete Store implementation indexes on.
type Document map[string]any

// Filter is a small equality-only query: every key in Equals must match the
// corresponding document field. This mirrors badgerhold's
// Where("Field").And("Field").Eq(...) chains closely enough that the
// badgerhold-backed Store can translate it directly, while staying trivial
// for an in-memory linear scan.
type Filter struct {
	Equals      map[string]any
	SortByField string
	SortDesc    bool
	Limit       int
}

// Store is the capability set spec.md §4.2 requires of an underlying store:
// connect, close, query (a filtered, optionally sorted/limited sequence),
// query_one, update (upsert keyed by "_id"), remove, count, and distinct.
type Store interface {
	Connect(ctx context.Context) error
	Close() error
	Query(ctx context.Context, f Filter) ([]Document, error)
	QueryOne(ctx context.Context, f Filter) (Document, bool, error)
	Update(ctx context.Context, doc Document) error
	Remove(ctx context.Context, f Filter) error
	Count(ctx context.Context, f Filter) (int, error)
	Distinct(ctx context.Context, field string, f Filter) ([]any, error)
}
