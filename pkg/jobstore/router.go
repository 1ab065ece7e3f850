package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gpetretto/jobflow/internal/jferrors"
	"github.com/gpetretto/jobflow/pkg/ref"
)

// Router is the JobStore spec.md describes: one main Store plus a set of
// named auxiliary Stores that output-key routing (store_names) can send
// individual output fields to.
type Router struct {
	Main Store
	Aux  map[string]Store
}

// NewRouter returns a Router with no auxiliary stores registered.
func NewRouter(main Store) *Router {
	return &Router{Main: main, Aux: map[string]Store{}}
}

// WithAux registers an auxiliary store under name and returns the Router
// for chaining.
func (r *Router) WithAux(name string, s Store) *Router {
	r.Aux[name] = s
	return r
}

func recordID(jobUUID string, index int) string {
	return fmt.Sprintf("%s#%d", jobUUID, index)
}

// Save persists one (uuid, index) record: output is routed through
// store_names for any top-level key matching a named auxiliary store
// (exact-key match — no glob or prefix grammar), then the record (with any
// routed keys replaced by blob markers) is upserted into the main store.
func (r *Router) Save(ctx context.Context, jobUUID string, index int, output any, storedData any, name string, metadata map[string]any, hosts []string, storeNames map[string]string) error {
	tree, err := ref.EncodeTree(output)
	if err != nil {
		return jferrors.NewSerializationError(output, err)
	}
	routed, err := r.routeBlobs(ctx, tree, storeNames)
	if err != nil {
		return err
	}
	storedTree, err := ref.EncodeTree(storedData)
	if err != nil {
		return jferrors.NewSerializationError(storedData, err)
	}
	doc := Document{
		"_id":          recordID(jobUUID, index),
		"uuid":         jobUUID,
		"index":        index,
		"output":       routed,
		"stored_data":  storedTree,
		"name":         name,
		"metadata":     metadata,
		"hosts":        hosts,
		"completed_at": time.Now(),
	}
	if err := r.Main.Connect(ctx); err != nil {
		return fmt.Errorf("jobstore: connect main store: %w", err)
	}
	if err := r.Main.Update(ctx, doc); err != nil {
		return fmt.Errorf("jobstore: save record %s: %w", doc["_id"], err)
	}
	return nil
}

func (r *Router) routeBlobs(ctx context.Context, tree any, storeNames map[string]string) (any, error) {
	m, ok := tree.(map[string]any)
	if !ok || len(storeNames) == 0 {
		return tree, nil
	}
	out := map[string]any{}
	for k, v := range m {
		storeName, matched := storeNames[k]
		if !matched {
			out[k] = v
			continue
		}
		aux, ok := r.Aux[storeName]
		if !ok {
			return nil, fmt.Errorf("jobstore: output key %q routes to unknown auxiliary store %q", k, storeName)
		}
		if err := aux.Connect(ctx); err != nil {
			return nil, fmt.Errorf("jobstore: connect auxiliary store %q: %w", storeName, err)
		}
		blobUUID := uuid.NewString()
		if err := aux.Update(ctx, Document{"_id": blobUUID, "value": v}); err != nil {
			return nil, fmt.Errorf("jobstore: save blob for key %q in store %q: %w", k, storeName, err)
		}
		out[k] = blobMarker(storeName, blobUUID)
	}
	return out, nil
}

func blobMarker(storeName, blobUUID string) map[string]any {
	return map[string]any{"@class": "Blob", "store": storeName, "blob_uuid": blobUUID}
}

func isBlobMarker(v any) (storeName, blobUUID string, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return "", "", false
	}
	if cls, _ := m["@class"].(string); cls != "Blob" {
		return "", "", false
	}
	storeName, _ = m["store"].(string)
	blobUUID, _ = m["blob_uuid"].(string)
	return storeName, blobUUID, true
}

// GetOutput returns the output recorded for jobUUID. When index is nil the
// highest known index is returned (the documented default). When load is
// true, blob markers are expanded by fetching from their auxiliary store,
// restricted to loadStores when it is non-nil; the result is then run
// through ref.DecodeTree to hydrate any typed objects nested in the output.
func (r *Router) GetOutput(ctx context.Context, jobUUID string, index *int, load bool, loadStores []string) (any, error) {
	if err := r.Main.Connect(ctx); err != nil {
		return nil, fmt.Errorf("jobstore: connect main store: %w", err)
	}
	f := Filter{Equals: map[string]any{"uuid": jobUUID}, SortByField: "index", SortDesc: true, Limit: 1}
	if index != nil {
		f.Equals["index"] = *index
	}
	docs, err := r.Main.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("jobstore: query main store for %s: %w", jobUUID, err)
	}
	if len(docs) == 0 {
		return nil, jferrors.NewOutputNotFoundError(jobUUID, indexOrZero(index))
	}
	tree := docs[0]["output"]
	if !load {
		return tree, nil
	}
	expanded, err := r.expandBlobs(ctx, tree, loadStores)
	if err != nil {
		return nil, err
	}
	return ref.DecodeTree(expanded)
}

func indexOrZero(index *int) int {
	if index == nil {
		return 0
	}
	return *index
}

// Resolve implements job.OutputGetter: GetOutput with full blob expansion,
// the shape a Job's input-reference resolution always wants.
func (r *Router) Resolve(ctx context.Context, jobUUID string, index *int) (any, error) {
	return r.GetOutput(ctx, jobUUID, index, true, nil)
}

func (r *Router) expandBlobs(ctx context.Context, tree any, loadStores []string) (any, error) {
	if storeName, blobUUID, ok := isBlobMarker(tree); ok {
		if loadStores != nil && !contains(loadStores, storeName) {
			return tree, nil
		}
		aux, ok := r.Aux[storeName]
		if !ok {
			return nil, fmt.Errorf("jobstore: no auxiliary store named %q", storeName)
		}
		if err := aux.Connect(ctx); err != nil {
			return nil, fmt.Errorf("jobstore: connect auxiliary store %q: %w", storeName, err)
		}
		doc, found, err := aux.QueryOne(ctx, Filter{Equals: map[string]any{"_id": blobUUID}})
		if err != nil {
			return nil, fmt.Errorf("jobstore: load blob %s from %q: %w", blobUUID, storeName, err)
		}
		if !found {
			return tree, nil // dangling marker: the blob was removed independently of its owning record
		}
		return doc["value"], nil
	}
	switch v := tree.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, vv := range v {
			ev, err := r.expandBlobs(ctx, vv, loadStores)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			ev, err := r.expandBlobs(ctx, vv, loadStores)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return tree, nil
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Remove deletes the record for (jobUUID, index) and any blobs it routed to
// auxiliary stores.
func (r *Router) Remove(ctx context.Context, jobUUID string, index int) error {
	id := recordID(jobUUID, index)
	doc, found, err := r.Main.QueryOne(ctx, Filter{Equals: map[string]any{"_id": id}})
	if err != nil {
		return fmt.Errorf("jobstore: query record %s: %w", id, err)
	}
	if !found {
		return nil
	}
	if err := r.removeBlobs(ctx, doc["output"]); err != nil {
		return err
	}
	if err := r.Main.Remove(ctx, Filter{Equals: map[string]any{"_id": id}}); err != nil {
		return fmt.Errorf("jobstore: remove record %s: %w", id, err)
	}
	return nil
}

func (r *Router) removeBlobs(ctx context.Context, tree any) error {
	if storeName, blobUUID, ok := isBlobMarker(tree); ok {
		aux, ok := r.Aux[storeName]
		if !ok {
			return nil
		}
		return aux.Remove(ctx, Filter{Equals: map[string]any{"_id": blobUUID}})
	}
	switch v := tree.(type) {
	case map[string]any:
		for _, vv := range v {
			if err := r.removeBlobs(ctx, vv); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range v {
			if err := r.removeBlobs(ctx, vv); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the main store and every auxiliary store.
func (r *Router) Close() error {
	var firstErr error
	if err := r.Main.Close(); err != nil {
		firstErr = err
	}
	for name, aux := range r.Aux {
		if err := aux.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("jobstore: closing auxiliary store %q: %w", name, err)
		}
	}
	return firstErr
}
