package badgerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpetretto/jobflow/pkg/jobstore"
)

func TestUpdateQueryRemove(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "main")
	s := New(dir, false)
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	require.NoError(t, s.Update(ctx, jobstore.Document{"_id": "a#1", "uuid": "a", "index": 1, "output": 6.0}))
	require.NoError(t, s.Update(ctx, jobstore.Document{"_id": "a#2", "uuid": "a", "index": 2, "output": 9.0}))

	docs, err := s.Query(ctx, jobstore.Filter{Equals: map[string]any{"uuid": "a"}, SortByField: "index", SortDesc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 9.0, docs[0]["output"])

	n, err := s.Count(ctx, jobstore.Filter{Equals: map[string]any{"uuid": "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Remove(ctx, jobstore.Filter{Equals: map[string]any{"_id": "a#1"}}))
	_, found, err := s.QueryOne(ctx, jobstore.Filter{Equals: map[string]any{"_id": "a#1"}})
	require.NoError(t, err)
	assert.False(t, found, "expected record a#1 to be gone after Remove")
}
