package sqlitekv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/store"
	"goa.design/orchestra/store/sqlitekv"
)

func TestBackend_PutGetList(t *testing.T) {
	dir := t.TempDir()
	backend, err := sqlitekv.Open(filepath.Join(dir, "orchestrator.db"))
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	ns := store.Namespace{"memory", "user-1"}

	require.NoError(t, backend.Put(ctx, ns, "SimpleMemory", []byte(`{"accounts":[]}`)))
	got, err := backend.Get(ctx, ns, "SimpleMemory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":[]}`, string(got))

	require.NoError(t, backend.Put(ctx, ns, "other", []byte("x")))
	records, err := backend.List(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, backend.Delete(ctx, ns, "other"))
	records, err = backend.List(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBackend_GetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	backend, err := sqlitekv.Open(filepath.Join(dir, "orchestrator.db"))
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	_, err = backend.Get(context.Background(), store.Namespace{"memory", "user-1"}, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackend_PutUpsertsExistingKey(t *testing.T) {
	dir := t.TempDir()
	backend, err := sqlitekv.Open(filepath.Join(dir, "orchestrator.db"))
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	ns := store.Namespace{"memory", "user-1"}
	require.NoError(t, backend.Put(ctx, ns, "k", []byte("v1")))
	require.NoError(t, backend.Put(ctx, ns, "k", []byte("v2")))

	got, err := backend.Get(ctx, ns, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}
