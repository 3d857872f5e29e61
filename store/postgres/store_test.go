package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"goa.design/orchestra/store"
	"goa.design/orchestra/store/postgres"
)

// TestBackend_PutGetList spins up a real Postgres container and exercises
// the memory.nodes schema end to end, matching the teacher's own use of
// testcontainers-go for its mongo feature tests. Skipped in short mode
// since it requires a container runtime.
func TestBackend_PutGetList(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a container runtime")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("orchestrator"),
		tcpostgres.WithUsername("orchestrator"),
		tcpostgres.WithPassword("orchestrator"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	backend, err := postgres.Open(ctx, postgres.Config{DSN: dsn, PoolSize: 5})
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	ns := store.Namespace{"memory", "user-1"}
	require.NoError(t, backend.Put(ctx, ns, "SimpleMemory", []byte(`{"accounts":[{"name":"Acme"}]}`)))

	got, err := backend.Get(ctx, ns, "SimpleMemory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":[{"name":"Acme"}]}`, string(got))

	require.NoError(t, backend.Put(ctx, ns, "SimpleMemory", []byte(`{"accounts":[{"name":"Acme","id":"001"}]}`)))
	records, err := backend.List(ctx, ns)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, backend.Delete(ctx, ns, "SimpleMemory"))
	_, err = backend.Get(ctx, ns, "SimpleMemory")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
