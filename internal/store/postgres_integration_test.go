//go:build postgres_integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"orderbatch/internal/model"
)

// postgresDSN returns DATABASE_URL when set, otherwise starts a throwaway container.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("DATABASE_URL not set and docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "orderbatch",
			"POSTGRES_DB":       "orderbatch",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://postgres:orderbatch@%s:%s/orderbatch?sslmode=disable", host, port.Port())
}

func TestPostgresCommitBatch(t *testing.T) {
	p, err := NewPostgres(postgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	schema, err := os.ReadFile("../../db/schema.sql")
	require.NoError(t, err)
	_, err = p.db.ExecContext(ctx, string(schema))
	require.NoError(t, err)
	_, err = p.db.ExecContext(ctx, `TRUNCATE batch_orders, orders, batches`)
	require.NoError(t, err)

	res, err := p.InsertOrders(ctx, sampleOrders(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)

	require.NoError(t, p.CommitBatch(ctx, model.Batch{ID: "b1", Name: "Batch 1"}, []string{"ord-00", "ord-01"}))
	err = p.CommitBatch(ctx, model.Batch{ID: "b2", Name: "Batch 2"}, []string{"ord-01", "ord-02"})
	assert.ErrorIs(t, err, ErrConflict)

	unbatched, err := p.ListUnbatchedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, unbatched, 1)
	assert.Equal(t, "ord-02", unbatched[0].ID)

	batches, err := p.ListBatches(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []string{"ord-00", "ord-01"}, batches[0].OrderIDs)
}
