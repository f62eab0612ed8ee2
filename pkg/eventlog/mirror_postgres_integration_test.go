//go:build integration

package eventlog_test

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"go-eventbook/pkg/eventlog"
)

// TestPostgresMirrorRoundTrip spins up a real Postgres container, writes
// events through the mirror, and confirms LoadAll rehydrates them in
// (timestamp, version) order. Run with `go test -tags integration ./...`.
func TestPostgresMirrorRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "eventbook",
				"POSTGRES_PASSWORD": "eventbook",
				"POSTGRES_DB":       "eventbook",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://eventbook:eventbook@" + host + ":" + port.Port() + "/eventbook?sslmode=disable"
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	mirror, err := eventlog.NewPostgresMirror(ctx, pool, log.Default())
	require.NoError(t, err)

	store := eventlog.WithPostgresMirror(eventlog.NewInMemoryEventStore(), mirror, log.Default())

	e1, err := eventlog.NewBuilder().Kind("DocumentCreated").AggregateID("d").Build(1)
	require.NoError(t, err)
	require.NoError(t, store.Append(e1))

	e2, err := eventlog.NewBuilder().Kind("DocumentTitleUpdated").AggregateID("d").Build(2)
	require.NoError(t, err)
	require.NoError(t, store.Append(e2))

	// The mirror write is asynchronous; give it a moment to land.
	require.Eventually(t, func() bool {
		loaded, err := mirror.LoadAll(ctx)
		return err == nil && len(loaded) == 2
	}, 5*time.Second, 100*time.Millisecond)

	loaded, err := mirror.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, e1.ID, loaded[0].ID)
	require.Equal(t, e2.ID, loaded[1].ID)
}
