//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"example.com/treniren/internal/domain"
)

func TestRepositoryRoundTripAndOwnership(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("treniren"),
		postgrescontainer.WithUsername("treniren"),
		postgrescontainer.WithPassword("treniren"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))

	repo := NewRepository(pool)
	sets := 5
	now := time.Now().UTC().Truncate(time.Microsecond)
	w := domain.RemoteWorkout{
		ID:     uuid.NewString(),
		UserID: "user-1",
		WorkoutInput: domain.WorkoutInput{
			Type:      "BOULDERING",
			StartTime: now.Add(-time.Hour),
			Details:   json.RawMessage(`{"grade":"6b"}`),
			Exercises: []domain.ExerciseEntry{{Name: "Hangboard", Sets: &sets}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, w))

	stored, err := repo.Get(ctx, "user-1", w.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "BOULDERING", stored.Type)
	require.JSONEq(t, `{"grade":"6b"}`, string(stored.Details))
	require.Len(t, stored.Exercises, 1)
	require.Equal(t, 5, *stored.Exercises[0].Sets)

	other, err := repo.Get(ctx, "user-2", w.ID)
	require.NoError(t, err)
	require.Nil(t, other)

	w.Notes = "felt strong"
	w.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, w))
	list, next, err := repo.ListByUser(ctx, "user-1", nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, list, 1)
	require.Equal(t, "felt strong", list[0].Notes)

	require.ErrorIs(t, repo.Delete(ctx, "user-2", w.ID), domain.ErrWorkoutNotFound)
	require.NoError(t, repo.Delete(ctx, "user-1", w.ID))
	require.ErrorIs(t, repo.Delete(ctx, "user-1", w.ID), domain.ErrWorkoutNotFound)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
