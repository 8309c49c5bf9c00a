// Package postgres provides Postgres-backed persistence for the workout API.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/observability"
)

//go:embed schema.sql
var schemaSQL string

const selectColumns = `workout_id, user_id, workout_type, start_time, end_time, training_volume, details,
        pre_session_feel, notes, exercises, created_at, updated_at`

// Repository provides Postgres-backed persistence for workouts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the workout tables when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create implements domain.WorkoutRepository.
func (r *Repository) Create(ctx context.Context, w domain.RemoteWorkout) error {
	exercises, err := encodeExercises(w.Exercises)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO workouts (workout_id, user_id, workout_type, start_time, end_time, training_volume, details,
        pre_session_feel, notes, exercises, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err = r.pool.Exec(ctx, stmt,
		w.ID,
		w.UserID,
		w.Type,
		w.StartTime,
		w.EndTime,
		nullIfEmpty(w.TrainingVolume),
		nullIfEmptyJSON(w.Details),
		w.PreSessionFeel,
		nullIfEmpty(w.Notes),
		exercises,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	observability.RecordWorkoutPersisted(w.UpdatedAt)
	return nil
}

// Update implements domain.WorkoutRepository.
func (r *Repository) Update(ctx context.Context, w domain.RemoteWorkout) error {
	exercises, err := encodeExercises(w.Exercises)
	if err != nil {
		return err
	}

	const stmt = `UPDATE workouts SET workout_type=$3, start_time=$4, end_time=$5, training_volume=$6, details=$7,
        pre_session_feel=$8, notes=$9, exercises=$10, updated_at=$11
        WHERE workout_id=$1 AND user_id=$2`

	tag, err := r.pool.Exec(ctx, stmt,
		w.ID,
		w.UserID,
		w.Type,
		w.StartTime,
		w.EndTime,
		nullIfEmpty(w.TrainingVolume),
		nullIfEmptyJSON(w.Details),
		w.PreSessionFeel,
		nullIfEmpty(w.Notes),
		exercises,
		w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkoutNotFound
	}
	observability.RecordWorkoutPersisted(w.UpdatedAt)
	return nil
}

// Delete implements domain.WorkoutRepository.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM workouts WHERE workout_id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkoutNotFound
	}
	return nil
}

// Get implements domain.WorkoutRepository. A missing workout yields (nil, nil).
func (r *Repository) Get(ctx context.Context, userID, id string) (*domain.RemoteWorkout, error) {
	query := `SELECT ` + selectColumns + ` FROM workouts WHERE workout_id=$1 AND user_id=$2`
	w, err := scanWorkout(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// ListByUser implements domain.WorkoutRepository, newest start time first.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.RemoteWorkout, *domain.Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []interface{}{userID, limit}
	query := `SELECT ` + selectColumns + ` FROM workouts WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (start_time, workout_id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}

	query += ` ORDER BY start_time DESC, workout_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	out := make([]domain.RemoteWorkout, 0, limit)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return out, next, nil
}

func scanWorkout(row pgx.Row) (*domain.RemoteWorkout, error) {
	var (
		w         domain.RemoteWorkout
		volume    *string
		notes     *string
		details   []byte
		exercises []byte
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Type, &w.StartTime, &w.EndTime, &volume, &details,
		&w.PreSessionFeel, &notes, &exercises, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if volume != nil {
		w.TrainingVolume = *volume
	}
	if notes != nil {
		w.Notes = *notes
	}
	if len(details) > 0 {
		w.Details = json.RawMessage(details)
	}
	if len(exercises) > 0 {
		if err := json.Unmarshal(exercises, &w.Exercises); err != nil {
			return nil, fmt.Errorf("decode exercises: %w", err)
		}
		if len(w.Exercises) == 0 {
			w.Exercises = nil
		}
	}
	return &w, nil
}

func encodeExercises(entries []domain.ExerciseEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.ExerciseEntry{}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode exercises: %w", err)
	}
	return body, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfEmptyJSON(value json.RawMessage) interface{} {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
