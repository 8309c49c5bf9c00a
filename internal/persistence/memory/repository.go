// Package memory stores workouts in process memory for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/treniren/internal/domain"
)

// Repository implements domain.WorkoutRepository in memory.
type Repository struct {
	mu       sync.RWMutex
	workouts map[string]domain.RemoteWorkout
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{workouts: make(map[string]domain.RemoteWorkout)}
}

// Create implements domain.WorkoutRepository.
func (r *Repository) Create(_ context.Context, w domain.RemoteWorkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workouts[w.ID] = w
	return nil
}

// Update implements domain.WorkoutRepository.
func (r *Repository) Update(_ context.Context, w domain.RemoteWorkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.workouts[w.ID]
	if !ok || existing.UserID != w.UserID {
		return domain.ErrWorkoutNotFound
	}
	r.workouts[w.ID] = w
	return nil
}

// Delete implements domain.WorkoutRepository.
func (r *Repository) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.workouts[id]
	if !ok || existing.UserID != userID {
		return domain.ErrWorkoutNotFound
	}
	delete(r.workouts, id)
	return nil
}

// Get implements domain.WorkoutRepository. A missing workout yields (nil, nil).
func (r *Repository) Get(_ context.Context, userID, id string) (*domain.RemoteWorkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workouts[id]
	if !ok || w.UserID != userID {
		return nil, nil
	}
	return &w, nil
}

// ListByUser implements domain.WorkoutRepository, newest start time first.
func (r *Repository) ListByUser(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.RemoteWorkout, *domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RemoteWorkout, 0)
	for _, w := range r.workouts {
		if w.UserID == userID && (cursor == nil || before(w, *cursor)) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return out, next, nil
}

// before reports whether w sorts after the cursor position.
func before(w domain.RemoteWorkout, c domain.Cursor) bool {
	if w.StartTime.Equal(c.StartTime) {
		return w.ID < c.ID
	}
	return w.StartTime.Before(c.StartTime)
}
