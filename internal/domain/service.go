package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkoutRepository captures persistence operations of the workout API.
type WorkoutRepository interface {
	Create(ctx context.Context, w RemoteWorkout) error
	Update(ctx context.Context, w RemoteWorkout) error
	Delete(ctx context.Context, userID, id string) error
	Get(ctx context.Context, userID, id string) (*RemoteWorkout, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]RemoteWorkout, *Cursor, error)
}

// Cursor marks the last workout of a page, ordered by start time then id, both descending.
type Cursor struct {
	StartTime time.Time
	ID        string
}

// EventSink is notified after a workout change has been persisted.
type EventSink interface {
	WorkoutChanged(ctx context.Context, w RemoteWorkout, operation string)
}

// Operations reported to an EventSink.
const (
	OperationCreated = "created"
	OperationUpdated = "updated"
	OperationDeleted = "deleted"
)

type noopSink struct{}

func (noopSink) WorkoutChanged(context.Context, RemoteWorkout, string) {}

// Service orchestrates workout workflows for the API.
type Service struct {
	repo WorkoutRepository
	sink EventSink
	now  func() time.Time
}

// NewService constructs a Service. sink may be nil.
func NewService(repo WorkoutRepository, sink EventSink) *Service {
	if sink == nil {
		sink = noopSink{}
	}
	return &Service{repo: repo, sink: sink, now: time.Now}
}

// CreateWorkout validates and stores a new workout with a server-assigned id.
func (s *Service) CreateWorkout(ctx context.Context, userID string, in WorkoutInput) (*RemoteWorkout, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	w := RemoteWorkout{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorkoutInput: normalize(in),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	s.sink.WorkoutChanged(ctx, w, OperationCreated)
	return &w, nil
}

// UpdateWorkout replaces the user-supplied fields of an existing workout.
func (s *Service) UpdateWorkout(ctx context.Context, userID, id string, in WorkoutInput) (*RemoteWorkout, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.GetWorkout(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	existing.WorkoutInput = normalize(in)
	existing.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, *existing); err != nil {
		return nil, err
	}
	s.sink.WorkoutChanged(ctx, *existing, OperationUpdated)
	return existing, nil
}

// DeleteWorkout removes a workout. Unknown ids yield ErrWorkoutNotFound.
func (s *Service) DeleteWorkout(ctx context.Context, userID, id string) error {
	existing, err := s.GetWorkout(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.sink.WorkoutChanged(ctx, *existing, OperationDeleted)
	return nil
}

// GetWorkout fetches by id.
func (s *Service) GetWorkout(ctx context.Context, userID, id string) (*RemoteWorkout, error) {
	w, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWorkoutNotFound
	}
	return w, nil
}

// ListWorkouts returns a page of the user's workouts, newest first, and the cursor of
// the next page when one may exist.
func (s *Service) ListWorkouts(ctx context.Context, userID string, cursor *Cursor, limit int) ([]RemoteWorkout, *Cursor, error) {
	return s.repo.ListByUser(ctx, userID, cursor, limit)
}

func normalize(in WorkoutInput) WorkoutInput {
	in.StartTime = in.StartTime.UTC()
	if in.EndTime != nil {
		end := in.EndTime.UTC()
		in.EndTime = &end
	}
	return in
}
