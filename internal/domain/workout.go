// Package domain defines the workout records shared by the offline store, the sync
// reconciler and the reference workout API.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OfflineIDPrefix marks identifiers generated on the client before the server saw the record.
const OfflineIDPrefix = "offline_"

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	// ErrWorkoutNotFound is returned when a workout cannot be located.
	ErrWorkoutNotFound = errors.New("workout not found")
	// ErrInvalidWorkout is returned when a workout payload is missing required fields.
	ErrInvalidWorkout = errors.New("invalid workout")
)

// ExerciseEntry is an exercise performed in a workout, denormalized by name and category at write time.
type ExerciseEntry struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Sets     *int     `json:"sets,omitempty"`
	Reps     *int     `json:"reps,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// Workout is a workout record as held in client storage. The same shape is used for
// sync queue entries; queue membership alone signals that a record still needs replay.
type Workout struct {
	ID             string          `json:"id"`
	ServerID       string          `json:"serverId,omitempty"`
	Type           string          `json:"type"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	TrainingVolume string          `json:"trainingVolume,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	PreSessionFeel *int            `json:"preSessionFeel,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Exercises      []ExerciseEntry `json:"exercises,omitempty"`
	Synced         bool            `json:"synced"`
	Deleted        bool            `json:"deleted,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// WorkoutInput captures the user-supplied part of a workout. It is also the body of
// create and update requests to the workout API.
type WorkoutInput struct {
	Type           string          `json:"type"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	TrainingVolume string          `json:"trainingVolume,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	PreSessionFeel *int            `json:"preSessionFeel,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Exercises      []ExerciseEntry `json:"exercises,omitempty"`
}

// RemoteWorkout is a workout as held by the workout API.
type RemoteWorkout struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	WorkoutInput
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate ensures the fields every workout needs are present.
func (in WorkoutInput) Validate() error {
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidWorkout)
	}
	if in.StartTime.IsZero() {
		return fmt.Errorf("%w: startTime is required", ErrInvalidWorkout)
	}
	if in.EndTime != nil && in.EndTime.Before(in.StartTime) {
		return fmt.Errorf("%w: endTime before startTime", ErrInvalidWorkout)
	}
	if len(in.Details) > 0 && !json.Valid(in.Details) {
		return fmt.Errorf("%w: details must be valid JSON", ErrInvalidWorkout)
	}
	return nil
}

// NewOfflineWorkout builds an unsynced record with a client-generated id.
func NewOfflineWorkout(in WorkoutInput, now time.Time) (Workout, error) {
	if err := in.Validate(); err != nil {
		return Workout{}, err
	}
	return Workout{
		ID:             NewOfflineID(now),
		Type:           in.Type,
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime,
		TrainingVolume: in.TrainingVolume,
		Details:        in.Details,
		PreSessionFeel: in.PreSessionFeel,
		Notes:          in.Notes,
		Exercises:      in.Exercises,
		Synced:         false,
		CreatedAt:      now.UTC(),
	}, nil
}

// NewOfflineID returns an identifier of the form offline_<unix millis>_<9 base36 chars>.
func NewOfflineID(now time.Time) string {
	random := uuid.New()
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36[int(random[i])%len(base36)]
	}
	return fmt.Sprintf("%s%d_%s", OfflineIDPrefix, now.UnixMilli(), suffix)
}

// IsOfflineID reports whether id was generated locally rather than assigned by the server.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

// RemoteID returns the server-side identifier for the workout, or "" when the
// server has never accepted it.
func (w Workout) RemoteID() string {
	if w.ServerID != "" {
		return w.ServerID
	}
	if w.ID != "" && !IsOfflineID(w.ID) {
		return w.ID
	}
	return ""
}

// Input strips client bookkeeping fields from the workout.
func (w Workout) Input() WorkoutInput {
	return WorkoutInput{
		Type:           w.Type,
		StartTime:      w.StartTime,
		EndTime:        w.EndTime,
		TrainingVolume: w.TrainingVolume,
		Details:        w.Details,
		PreSessionFeel: w.PreSessionFeel,
		Notes:          w.Notes,
		Exercises:      w.Exercises,
	}
}
