// Package events defines the workout event payloads and their Kafka publisher.
package events

import "time"

// Sync states reported in WorkoutStateChanged.
const (
	StatePending = "pending"
	StateSynced  = "synced"
	StateFailed  = "failed"
	StateDeleted = "deleted"
)

// WorkoutStateChanged tracks sync transitions of a locally recorded workout.
type WorkoutStateChanged struct {
	WorkoutID  string    `json:"workout_id"`
	ServerID   string    `json:"server_id,omitempty"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}

// WorkoutRecorded is emitted by the workout API when it accepts a workout.
type WorkoutRecorded struct {
	WorkoutID   string    `json:"workout_id"`
	UserID      string    `json:"user_id"`
	WorkoutType string    `json:"workout_type"`
	StartedAt   time.Time `json:"started_at"`
	Operation   string    `json:"operation"`
	RecordedAt  time.Time `json:"recorded_at"`
}
