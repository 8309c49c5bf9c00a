package events

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/domain"
)

// WorkoutSink publishes WorkoutRecorded events for changes accepted by the workout API.
// Publication failures are logged; the write has already been committed.
type WorkoutSink struct {
	pub    Publisher
	topic  string
	logger *log.Logger
	now    func() time.Time
}

// NewWorkoutSink builds a domain.EventSink that writes to topic.
func NewWorkoutSink(pub Publisher, topic string, logger *log.Logger) *WorkoutSink {
	if logger == nil {
		logger = log.Default()
	}
	return &WorkoutSink{pub: pub, topic: topic, logger: logger, now: time.Now}
}

// WorkoutChanged implements domain.EventSink.
func (s *WorkoutSink) WorkoutChanged(ctx context.Context, w domain.RemoteWorkout, operation string) {
	evt := WorkoutRecorded{
		WorkoutID:   w.ID,
		UserID:      w.UserID,
		WorkoutType: w.Type,
		StartedAt:   w.StartTime,
		Operation:   operation,
		RecordedAt:  s.now().UTC(),
	}
	if err := s.pub.Publish(ctx, s.topic, w.ID, evt); err != nil {
		s.logger.Warn("workout event not published", "workout_id", w.ID, "operation", operation, "err", err)
	}
}
