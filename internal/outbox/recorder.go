// Package outbox persists sync lifecycle events and delivers them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types recorded over a sync run's lifecycle.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// Event is one sync lifecycle notification.
type Event struct {
	Type       string
	AthleteID  string
	Processed  int
	Total      *int
	OccurredAt time.Time
	Reason     string
}

type eventPayload struct {
	AthleteID  string    `json:"athlete_id"`
	Processed  int       `json:"processed"`
	Total      *int      `json:"total,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}

// Recorder appends events to the outbox table. Writes go through the same
// pool as the rest of the persistence layer so an event is durable the
// moment the caller's operation is.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder constructs a Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record appends one event. The dispatcher picks it up on its next poll.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(eventPayload{
		AthleteID:  event.AthleteID,
		Processed:  event.Processed,
		Total:      event.Total,
		OccurredAt: event.OccurredAt.UTC(),
		Reason:     event.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	const stmt = `INSERT INTO outbox (event_type, athlete_id, payload) VALUES ($1, $2, $3)`
	if _, err := r.pool.Exec(ctx, stmt, event.Type, event.AthleteID, payload); err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}
