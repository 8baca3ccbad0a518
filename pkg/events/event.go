package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

// Type identifies the kind of event.
type Type string

const (
	TypeTaskUpdate       Type = "task_update"
	TypeQueueStatsUpdate Type = "queue_stats_update"
)

// Event is a single state change notification.
type Event struct {
	Type      Type                     `json:"type"`
	Queue     string                   `json:"queue_name"`
	TaskID    *uuid.UUID               `json:"task_id,omitempty"`
	Update    *queue.TaskUpdate        `json:"update,omitempty"`
	Stats     map[queue.TaskStatus]int `json:"stats,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// Encode returns the JSON wire form of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an event from its JSON wire form.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.Join(ErrInvalidEvent, err)
	}
	switch e.Type {
	case TypeTaskUpdate, TypeQueueStatsUpdate:
		return e, nil
	default:
		return Event{}, errors.Join(ErrInvalidEvent, errors.New("unknown event type "+string(e.Type)))
	}
}
