package tasks

import (
	"encoding/json"
	"time"
)

// EventKind names a committed transition.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventCompleted EventKind = "completed"
	EventDeleted   EventKind = "deleted"
	EventUpdated   EventKind = "updated"
)

// Event is the notification payload. Title and Priority are set for
// EventCreated only.
type Event struct {
	Kind     EventKind `json:"kind"`
	ID       ID        `json:"id"`
	Title    string    `json:"title,omitempty"`
	Priority int       `json:"priority,omitempty"`
	At       time.Time `json:"at"`
}

// Created builds a creation event.
func Created(id ID, title string, priority int) Event {
	return Event{Kind: EventCreated, ID: id, Title: title, Priority: priority}
}

// Completed builds a completion event.
func Completed(id ID) Event {
	return Event{Kind: EventCompleted, ID: id}
}

// Deleted builds a deletion event.
func Deleted(id ID) Event {
	return Event{Kind: EventDeleted, ID: id}
}

// Updated builds an update event.
func Updated(id ID) Event {
	return Event{Kind: EventUpdated, ID: id}
}

// Marshal serializes the event to JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
