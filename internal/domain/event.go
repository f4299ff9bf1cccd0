package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Recurrence classifies how a stored event fires.
type Recurrence string

const (
	RecurrenceOnce  Recurrence = "once"
	RecurrenceDaily Recurrence = "daily"
)

// Valid reports whether r is a known recurrence.
func (r Recurrence) Valid() bool {
	return r == RecurrenceOnce || r == RecurrenceDaily
}

// ParseRecurrence validates a raw recurrence value. Empty means once.
func ParseRecurrence(s string) (Recurrence, error) {
	if s == "" {
		return RecurrenceOnce, nil
	}
	r := Recurrence(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown recurrence %q", ErrValidation, s)
	}
	return r, nil
}

// StoredEvent is a user event kept in the local event collection.
type StoredEvent struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Date               time.Time  `json:"date"`
	Recurrence         Recurrence `json:"recurrence"`
	NotificationHandle *string    `json:"notificationHandle"`
}

// Expired reports whether a one-time event has already passed at now.
// Daily events never expire.
func (e StoredEvent) Expired(now time.Time) bool {
	return e.Recurrence == RecurrenceOnce && e.Date.Before(now)
}

// storedEventJSON accepts the legacy notificationId key as well.
type storedEventJSON struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Date               time.Time  `json:"date"`
	Recurrence         Recurrence `json:"recurrence"`
	NotificationHandle *string    `json:"notificationHandle"`
	NotificationID     *string    `json:"notificationId,omitempty"`
}

// UnmarshalJSON decodes a stored event and rejects records without an id
// or with an unknown recurrence.
func (e *StoredEvent) UnmarshalJSON(data []byte) error {
	var raw storedEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("stored event: missing id")
	}
	if raw.Recurrence == "" {
		raw.Recurrence = RecurrenceOnce
	}
	if !raw.Recurrence.Valid() {
		return fmt.Errorf("stored event %s: unknown recurrence %q", raw.ID, raw.Recurrence)
	}
	handle := raw.NotificationHandle
	if handle == nil {
		handle = raw.NotificationID
	}
	*e = StoredEvent{
		ID:                 raw.ID,
		Title:              raw.Title,
		Date:               raw.Date,
		Recurrence:         raw.Recurrence,
		NotificationHandle: handle,
	}
	return nil
}

// RemoteEvent is a candidate event from the recommendation feed.
type RemoteEvent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	Category    string    `json:"category"`
}
