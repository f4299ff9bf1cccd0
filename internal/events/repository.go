// Package events manages the locally stored event collection: creation,
// listing with expiry pruning, idempotent enrollment and reminder scheduling.
package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/store"
)

// ReminderScheduler is the subset of notify.Scheduler the repository needs.
type ReminderScheduler interface {
	Schedule(ctx context.Context, title string, date time.Time, recurrence domain.Recurrence) (string, error)
	Cancel(ctx context.Context, handle string) error
}

// ReminderError reports that an event was saved but its reminder could
// not be registered. It is a warning, never a reason to drop the event.
type ReminderError struct {
	EventID string
	Err     error
}

func (e *ReminderError) Error() string {
	return fmt.Sprintf("reminder for event %s not scheduled: %v", e.EventID, e.Err)
}

func (e *ReminderError) Unwrap() error { return e.Err }

// Observer is notified about repository activity. Used for metrics.
type Observer interface {
	EventCreated(recurrence domain.Recurrence)
	EventsPruned(n int)
	Enrolled(created bool)
}

// Repository is the read-modify-write layer over the persisted event list.
// A single Repository serializes its own mutations; two repositories over
// the same store are last-writer-wins.
type Repository struct {
	store     store.Store
	scheduler ReminderScheduler
	observer  Observer
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a Repository.
type Option func(*Repository)

// WithScheduler attaches a reminder scheduler used by AddEvent and Resync.
func WithScheduler(s ReminderScheduler) Option {
	return func(r *Repository) { r.scheduler = s }
}

// WithObserver attaches an activity observer.
func WithObserver(o Observer) Option {
	return func(r *Repository) { r.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a Repository over s.
func NewRepository(s store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:   s,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadEvents returns the live events in storage order. Expired one-time
// events and undecodable entries are dropped and, if anything was dropped,
// the pruned collection is written back.
//
// On a read failure the result is empty and the error wraps ErrStorage.
func (r *Repository) LoadEvents(ctx context.Context) ([]domain.StoredEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, _, err := r.loadLocked(ctx)
	return events, err
}

// Prune runs the expiry pass and returns how many entries were dropped.
func (r *Repository) Prune(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, dropped, err := r.loadLocked(ctx)
	return dropped, err
}

func (r *Repository) loadLocked(ctx context.Context) ([]domain.StoredEvent, int, error) {
	raw, err := r.readRaw(ctx)
	if err != nil {
		return []domain.StoredEvent{}, 0, err
	}

	now := r.now()
	live := make([]domain.StoredEvent, 0, len(raw))
	for i, msg := range raw {
		var ev domain.StoredEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			slog.Warn("Dropping undecodable stored event", "index", i, "error", err)
			continue
		}
		if ev.Expired(now) {
			continue
		}
		live = append(live, ev)
	}

	dropped := len(raw) - len(live)
	if dropped == 0 {
		return live, 0, nil
	}

	slog.Info("Pruned stored events", "dropped", dropped, "remaining", len(live))
	if r.observer != nil {
		r.observer.EventsPruned(dropped)
	}
	if err := r.writeLocked(ctx, live); err != nil {
		return live, dropped, err
	}
	return live, dropped, nil
}

// AddEvent creates, schedules and persists a new event.
//
// A blank title returns ErrEmptyTitle without touching storage. A failed
// reminder registration saves the event without a handle and returns the
// record with a *ReminderError. A failed read or write returns the record
// with an ErrStorage error and leaves no reminder registered.
func (r *Repository) AddEvent(ctx context.Context, title string, date time.Time, recurrence domain.Recurrence) (domain.StoredEvent, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.StoredEvent{}, domain.ErrEmptyTitle
	}
	if !recurrence.Valid() {
		return domain.StoredEvent{}, fmt.Errorf("%w: unknown recurrence %q", domain.ErrValidation, recurrence)
	}
	if date.IsZero() {
		return domain.StoredEvent{}, fmt.Errorf("%w: event date is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readEvents(ctx)
	ev := domain.StoredEvent{
		ID:         r.newIDLocked(existing),
		Title:      title,
		Date:       date.UTC(),
		Recurrence: recurrence,
	}
	if err != nil {
		// Do not overwrite a collection we could not read.
		slog.Warn("Event not added, collection unreadable", "error", err)
		return ev, err
	}

	reminderErr := r.attachReminder(ctx, &ev)

	if err := r.writeLocked(ctx, append(existing, ev)); err != nil {
		r.detachReminder(ctx, &ev)
		return ev, errors.Join(err, reminderErr)
	}
	if r.observer != nil {
		r.observer.EventCreated(ev.Recurrence)
	}
	slog.Info("Event added", "id", ev.ID, "recurrence", ev.Recurrence, "scheduled", ev.NotificationHandle != nil)
	if reminderErr != nil {
		return ev, reminderErr
	}
	return ev, nil
}

// Enroll adds a recommended event to the local collection. Calling it again
// with the same remote id returns the stored record without writing;
// created reports whether a new record was appended.
func (r *Repository) Enroll(ctx context.Context, remote domain.RemoteEvent) (domain.StoredEvent, bool, error) {
	if strings.TrimSpace(remote.ID) == "" {
		return domain.StoredEvent{}, false, fmt.Errorf("%w: remote event id is empty", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readEvents(ctx)
	if err != nil {
		return domain.StoredEvent{}, false, err
	}
	for _, ev := range existing {
		if ev.ID == remote.ID {
			if r.observer != nil {
				r.observer.Enrolled(false)
			}
			return ev, false, nil
		}
	}

	ev := domain.StoredEvent{
		ID:         remote.ID,
		Title:      strings.TrimSpace(remote.Name),
		Date:       remote.StartDate.UTC(),
		Recurrence: domain.RecurrenceOnce,
	}
	if err := r.writeLocked(ctx, append(existing, ev)); err != nil {
		return ev, false, err
	}
	if r.observer != nil {
		r.observer.Enrolled(true)
	}
	slog.Info("Enrolled in event", "id", ev.ID, "title", ev.Title)
	return ev, true, nil
}

// EnrolledIDs returns the ids currently in the collection.
func (r *Repository) EnrolledIDs(ctx context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readEvents(ctx)
	ids := make(map[string]struct{}, len(existing))
	for _, ev := range existing {
		ids[ev.ID] = struct{}{}
	}
	return ids, err
}

// Resync registers reminders for every live event again and stores the new
// handles. Reminders live in process memory, so this runs at daemon start.
func (r *Repository) Resync(ctx context.Context) (int, error) {
	if r.scheduler == nil {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live, _, err := r.loadLocked(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for i := range live {
		live[i].NotificationHandle = nil
		_ = r.attachReminder(ctx, &live[i])
		if live[i].NotificationHandle != nil {
			scheduled++
		}
	}
	if err := r.writeLocked(ctx, live); err != nil {
		return scheduled, err
	}
	slog.Info("Reminders resynced", "events", len(live), "scheduled", scheduled)
	return scheduled, nil
}

func (r *Repository) attachReminder(ctx context.Context, ev *domain.StoredEvent) error {
	if r.scheduler == nil {
		return nil
	}
	handle, err := r.scheduler.Schedule(ctx, ev.Title, ev.Date, ev.Recurrence)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPermissionDenied):
			slog.Info("Reminder skipped, notifications not permitted", "id", ev.ID)
		case errors.Is(err, domain.ErrTriggerInPast):
			slog.Info("Reminder skipped, time already passed", "id", ev.ID)
		default:
			slog.Warn("Reminder scheduling failed", "id", ev.ID, "error", err)
		}
		return &ReminderError{EventID: ev.ID, Err: err}
	}
	ev.NotificationHandle = &handle
	return nil
}

// detachReminder cancels the reminder of an event that was not persisted.
func (r *Repository) detachReminder(ctx context.Context, ev *domain.StoredEvent) {
	if r.scheduler == nil || ev.NotificationHandle == nil {
		return
	}
	if err := r.scheduler.Cancel(ctx, *ev.NotificationHandle); err != nil {
		slog.Warn("Failed to cancel orphaned reminder", "id", ev.ID, "error", err)
	}
	ev.NotificationHandle = nil
}

// readEvents decodes the collection, skipping entries that do not decode.
func (r *Repository) readEvents(ctx context.Context) ([]domain.StoredEvent, error) {
	raw, err := r.readRaw(ctx)
	if err != nil {
		return []domain.StoredEvent{}, err
	}
	out := make([]domain.StoredEvent, 0, len(raw))
	for _, msg := range raw {
		var ev domain.StoredEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Repository) readRaw(ctx context.Context) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	found, err := store.ReadJSON(ctx, r.store, store.KeyEvents, &raw)
	if err != nil {
		slog.Warn("Failed to read events", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !found {
		return nil, nil
	}
	return raw, nil
}

func (r *Repository) writeLocked(ctx context.Context, events []domain.StoredEvent) error {
	if events == nil {
		events = []domain.StoredEvent{}
	}
	if err := store.WriteJSON(ctx, r.store, store.KeyEvents, events); err != nil {
		slog.Warn("Failed to write events", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// newIDLocked returns a monotonic, time-ordered id not present in existing.
func (r *Repository) newIDLocked(existing []domain.StoredEvent) string {
	taken := make(map[string]struct{}, len(existing))
	for _, ev := range existing {
		taken[ev.ID] = struct{}{}
	}
	for {
		id := ulid.MustNew(ulid.Timestamp(r.now()), r.entropy).String()
		if _, dup := taken[id]; !dup {
			return id
		}
	}
}
