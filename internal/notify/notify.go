// Package notify maps stored events to local reminder triggers and delivers
// fired reminders.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/carecompanion/internal/domain"
)

// TriggerKind distinguishes one-shot from repeating triggers.
type TriggerKind string

const (
	TriggerOnce  TriggerKind = "once"
	TriggerDaily TriggerKind = "daily"
)

// Trigger describes when a reminder fires. At is used for one-shot
// triggers; Hour and Minute for daily ones.
type Trigger struct {
	Kind   TriggerKind
	At     time.Time
	Hour   int
	Minute int
}

// Content is what the reminder shows. Only the event title is displayed.
type Content struct {
	Title string
	Sound string
}

// Permission is the platform's answer to a notification permission request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Platform is the notification facility the scheduler drives.
type Platform interface {
	// Schedule registers a reminder and returns an opaque handle.
	Schedule(ctx context.Context, content Content, trigger Trigger) (string, error)

	// RequestPermission asks the user (or policy) for notification permission.
	RequestPermission(ctx context.Context) (Permission, error)

	// Cancel removes a previously scheduled reminder.
	Cancel(ctx context.Context, handle string) error
}

// TriggerFor builds the trigger for an event. Daily triggers keep only the
// hour and minute of date in loc.
func TriggerFor(date time.Time, recurrence domain.Recurrence, loc *time.Location) (Trigger, error) {
	if loc == nil {
		loc = time.Local
	}
	switch recurrence {
	case domain.RecurrenceOnce:
		return Trigger{Kind: TriggerOnce, At: date}, nil
	case domain.RecurrenceDaily:
		local := date.In(loc)
		return Trigger{Kind: TriggerDaily, Hour: local.Hour(), Minute: local.Minute()}, nil
	default:
		return Trigger{}, fmt.Errorf("%w: unknown recurrence %q", domain.ErrValidation, recurrence)
	}
}

// Scheduler turns events into platform reminders.
type Scheduler struct {
	platform Platform
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	granted bool
}

// NewScheduler creates a Scheduler for the given platform and display timezone.
func NewScheduler(platform Platform, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{platform: platform, loc: loc, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Location returns the display timezone used for daily triggers.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Schedule registers a reminder for an event and returns its handle.
//
// A one-time event whose date has already passed is not scheduled and
// ErrTriggerInPast is returned. A denied permission yields
// ErrPermissionDenied. Both are meant to be non-fatal to the caller.
func (s *Scheduler) Schedule(ctx context.Context, title string, date time.Time, recurrence domain.Recurrence) (string, error) {
	trigger, err := TriggerFor(date, recurrence, s.loc)
	if err != nil {
		return "", err
	}
	if trigger.Kind == TriggerOnce && !date.After(s.now()) {
		return "", domain.ErrTriggerInPast
	}

	if err := s.ensurePermission(ctx); err != nil {
		return "", err
	}

	content := Content{Title: strings.TrimSpace(title), Sound: "default"}
	handle, err := s.platform.Schedule(ctx, content, trigger)
	if err != nil {
		return "", fmt.Errorf("schedule reminder: %w", err)
	}
	return handle, nil
}

// Cancel removes a reminder previously returned by Schedule.
func (s *Scheduler) Cancel(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := s.platform.Cancel(ctx, handle); err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return nil
}

func (s *Scheduler) ensurePermission(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted {
		return nil
	}
	perm, err := s.platform.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request notification permission: %w", err)
	}
	if perm != PermissionGranted {
		return domain.ErrPermissionDenied
	}
	s.granted = true
	return nil
}
