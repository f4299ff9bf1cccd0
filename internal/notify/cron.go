package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// CronPlatform is the local notification platform. Reminders run on an
// in-process cron scheduler and are handed to a Sink when they fire.
type CronPlatform struct {
	cron    *cron.Cron
	loc     *time.Location
	sink    Sink
	granted bool
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronPlatform creates a platform delivering to sink. granted is the
// answer RequestPermission gives, typically from configuration.
func NewCronPlatform(loc *time.Location, sink Sink, granted bool) *CronPlatform {
	if loc == nil {
		loc = time.Local
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &CronPlatform{
		cron:    cron.New(cron.WithLocation(loc)),
		loc:     loc,
		sink:    sink,
		granted: granted,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
}

// Start runs the scheduler in its own goroutine.
func (p *CronPlatform) Start() {
	p.cron.Start()
	slog.Info("Reminder scheduler started", "timezone", p.loc.String())
}

// Stop halts the scheduler and returns a context that is done once running
// jobs have completed.
func (p *CronPlatform) Stop() context.Context {
	return p.cron.Stop()
}

// RequestPermission reports the configured permission.
func (p *CronPlatform) RequestPermission(_ context.Context) (Permission, error) {
	if p.granted {
		return PermissionGranted, nil
	}
	return PermissionDenied, nil
}

// Schedule registers the trigger with cron and returns a handle.
func (p *CronPlatform) Schedule(_ context.Context, content Content, trigger Trigger) (string, error) {
	var sched cron.Schedule
	switch trigger.Kind {
	case TriggerOnce:
		sched = onceSchedule{at: trigger.At}
	case TriggerDaily:
		if trigger.Hour < 0 || trigger.Hour > 23 || trigger.Minute < 0 || trigger.Minute > 59 {
			return "", fmt.Errorf("invalid daily trigger %02d:%02d", trigger.Hour, trigger.Minute)
		}
		sched = dailySchedule{hour: trigger.Hour, minute: trigger.Minute, loc: p.loc}
	default:
		return "", fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}

	handle := "rem-" + uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.cron.Schedule(sched, cron.FuncJob(func() {
		p.fire(handle, content, trigger)
	}))
	p.entries[handle] = id

	slog.Debug("Reminder scheduled", "handle", handle, "kind", trigger.Kind, "title", content.Title)
	return handle, nil
}

// Cancel removes a scheduled reminder. Unknown handles are ignored.
func (p *CronPlatform) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[handle]; ok {
		p.cron.Remove(id)
		delete(p.entries, handle)
	}
	return nil
}

// Pending returns the number of reminders still registered.
func (p *CronPlatform) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *CronPlatform) fire(handle string, content Content, trigger Trigger) {
	p.sink.Deliver(Reminder{
		Handle:  handle,
		Title:   content.Title,
		Kind:    trigger.Kind,
		FiredAt: p.now(),
	})

	if trigger.Kind == TriggerOnce {
		_ = p.Cancel(context.Background(), handle)
	}
}

var _ Platform = (*CronPlatform)(nil)
