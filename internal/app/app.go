// Package app is the application controller. It owns the navigation state
// machine and the event repository, talks to the backend, and turns
// recoverable failures into user-visible notices.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/carecompanion/internal/backend"
	"github.com/ashureev/carecompanion/internal/calendar"
	"github.com/ashureev/carecompanion/internal/catalog"
	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/events"
	"github.com/ashureev/carecompanion/internal/nav"
	"github.com/ashureev/carecompanion/internal/notify"
	"github.com/ashureev/carecompanion/internal/store"
)

// Backend is the subset of backend.Client the controller uses.
type Backend interface {
	CreatePreference(ctx context.Context, req backend.PreferenceRequest) (backend.Preference, error)
	UpdatePreference(ctx context.Context, id string, req backend.PreferenceRequest) (backend.Preference, error)
	Recommendations(ctx context.Context, deviceID string, limit int) ([]domain.RemoteEvent, error)
	RegisterAttendance(ctx context.Context, eventID, deviceID string) error
	DetectScamImage(ctx context.Context, img backend.Upload) (json.RawMessage, error)
	MedicationInstructions(ctx context.Context, img backend.Upload) (json.RawMessage, error)
	SpeechToText(ctx context.Context, audio backend.Upload) (json.RawMessage, error)
}

// Recorder receives controller activity for metrics.
type Recorder interface {
	BackendCall(op string, start time.Time, err error)
	ScreenServed(screen string)
}

type nopRecorder struct{}

func (nopRecorder) BackendCall(string, time.Time, error) {}
func (nopRecorder) ScreenServed(string)                  {}

// Config wires a Controller.
type Config struct {
	Store               store.Store
	Machine             *nav.Machine
	Events              *events.Repository
	Backend             Backend
	Catalog             *catalog.Catalog
	DeviceID            string
	Location            *time.Location
	RecommendationLimit int
	Recorder            Recorder
	Now                 func() time.Time
}

// Controller coordinates the core components for one device.
type Controller struct {
	store    store.Store
	machine  *nav.Machine
	events   *events.Repository
	backend  Backend
	catalog  *catalog.Catalog
	deviceID string
	loc      *time.Location
	limit    int
	recorder Recorder
	now      func() time.Time

	prefMu sync.Mutex
}

// New creates a Controller. Backend may be nil to run offline.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil || cfg.Machine == nil || cfg.Events == nil {
		return nil, errors.New("store, machine and events are required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RecommendationLimit <= 0 {
		cfg.RecommendationLimit = 20
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		store:    cfg.Store,
		machine:  cfg.Machine,
		events:   cfg.Events,
		backend:  cfg.Backend,
		catalog:  cfg.Catalog,
		deviceID: cfg.DeviceID,
		loc:      cfg.Location,
		limit:    cfg.RecommendationLimit,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}, nil
}

// View is the screen payload returned after every action.
type View struct {
	nav.Snapshot
	Notices []domain.Notice `json:"notices"`
}

// DeviceID returns the device identity used with the backend.
func (c *Controller) DeviceID() string { return c.deviceID }

// Location returns the display timezone.
func (c *Controller) Location() *time.Location { return c.loc }

// Load reads AppState. Failures fall back to first-launch defaults.
func (c *Controller) Load(ctx context.Context) View {
	var notices []domain.Notice
	if err := c.machine.Load(ctx); err != nil {
		notices = append(notices, storageNotice(err))
	}
	return c.view(notices)
}

// Current returns the active screen without changing anything.
func (c *Controller) Current() View {
	return c.view(nil)
}

func (c *Controller) view(notices []domain.Notice) View {
	snap := c.machine.Snapshot()
	c.recorder.ScreenServed(string(snap.Screen))
	if notices == nil {
		notices = []domain.Notice{}
	}
	return View{Snapshot: snap, Notices: notices}
}

// Start is the Welcome screen's action.
func (c *Controller) Start(ctx context.Context) View {
	var notices []domain.Notice
	if err := c.machine.Start(ctx); err != nil {
		notices = append(notices, storageNotice(err))
	}
	return c.view(notices)
}

// FinishOnboarding validates and saves the profile, then submits it to the
// backend. The local save is kept when the backend is unreachable.
func (c *Controller) FinishOnboarding(ctx context.Context, profile domain.Profile) (View, error) {
	profile.Normalize()
	if err := profile.Validate(); err != nil {
		return View{}, err
	}
	req, err := backend.ProfileToPreference(c.deviceID, profile)
	if err != nil {
		return View{}, err
	}

	var notices []domain.Notice
	if err := c.machine.FinishOnboarding(ctx, profile); err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			return View{}, err
		}
		notices = append(notices, storageNotice(err))
	}

	if n := c.syncPreference(ctx, req); n != nil {
		notices = append(notices, *n)
	}
	return c.view(notices), nil
}

// syncPreference creates the backend preference on first save and updates
// it afterwards.
func (c *Controller) syncPreference(ctx context.Context, req backend.PreferenceRequest) *domain.Notice {
	if c.backend == nil {
		return &domain.Notice{Level: domain.NoticeInfo, Message: "Saved on this device. Online features are turned off."}
	}

	c.prefMu.Lock()
	defer c.prefMu.Unlock()

	var prefID string
	if _, err := store.ReadJSON(ctx, c.store, store.KeyPreferenceID, &prefID); err != nil {
		slog.Warn("Failed to read preference id", "error", err)
	}

	start := time.Now()
	var (
		pref backend.Preference
		err  error
		op   = "create_preference"
	)
	if prefID != "" {
		op = "update_preference"
		pref, err = c.backend.UpdatePreference(ctx, prefID, req)
	} else {
		pref, err = c.backend.CreatePreference(ctx, req)
	}
	c.recorder.BackendCall(op, start, err)
	if err != nil {
		slog.Warn("Failed to save preferences to backend", "operation", op, "error", err)
		return &domain.Notice{Level: domain.NoticeWarning, Message: "Your answers are saved on this device, but we could not reach the server. We will use them next time."}
	}

	if pref.ID != prefID {
		if err := store.WriteJSON(ctx, c.store, store.KeyPreferenceID, pref.ID); err != nil {
			slog.Warn("Failed to store preference id", "error", err)
		}
	}
	slog.Info("Preferences saved to backend", "preference_id", pref.ID, "operation", op)
	return nil
}

// ConfirmCategories records the selected category ids.
func (c *Controller) ConfirmCategories(ctx context.Context, selection []string) (View, error) {
	ids, err := c.catalog.Resolve(selection)
	if err != nil {
		return View{}, err
	}
	var notices []domain.Notice
	if err := c.machine.ConfirmCategories(ctx, ids); err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			return View{}, err
		}
		notices = append(notices, storageNotice(err))
	}
	return c.view(notices), nil
}

// OpenOverlay sets an overlay flag by name.
func (c *Controller) OpenOverlay(name string) (View, error) {
	o, err := nav.ParseOverlay(name)
	if err != nil {
		return View{}, err
	}
	c.machine.Open(o)
	return c.view(nil), nil
}

// CloseOverlay clears an overlay flag by name.
func (c *Controller) CloseOverlay(name string) (View, error) {
	o, err := nav.ParseOverlay(name)
	if err != nil {
		return View{}, err
	}
	c.machine.Close(o)
	return c.view(nil), nil
}

// OpenCategory shows recommendations for one catalog category.
func (c *Controller) OpenCategory(id string) (View, error) {
	cat, ok := c.catalog.Get(id)
	if !ok {
		return View{}, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, id)
	}
	if err := c.machine.OpenCategory(cat.ID); err != nil {
		return View{}, err
	}
	return c.view(nil), nil
}

// CloseCategory hides the category events overlay.
func (c *Controller) CloseCategory() View {
	c.machine.CloseCategory()
	return c.view(nil)
}

// Categories returns the catalog, marking the user's selection.
func (c *Controller) Categories() []CategoryView {
	selected := make(map[string]bool)
	for _, id := range c.machine.State().SelectedCategories {
		selected[id] = true
	}
	all := c.catalog.All()
	out := make([]CategoryView, 0, len(all))
	for _, cat := range all {
		out = append(out, CategoryView{Category: cat, Selected: selected[cat.ID]})
	}
	return out
}

// CategoryView is a catalog entry with the user's selection.
type CategoryView struct {
	catalog.Category
	Selected bool `json:"selected"`
}

// Recommendation is a feed event annotated for display.
type Recommendation struct {
	domain.RemoteEvent
	CategoryID string `json:"categoryId,omitempty"`
	Enrolled   bool   `json:"enrolled"`
}

// Recommendations fetches the feed. With a category only that category is
// returned; otherwise the feed is narrowed to the selected categories when
// there is a selection. Network failures yield an empty list and a notice.
func (c *Controller) Recommendations(ctx context.Context, category string) ([]Recommendation, []domain.Notice, error) {
	var filter map[string]bool
	if category = strings.TrimSpace(category); category != "" {
		cat, ok := c.catalog.Get(category)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, category)
		}
		filter = map[string]bool{cat.ID: true}
	} else if sel := c.machine.State().SelectedCategories; len(sel) > 0 {
		filter = make(map[string]bool, len(sel))
		for _, id := range sel {
			filter[id] = true
		}
	}

	out := []Recommendation{}
	if c.backend == nil {
		return out, []domain.Notice{offlineNotice()}, nil
	}

	start := time.Now()
	feed, err := c.backend.Recommendations(ctx, c.deviceID, c.limit)
	c.recorder.BackendCall("recommendations", start, err)
	if err != nil {
		slog.Warn("Failed to load recommendations", "error", err)
		return out, []domain.Notice{{Level: domain.NoticeWarning, Message: "We could not load suggestions right now. Please try again later."}}, nil
	}

	var notices []domain.Notice
	enrolled, err := c.events.EnrolledIDs(ctx)
	if err != nil {
		notices = append(notices, storageNotice(err))
	}

	for _, ev := range feed {
		catID, _ := c.catalog.CategoryOf(ev.Category)
		if filter != nil && !filter[catID] {
			continue
		}
		_, isEnrolled := enrolled[ev.ID]
		out = append(out, Recommendation{RemoteEvent: ev, CategoryID: catID, Enrolled: isEnrolled})
	}
	if notices == nil {
		notices = []domain.Notice{}
	}
	return out, notices, nil
}

// EventView is a stored event with its next reminder time.
type EventView struct {
	domain.StoredEvent
	NextAt *time.Time `json:"nextAt"`
}

// Events lists live events, pruning expired ones.
func (c *Controller) Events(ctx context.Context) ([]EventView, []domain.Notice) {
	notices := []domain.Notice{}
	list, err := c.events.LoadEvents(ctx)
	if err != nil {
		notices = append(notices, storageNotice(err))
	}
	now := c.now()
	out := make([]EventView, 0, len(list))
	for _, ev := range list {
		v := EventView{StoredEvent: ev}
		if next, ok := notify.NextOccurrence(ev, now, c.loc); ok {
			v.NextAt = &next
		}
		out = append(out, v)
	}
	return out, notices
}

// Upcoming returns live events ordered by next reminder time.
func (c *Controller) Upcoming(ctx context.Context) ([]EventView, []domain.Notice) {
	list, notices := c.Events(ctx)
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].NextAt, list[j].NextAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return list, notices
}

// AddEvent creates a user event. Validation failures are returned as
// errors; storage and reminder problems become notices.
func (c *Controller) AddEvent(ctx context.Context, title string, date time.Time, recurrence domain.Recurrence) (domain.StoredEvent, []domain.Notice, error) {
	ev, err := c.events.AddEvent(ctx, title, date, recurrence)
	if err != nil && errors.Is(err, domain.ErrValidation) {
		return domain.StoredEvent{}, nil, err
	}

	notices := []domain.Notice{}
	saved := !errors.Is(err, domain.ErrStorage)
	if !saved {
		notices = append(notices, storageNotice(err))
	}
	var rerr *events.ReminderError
	if errors.As(err, &rerr) {
		notices = append(notices, reminderNotice(rerr, saved))
	}
	if err != nil && len(notices) == 0 {
		return domain.StoredEvent{}, nil, err
	}
	return ev, notices, nil
}

// Enroll saves a recommended event locally and registers attendance with
// the backend. The local record is kept when the backend call fails.
func (c *Controller) Enroll(ctx context.Context, remote domain.RemoteEvent) (domain.StoredEvent, bool, []domain.Notice, error) {
	remote.ID = strings.TrimSpace(remote.ID)
	remote.Name = strings.TrimSpace(remote.Name)
	if remote.ID == "" || remote.Name == "" || remote.StartDate.IsZero() {
		return domain.StoredEvent{}, false, nil, fmt.Errorf("%w: event id, name and start date are required", domain.ErrValidation)
	}

	notices := []domain.Notice{}
	ev, created, err := c.events.Enroll(ctx, remote)
	if err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			return domain.StoredEvent{}, false, nil, err
		}
		notices = append(notices, storageNotice(err))
		if ev.ID == "" {
			return ev, false, notices, nil
		}
	}

	if c.backend == nil {
		return ev, created, append(notices, offlineNotice()), nil
	}

	start := time.Now()
	err = c.backend.RegisterAttendance(ctx, remote.ID, c.deviceID)
	if errors.Is(err, domain.ErrAlreadyRegistered) {
		err = nil
	}
	c.recorder.BackendCall("register_attendance", start, err)
	if err != nil {
		slog.Warn("Failed to register attendance", "event_id", remote.ID, "error", err)
		notices = append(notices, domain.Notice{Level: domain.NoticeWarning, Message: "The event is in your list, but we could not tell the organiser yet."})
	}
	return ev, created, notices, nil
}

// ExportCalendar writes all live events as iCalendar.
func (c *Controller) ExportCalendar(ctx context.Context, w io.Writer) error {
	list, err := c.events.LoadEvents(ctx)
	if err != nil {
		return err
	}
	return calendar.Export(w, list, c.loc, c.now())
}

// Helper kinds accepted by Helper.
const (
	HelperScamImage  = "scam-image"
	HelperMedication = "medication"
	HelperSpeech     = "speech"
)

// Helper forwards an upload to one of the backend helpers and returns the
// raw answer.
func (c *Controller) Helper(ctx context.Context, kind string, up backend.Upload) (json.RawMessage, error) {
	if c.backend == nil {
		return nil, fmt.Errorf("%w: online helpers are turned off", domain.ErrNetwork)
	}
	var call func(context.Context, backend.Upload) (json.RawMessage, error)
	switch kind {
	case HelperScamImage:
		call = c.backend.DetectScamImage
	case HelperMedication:
		call = c.backend.MedicationInstructions
	case HelperSpeech:
		call = c.backend.SpeechToText
	default:
		return nil, fmt.Errorf("%w: unknown helper %q", domain.ErrValidation, kind)
	}

	start := time.Now()
	out, err := call(ctx, up)
	c.recorder.BackendCall("helper_"+strings.ReplaceAll(kind, "-", "_"), start, err)
	return out, err
}

func storageNotice(err error) domain.Notice {
	slog.Warn("Storage problem", "error", err)
	return domain.Notice{Level: domain.NoticeWarning, Message: "Some changes could not be saved on this device."}
}

func offlineNotice() domain.Notice {
	return domain.Notice{Level: domain.NoticeInfo, Message: "Online features are turned off."}
}

func reminderNotice(err *events.ReminderError, saved bool) domain.Notice {
	var n domain.Notice
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		n = domain.Notice{Level: domain.NoticeWarning, Message: "Reminders are turned off, so you will not get a notification."}
	case errors.Is(err, domain.ErrTriggerInPast):
		n = domain.Notice{Level: domain.NoticeInfo, Message: "Its time has already passed, so no reminder was set."}
	default:
		n = domain.Notice{Level: domain.NoticeWarning, Message: "The reminder could not be set."}
	}
	if saved {
		n.Message = "Event saved. " + n.Message
	}
	return n
}
