package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/carecompanion/internal/backend"
	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/events"
	"github.com/ashureev/carecompanion/internal/nav"
	"github.com/ashureev/carecompanion/internal/store"
)

type fakeBackend struct {
	mu          sync.Mutex
	created     []backend.PreferenceRequest
	updated     map[string]backend.PreferenceRequest
	attendances []string
	feed        []domain.RemoteEvent
	prefErr     error
	feedErr     error
	attendErr   error
	helperKind  string
}

func (f *fakeBackend) CreatePreference(_ context.Context, req backend.PreferenceRequest) (backend.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefErr != nil {
		return backend.Preference{}, f.prefErr
	}
	f.created = append(f.created, req)
	return backend.Preference{ID: "pref-1", DeviceID: req.DeviceID, Name: req.Name}, nil
}

func (f *fakeBackend) UpdatePreference(_ context.Context, id string, req backend.PreferenceRequest) (backend.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefErr != nil {
		return backend.Preference{}, f.prefErr
	}
	if f.updated == nil {
		f.updated = make(map[string]backend.PreferenceRequest)
	}
	f.updated[id] = req
	return backend.Preference{ID: id, DeviceID: req.DeviceID, Name: req.Name}, nil
}

func (f *fakeBackend) Recommendations(_ context.Context, _ string, _ int) ([]domain.RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feed, f.feedErr
}

func (f *fakeBackend) RegisterAttendance(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attendances = append(f.attendances, eventID)
	return f.attendErr
}

func (f *fakeBackend) helper(kind string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.helperKind = kind
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeBackend) DetectScamImage(context.Context, backend.Upload) (json.RawMessage, error) {
	return f.helper("scam")
}

func (f *fakeBackend) MedicationInstructions(context.Context, backend.Upload) (json.RawMessage, error) {
	return f.helper("medication")
}

func (f *fakeBackend) SpeechToText(context.Context, backend.Upload) (json.RawMessage, error) {
	return f.helper("speech")
}

type denyScheduler struct{}

func (denyScheduler) Schedule(context.Context, string, time.Time, domain.Recurrence) (string, error) {
	return "", domain.ErrPermissionDenied
}

func (denyScheduler) Cancel(context.Context, string) error { return nil }

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestController(t *testing.T, s store.Store, b Backend, opts ...events.Option) *Controller {
	t.Helper()
	clock := func() time.Time { return testNow }
	opts = append([]events.Option{events.WithClock(clock)}, opts...)
	cfg := Config{
		Store:    s,
		Machine:  nav.NewMachine(s),
		Events:   events.NewRepository(s, opts...),
		DeviceID: "dev-test",
		Location: time.UTC,
		Now:      clock,
	}
	if b != nil {
		cfg.Backend = b
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func validProfile() domain.Profile {
	ct := domain.ChatMorning
	return domain.Profile{
		Name:       " Margaret ",
		Age:        "78",
		Location:   "52.52, 13.40",
		Activities: []string{"Walking", "Walking", ""},
		ChatTime:   &ct,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestOnboardingFunnel(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	fb := &fakeBackend{}
	c := newTestController(t, s, fb)
	ctx := context.Background()

	if got := c.Current().Screen; got != nav.ScreenLoading {
		t.Fatalf("expected loading before Load, got %s", got)
	}
	if got := c.Load(ctx).Screen; got != nav.ScreenWelcome {
		t.Fatalf("expected welcome, got %s", got)
	}
	if got := c.Start(ctx).Screen; got != nav.ScreenOnboarding {
		t.Fatalf("expected onboarding, got %s", got)
	}

	v, err := c.FinishOnboarding(ctx, validProfile())
	if err != nil {
		t.Fatalf("FinishOnboarding failed: %v", err)
	}
	if v.Screen != nav.ScreenCategorySelection {
		t.Fatalf("expected category selection, got %s", v.Screen)
	}
	if len(v.Notices) != 0 {
		t.Fatalf("expected no notices, got %+v", v.Notices)
	}
	if len(fb.created) != 1 || fb.created[0].Age != 78 || fb.created[0].Name != "Margaret" {
		t.Fatalf("unexpected preference payload: %+v", fb.created)
	}

	v, err = c.ConfirmCategories(ctx, []string{"social", "Nature"})
	if err != nil {
		t.Fatalf("ConfirmCategories failed: %v", err)
	}
	if v.Screen != nav.ScreenMainApp {
		t.Fatalf("expected main app, got %s", v.Screen)
	}
	if got := v.State.SelectedCategories; len(got) != 2 || got[0] != "social" || got[1] != "nature" {
		t.Fatalf("unexpected selection: %v", got)
	}

	// A second save updates the same backend preference.
	if _, err := c.FinishOnboarding(ctx, validProfile()); err != nil {
		t.Fatalf("second FinishOnboarding failed: %v", err)
	}
	if len(fb.created) != 1 {
		t.Fatalf("expected a single create, got %d", len(fb.created))
	}
	if _, ok := fb.updated["pref-1"]; !ok {
		t.Fatalf("expected update of pref-1, got %v", fb.updated)
	}

	// A fresh controller on the same store resumes at the main app.
	again := newTestController(t, s, fb)
	if got := again.Load(ctx).Screen; got != nav.ScreenMainApp {
		t.Fatalf("expected main app after reload, got %s", got)
	}
}

func TestFinishOnboardingRejectsBadInputBeforeNetwork(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*domain.Profile)
	}{
		{"empty name", func(p *domain.Profile) { p.Name = "  " }},
		{"age not a number", func(p *domain.Profile) { p.Age = "old" }},
		{"location not coordinates", func(p *domain.Profile) { p.Location = "Berlin" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := store.NewMemory()
			fb := &fakeBackend{}
			c := newTestController(t, s, fb)
			c.Load(context.Background())

			p := validProfile()
			tt.mutate(&p)
			if _, err := c.FinishOnboarding(context.Background(), p); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if len(fb.created) != 0 {
				t.Fatal("backend must not be called")
			}
			if s.SetCount() != 0 {
				t.Fatal("state must not be written")
			}
		})
	}
}

func TestFinishOnboardingOfflineKeepsLocalSave(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	fb := &fakeBackend{prefErr: domain.ErrNetwork}
	c := newTestController(t, s, fb)
	ctx := context.Background()
	c.Load(ctx)

	v, err := c.FinishOnboarding(ctx, validProfile())
	if err != nil {
		t.Fatalf("FinishOnboarding failed: %v", err)
	}
	if v.Screen != nav.ScreenCategorySelection {
		t.Fatalf("expected category selection, got %s", v.Screen)
	}
	if len(v.Notices) != 1 || v.Notices[0].Level != domain.NoticeWarning {
		t.Fatalf("expected one warning, got %+v", v.Notices)
	}
	var id string
	if found, _ := store.ReadJSON(ctx, s, store.KeyPreferenceID, &id); found {
		t.Fatalf("preference id must not be stored, got %q", id)
	}
}

func TestConfirmCategoriesValidation(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), nil)
	ctx := context.Background()
	c.Load(ctx)

	if _, err := c.ConfirmCategories(ctx, []string{"social"}); !errors.Is(err, domain.ErrProfileRequired) {
		t.Fatalf("expected ErrProfileRequired, got %v", err)
	}
	if _, err := c.FinishOnboarding(ctx, validProfile()); err != nil {
		t.Fatalf("FinishOnboarding failed: %v", err)
	}
	if _, err := c.ConfirmCategories(ctx, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty selection, got %v", err)
	}
	if _, err := c.ConfirmCategories(ctx, []string{"knitting"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown category, got %v", err)
	}
}

func TestOverlays(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), nil)
	ctx := context.Background()
	c.Load(ctx)
	if _, err := c.FinishOnboarding(ctx, validProfile()); err != nil {
		t.Fatalf("FinishOnboarding failed: %v", err)
	}

	v, err := c.OpenOverlay("add-event")
	if err != nil {
		t.Fatalf("OpenOverlay failed: %v", err)
	}
	if v.Screen != nav.ScreenAddEventOverlay {
		t.Fatalf("expected add event overlay to outrank category selection, got %s", v.Screen)
	}
	if v, _ = c.CloseOverlay("add-event"); v.Screen != nav.ScreenCategorySelection {
		t.Fatalf("expected category selection after close, got %s", v.Screen)
	}
	if _, err := c.OpenOverlay("bogus"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	if _, err := c.OpenCategory("gardening"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown category, got %v", err)
	}
	v, err = c.OpenCategory("nature")
	if err != nil {
		t.Fatalf("OpenCategory failed: %v", err)
	}
	if v.Screen != nav.ScreenCategoryEvents || v.Flags.Category != "nature" {
		t.Fatalf("unexpected view %+v", v.Snapshot)
	}
	if got := c.CloseCategory().Screen; got != nav.ScreenCategorySelection {
		t.Fatalf("expected category selection, got %s", got)
	}
}

func feed() []domain.RemoteEvent {
	at := testNow.Add(48 * time.Hour)
	return []domain.RemoteEvent{
		{ID: "r1", Name: "Tea Social", StartDate: at, Category: "Social"},
		{ID: "r2", Name: "Garden Walk", StartDate: at, Category: "gardening"},
		{ID: "r3", Name: "Chair Yoga", StartDate: at, Category: "fitness"},
	}
}

func TestRecommendationsFiltering(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	fb := &fakeBackend{feed: feed()}
	c := newTestController(t, s, fb)
	ctx := context.Background()
	c.Load(ctx)

	all, notices, err := c.Recommendations(ctx, "")
	if err != nil || len(notices) != 0 {
		t.Fatalf("unexpected result: %v %+v", err, notices)
	}
	if len(all) != 3 {
		t.Fatalf("expected unfiltered feed without a selection, got %d", len(all))
	}

	if _, err := c.FinishOnboarding(ctx, validProfile()); err != nil {
		t.Fatalf("FinishOnboarding failed: %v", err)
	}
	if _, err := c.ConfirmCategories(ctx, []string{"social", "nature"}); err != nil {
		t.Fatalf("ConfirmCategories failed: %v", err)
	}
	if _, _, _, err := c.Enroll(ctx, feed()[0]); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	selected, _, _ := c.Recommendations(ctx, "")
	if len(selected) != 2 || selected[0].ID != "r1" || selected[1].ID != "r2" {
		t.Fatalf("expected selection filter, got %+v", selected)
	}
	if !selected[0].Enrolled || selected[1].Enrolled {
		t.Fatalf("unexpected enrolled marks: %+v", selected)
	}
	if selected[1].CategoryID != "nature" {
		t.Fatalf("expected nature category, got %q", selected[1].CategoryID)
	}

	physical, _, _ := c.Recommendations(ctx, "physical")
	if len(physical) != 1 || physical[0].ID != "r3" {
		t.Fatalf("expected only chair yoga, got %+v", physical)
	}
	if _, _, err := c.Recommendations(ctx, "bogus"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecommendationsNetworkFailure(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), &fakeBackend{feedErr: domain.ErrNetwork})
	c.Load(context.Background())

	list, notices, err := c.Recommendations(context.Background(), "")
	if err != nil {
		t.Fatalf("expected notice, not error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", list)
	}
	if len(notices) != 1 || notices[0].Level != domain.NoticeWarning {
		t.Fatalf("expected a warning, got %+v", notices)
	}
}

func TestEnrollIsIdempotentAndRegistersAttendance(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	fb := &fakeBackend{}
	c := newTestController(t, s, fb)
	ctx := context.Background()
	remote := feed()[0]

	ev, created, notices, err := c.Enroll(ctx, remote)
	if err != nil || !created || len(notices) != 0 {
		t.Fatalf("first Enroll: created=%v notices=%+v err=%v", created, notices, err)
	}
	if ev.ID != "r1" || ev.Recurrence != domain.RecurrenceOnce || ev.NotificationHandle != nil {
		t.Fatalf("unexpected record %+v", ev)
	}

	fb.attendErr = domain.ErrAlreadyRegistered
	_, created, notices, err = c.Enroll(ctx, remote)
	if err != nil || created || len(notices) != 0 {
		t.Fatalf("second Enroll: created=%v notices=%+v err=%v", created, notices, err)
	}

	list, _ := c.Events(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one stored event, got %d", len(list))
	}
	if len(fb.attendances) != 2 {
		t.Fatalf("expected attendance attempted twice, got %v", fb.attendances)
	}
}

func TestEnrollNetworkFailureKeepsLocalRecord(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), &fakeBackend{attendErr: domain.ErrNetwork})
	ctx := context.Background()

	_, created, notices, err := c.Enroll(ctx, feed()[1])
	if err != nil || !created {
		t.Fatalf("Enroll: created=%v err=%v", created, err)
	}
	if len(notices) != 1 || notices[0].Level != domain.NoticeWarning {
		t.Fatalf("expected warning, got %+v", notices)
	}
	if list, _ := c.Events(ctx); len(list) != 1 {
		t.Fatalf("expected local record, got %d", len(list))
	}
}

func TestEnrollValidation(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), nil)
	_, _, _, err := c.Enroll(context.Background(), domain.RemoteEvent{ID: "x", Name: ""})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAddEventNotices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty title", func(t *testing.T) {
		t.Parallel()
		s := store.NewMemory()
		c := newTestController(t, s, nil)
		if _, _, err := c.AddEvent(ctx, "   ", testNow.Add(time.Hour), domain.RecurrenceOnce); !errors.Is(err, domain.ErrEmptyTitle) {
			t.Fatalf("expected ErrEmptyTitle, got %v", err)
		}
		if s.SetCount() != 0 {
			t.Fatal("expected no write")
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t, store.NewMemory(), nil, events.WithScheduler(denyScheduler{}))
		ev, notices, err := c.AddEvent(ctx, "Lunch", testNow.Add(time.Hour), domain.RecurrenceOnce)
		if err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
		if ev.NotificationHandle != nil {
			t.Fatal("expected no handle")
		}
		if len(notices) != 1 || !strings.Contains(notices[0].Message, "Reminders are turned off") {
			t.Fatalf("expected permission notice, got %+v", notices)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		t.Parallel()
		s := store.NewMemory()
		s.FailSets(true)
		c := newTestController(t, s, nil)
		ev, notices, err := c.AddEvent(ctx, "Lunch", testNow.Add(time.Hour), domain.RecurrenceOnce)
		if err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
		if ev.Title != "Lunch" || len(notices) != 1 {
			t.Fatalf("expected record and one notice, got %+v %+v", ev, notices)
		}
	})

	t.Run("write failure with reminder denied", func(t *testing.T) {
		t.Parallel()
		s := store.NewMemory()
		s.FailSets(true)
		c := newTestController(t, s, nil, events.WithScheduler(denyScheduler{}))
		_, notices, err := c.AddEvent(ctx, "Lunch", testNow.Add(time.Hour), domain.RecurrenceOnce)
		if err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
		if len(notices) != 2 {
			t.Fatalf("expected storage and reminder notices, got %+v", notices)
		}
		for _, n := range notices {
			if strings.Contains(n.Message, "Event saved") {
				t.Fatalf("unsaved event reported as saved: %+v", notices)
			}
		}
	})
}

func TestUpcomingOrdersByNextReminder(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), nil)
	ctx := context.Background()

	later := testNow.Add(72 * time.Hour)
	if _, _, err := c.AddEvent(ctx, "Dentist", later, domain.RecurrenceOnce); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	// Daily at 08:00 next fires tomorrow morning.
	if _, _, err := c.AddEvent(ctx, "Pills", time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC), domain.RecurrenceDaily); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	list, notices := c.Upcoming(ctx)
	if len(notices) != 0 || len(list) != 2 {
		t.Fatalf("unexpected upcoming: %+v %+v", list, notices)
	}
	if list[0].Title != "Pills" || list[0].NextAt == nil {
		t.Fatalf("expected daily reminder first, got %+v", list[0])
	}
	want := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	if !list[0].NextAt.Equal(want) {
		t.Fatalf("expected next at %v, got %v", want, list[0].NextAt)
	}
}

func TestExportCalendar(t *testing.T) {
	t.Parallel()

	c := newTestController(t, store.NewMemory(), nil)
	ctx := context.Background()
	if _, _, err := c.AddEvent(ctx, "Choir", testNow.Add(24*time.Hour), domain.RecurrenceOnce); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	var buf bytes.Buffer
	if err := c.ExportCalendar(ctx, &buf); err != nil {
		t.Fatalf("ExportCalendar failed: %v", err)
	}
	if !strings.Contains(buf.String(), "SUMMARY:Choir") {
		t.Fatalf("expected event in calendar, got:\n%s", buf.String())
	}
}

func TestHelper(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	offline := newTestController(t, store.NewMemory(), nil)
	if _, err := offline.Helper(ctx, HelperSpeech, backend.Upload{}); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork offline, got %v", err)
	}

	fb := &fakeBackend{}
	c := newTestController(t, store.NewMemory(), fb)
	out, err := c.Helper(ctx, HelperMedication, backend.Upload{Filename: "box.jpg", Data: strings.NewReader("img")})
	if err != nil {
		t.Fatalf("Helper failed: %v", err)
	}
	if string(out) != `{"ok":true}` || fb.helperKind != "medication" {
		t.Fatalf("unexpected helper result %s via %s", out, fb.helperKind)
	}
	if _, err := c.Helper(ctx, "horoscope", backend.Upload{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLoadStorageFailureFallsBack(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	s.FailGets(true)
	c := newTestController(t, s, nil)

	v := c.Load(context.Background())
	if v.Screen != nav.ScreenWelcome {
		t.Fatalf("expected welcome on failed load, got %s", v.Screen)
	}
	if len(v.Notices) != 1 {
		t.Fatalf("expected a storage notice, got %+v", v.Notices)
	}
}
