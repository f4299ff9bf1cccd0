package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/ashureev/carecompanion/internal/domain"
)

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	helsinki := time.FixedZone("EET", 2*60*60)
	events := []domain.StoredEvent{
		{ID: "01HX", Title: "Doctor", Date: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), Recurrence: domain.RecurrenceOnce},
		{ID: "01HY", Title: "Pills", Date: time.Date(2024, 6, 1, 6, 30, 0, 0, time.UTC), Recurrence: domain.RecurrenceDaily},
	}

	var buf bytes.Buffer
	if err := Export(&buf, events, helsinki, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"UID:01HX@carecompanion",
		"SUMMARY:Doctor",
		"DTSTART:20250101T100000Z",
		"UID:01HY@carecompanion",
		"DTSTART:20240601T083000",
		"RRULE:FREQ=DAILY;BYHOUR=8;BYMINUTE=30;BYSECOND=0",
		"BEGIN:VALARM",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ParseCalendar failed: %v", err)
	}
	if got := len(cal.Events()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
}

func TestExportEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Export(&buf, nil, time.UTC, time.Now()); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(buf.String(), "END:VCALENDAR") || strings.Contains(buf.String(), "VEVENT") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
