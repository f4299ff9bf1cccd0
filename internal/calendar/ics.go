// Package calendar exports stored events as an iCalendar feed.
package calendar

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/notify"
)

const (
	productID       = "-//carecompanion//events//EN"
	defaultDuration = time.Hour
	floatingLayout  = "20060102T150405"
)

// Export writes events as a VCALENDAR. One-time events carry UTC times.
// Daily events use floating local time in loc with a daily rule so they
// keep their wall-clock time in the viewer's calendar. Every event has a
// display alarm at its start.
func Export(w io.Writer, events []domain.StoredEvent, loc *time.Location, stamp time.Time) error {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("Care Companion")

	for _, ev := range events {
		vev := cal.AddEvent(ev.ID + "@carecompanion")
		vev.SetDtStampTime(stamp.UTC())
		vev.SetSummary(ev.Title)

		switch ev.Recurrence {
		case domain.RecurrenceDaily:
			start := ev.Date.In(loc)
			vev.SetProperty(ical.ComponentPropertyDtStart, start.Format(floatingLayout))
			vev.SetProperty(ical.ComponentPropertyDtEnd, start.Add(defaultDuration).Format(floatingLayout))
			vev.AddRrule(notify.DailyRule(start.Hour(), start.Minute()))
		default:
			vev.SetStartAt(ev.Date.UTC())
			vev.SetEndAt(ev.Date.UTC().Add(defaultDuration))
		}

		alarm := vev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger("PT0M")
		alarm.SetProperty(ical.ComponentPropertyDescription, ev.Title)
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
