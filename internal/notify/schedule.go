package notify

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ashureev/carecompanion/internal/domain"
)

// onceSchedule yields its instant once and the zero time afterwards, which
// parks the cron entry until it is removed.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// dailySchedule fires every day at hour:minute in loc.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

func (s dailySchedule) Next(t time.Time) time.Time {
	return nextDaily(s.hour, s.minute, t, s.loc)
}

// nextDaily returns the first hour:minute in loc strictly after the given time.
// The rule is anchored on the previous local day so the search stays short.
func nextDaily(hour, minute int, after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := after.In(loc)
	anchor := time.Date(local.Year(), local.Month(), local.Day()-1, hour, minute, 0, 0, loc)

	opt := dailyOption(hour, minute)
	opt.Dtstart = anchor
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}
	}
	return r.After(after, false)
}

// dailyOption is the recurrence a daily reminder follows.
func dailyOption(hour, minute int) rrule.ROption {
	return rrule.ROption{
		Freq:     rrule.DAILY,
		Byhour:   []int{hour},
		Byminute: []int{minute},
		Bysecond: []int{0},
	}
}

// DailyRule returns the RFC 5545 recurrence rule, without DTSTART, for a
// daily reminder at hour:minute local time.
func DailyRule(hour, minute int) string {
	opt := dailyOption(hour, minute)
	return opt.RRuleString()
}

// NextOccurrence reports when an event will next remind the user after the
// given time. ok is false for one-time events that are already due.
func NextOccurrence(ev domain.StoredEvent, after time.Time, loc *time.Location) (time.Time, bool) {
	switch ev.Recurrence {
	case domain.RecurrenceDaily:
		trig, err := TriggerFor(ev.Date, ev.Recurrence, loc)
		if err != nil {
			return time.Time{}, false
		}
		next := nextDaily(trig.Hour, trig.Minute, after, loc)
		return next, !next.IsZero()
	default:
		if ev.Date.After(after) {
			return ev.Date, true
		}
		return time.Time{}, false
	}
}
