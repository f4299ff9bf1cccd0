// Package domain contains core domain types for the companion application.
package domain

import (
	"fmt"
	"strings"
)

// ChatTime is the user's preferred time of day for conversations.
type ChatTime string

const (
	ChatMorning   ChatTime = "Morning"
	ChatAfternoon ChatTime = "Afternoon"
	ChatEvening   ChatTime = "Evening"
	ChatAnytime   ChatTime = "Anytime"
)

// Valid reports whether c is one of the known chat times.
func (c ChatTime) Valid() bool {
	switch c {
	case ChatMorning, ChatAfternoon, ChatEvening, ChatAnytime:
		return true
	}
	return false
}

// ActivityPlace is where the user prefers to spend activities.
type ActivityPlace string

const (
	PlaceIndoors  ActivityPlace = "Indoors"
	PlaceOutdoors ActivityPlace = "Outdoors"
	PlaceBoth     ActivityPlace = "Both"
)

// Valid reports whether p is one of the known places.
func (p ActivityPlace) Valid() bool {
	switch p {
	case PlaceIndoors, PlaceOutdoors, PlaceBoth:
		return true
	}
	return false
}

// Profile is the onboarding answer sheet. It is replaced wholesale on save.
type Profile struct {
	Name          string         `json:"name"`
	Age           string         `json:"age"`
	Location      string         `json:"location"`
	Activities    []string       `json:"activities"`
	Topics        []string       `json:"topics"`
	ChatTime      *ChatTime      `json:"chatTime"`
	ActivityPlace *ActivityPlace `json:"activityPlace"`
	Goals         []string       `json:"goals"`
}

// Normalize turns the list fields into sets (order kept, duplicates and
// blanks dropped) and trims the free-text fields.
func (p *Profile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Age = strings.TrimSpace(p.Age)
	p.Location = strings.TrimSpace(p.Location)
	p.Activities = NormalizeSet(p.Activities)
	p.Topics = NormalizeSet(p.Topics)
	p.Goals = NormalizeSet(p.Goals)
}

// Validate checks the enum fields. Numeric age and coordinate parsing is
// left to the backend boundary.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if p.ChatTime != nil && !p.ChatTime.Valid() {
		return fmt.Errorf("%w: unknown chat time %q", ErrValidation, *p.ChatTime)
	}
	if p.ActivityPlace != nil && !p.ActivityPlace.Valid() {
		return fmt.Errorf("%w: unknown activity place %q", ErrValidation, *p.ActivityPlace)
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with the state container.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Activities = append([]string(nil), p.Activities...)
	out.Topics = append([]string(nil), p.Topics...)
	out.Goals = append([]string(nil), p.Goals...)
	if p.ChatTime != nil {
		ct := *p.ChatTime
		out.ChatTime = &ct
	}
	if p.ActivityPlace != nil {
		ap := *p.ActivityPlace
		out.ActivityPlace = &ap
	}
	return &out
}

// AppState is the persisted onboarding/progress record.
type AppState struct {
	HasCompletedOnboarding bool     `json:"hasCompletedOnboarding"`
	HasSelectedCategories  bool     `json:"hasSelectedCategories"`
	Profile                *Profile `json:"profile"`
	SelectedCategories     []string `json:"selectedCategories,omitempty"`
}

// DefaultAppState is the first-launch state.
func DefaultAppState() AppState {
	return AppState{}
}

// Repair restores the invariants on a record read from storage and reports
// what was changed. A profile implies completed onboarding; selected
// categories without a profile are discarded.
func (s *AppState) Repair() []string {
	var fixes []string
	if s.Profile != nil && !s.HasCompletedOnboarding {
		s.HasCompletedOnboarding = true
		fixes = append(fixes, "profile present, onboarding marked completed")
	}
	if s.HasSelectedCategories && s.Profile == nil {
		s.HasSelectedCategories = false
		s.SelectedCategories = nil
		fixes = append(fixes, "categories selected without profile, selection cleared")
	}
	return fixes
}

// Clone returns a deep copy.
func (s AppState) Clone() AppState {
	out := s
	out.Profile = s.Profile.Clone()
	out.SelectedCategories = append([]string(nil), s.SelectedCategories...)
	if len(out.SelectedCategories) == 0 {
		out.SelectedCategories = nil
	}
	return out
}

// NormalizeSet trims entries and drops blanks and duplicates, keeping the
// first occurrence order.
func NormalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
