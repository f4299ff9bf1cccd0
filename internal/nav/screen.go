// Package nav decides which screen is active from the persisted AppState and
// the transient overlay flags, and owns the mutators that move a user
// through the onboarding funnel.
package nav

import (
	"fmt"
	"strings"

	"github.com/ashureev/carecompanion/internal/domain"
)

// Screen identifies the active screen.
type Screen string

const (
	ScreenLoading           Screen = "loading"
	ScreenVoiceOverlay      Screen = "voice-overlay"
	ScreenPhotoHelpOverlay  Screen = "photo-help-overlay"
	ScreenWelcome           Screen = "welcome"
	ScreenOnboarding        Screen = "onboarding"
	ScreenAddEventOverlay   Screen = "add-event-overlay"
	ScreenEventsListOverlay Screen = "events-list-overlay"
	ScreenCategoryEvents    Screen = "category-events-overlay"
	ScreenCategorySelection Screen = "category-selection"
	ScreenMainApp           Screen = "main-app"
)

// Overlay names a transient, reversible screen flag.
type Overlay string

const (
	OverlayVoice      Overlay = "voice"
	OverlayPhotoHelp  Overlay = "photo-help"
	OverlayAddEvent   Overlay = "add-event"
	OverlayEventsList Overlay = "events-list"
)

// ParseOverlay validates an overlay name.
func ParseOverlay(s string) (Overlay, error) {
	o := Overlay(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case OverlayVoice, OverlayPhotoHelp, OverlayAddEvent, OverlayEventsList:
		return o, nil
	}
	return "", fmt.Errorf("%w: unknown overlay %q", domain.ErrValidation, s)
}

// Flags are the transient overlay flags. They are never persisted.
type Flags struct {
	Voice      bool   `json:"voice"`
	PhotoHelp  bool   `json:"photoHelp"`
	AddEvent   bool   `json:"addEvent"`
	EventsList bool   `json:"eventsList"`
	Category   string `json:"category,omitempty"`
}

func (f *Flags) set(o Overlay, on bool) {
	switch o {
	case OverlayVoice:
		f.Voice = on
	case OverlayPhotoHelp:
		f.PhotoHelp = on
	case OverlayAddEvent:
		f.AddEvent = on
	case OverlayEventsList:
		f.EventsList = on
	}
}

// SelectScreen returns the active screen. The first matching rule wins:
// loading, voice, photo help, welcome, onboarding, add event, events list,
// category events, category selection, main app.
func SelectScreen(state domain.AppState, loaded bool, flags Flags) Screen {
	switch {
	case !loaded:
		return ScreenLoading
	case flags.Voice:
		return ScreenVoiceOverlay
	case flags.PhotoHelp:
		return ScreenPhotoHelpOverlay
	case !state.HasCompletedOnboarding:
		return ScreenWelcome
	case state.Profile == nil:
		return ScreenOnboarding
	case flags.AddEvent:
		return ScreenAddEventOverlay
	case flags.EventsList:
		return ScreenEventsListOverlay
	case flags.Category != "":
		return ScreenCategoryEvents
	case !state.HasSelectedCategories:
		return ScreenCategorySelection
	default:
		return ScreenMainApp
	}
}
