package nav

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/store"
)

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	Screen Screen          `json:"screen"`
	State  domain.AppState `json:"state"`
	Flags  Flags           `json:"flags"`
	Loaded bool            `json:"loaded"`
}

// Machine is the state container for AppState and the overlay flags.
// Mutators write AppState through to the store. A failed write keeps the
// in-memory change and returns an ErrStorage warning.
type Machine struct {
	store store.Store

	mu     sync.Mutex
	state  domain.AppState
	flags  Flags
	loaded bool
}

// NewMachine creates a machine in the Loading screen.
func NewMachine(s store.Store) *Machine {
	return &Machine{store: s, state: domain.DefaultAppState()}
}

// Load reads AppState from the store. A missing record or a failed read
// leaves the first-launch defaults in place; the read error is returned as
// a warning. A record violating the ratchet invariants is repaired.
func (m *Machine) Load(ctx context.Context) error {
	var state domain.AppState
	found, err := store.ReadJSON(ctx, m.store, store.KeyAppState, &state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true

	if err != nil {
		slog.Warn("Failed to load app state, using defaults", "error", err)
		m.state = domain.DefaultAppState()
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !found {
		slog.Info("No app state stored, first launch")
		m.state = domain.DefaultAppState()
		return nil
	}

	if state.Profile != nil {
		state.Profile.Normalize()
	}
	state.SelectedCategories = domain.NormalizeSet(state.SelectedCategories)
	if len(state.SelectedCategories) == 0 {
		state.SelectedCategories = nil
	}
	for _, fix := range state.Repair() {
		slog.Warn("Repaired stored app state", "fix", fix)
	}
	m.state = state
	slog.Info("App state loaded",
		"completed_onboarding", state.HasCompletedOnboarding,
		"selected_categories", state.HasSelectedCategories,
		"has_profile", state.Profile != nil)
	return nil
}

// Start is the Welcome screen's action.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.HasCompletedOnboarding = true
	return m.persistLocked(ctx)
}

// FinishOnboarding saves the profile, replacing any previous one.
func (m *Machine) FinishOnboarding(ctx context.Context, profile domain.Profile) error {
	profile.Normalize()
	if err := profile.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Profile = profile.Clone()
	m.state.HasCompletedOnboarding = true
	return m.persistLocked(ctx)
}

// ConfirmCategories records the selection and flips hasSelectedCategories.
func (m *Machine) ConfirmCategories(ctx context.Context, selection []string) error {
	selection = domain.NormalizeSet(selection)
	if len(selection) == 0 {
		return fmt.Errorf("%w: select at least one category", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Profile == nil {
		return domain.ErrProfileRequired
	}
	m.state.SelectedCategories = selection
	m.state.HasSelectedCategories = true
	return m.persistLocked(ctx)
}

// Open sets an overlay flag.
func (m *Machine) Open(o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags.set(o, true)
}

// Close clears an overlay flag.
func (m *Machine) Close(o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags.set(o, false)
}

// OpenCategory shows recommendations for one category.
func (m *Machine) OpenCategory(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: category id is empty", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags.Category = id
	return nil
}

// CloseCategory hides the category events overlay.
func (m *Machine) CloseCategory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags.Category = ""
}

// Screen returns the active screen.
func (m *Machine) Screen() Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SelectScreen(m.state, m.loaded, m.flags)
}

// State returns a copy of the current AppState.
func (m *Machine) State() domain.AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Flags returns the current overlay flags.
func (m *Machine) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// Snapshot returns screen, state and flags taken under one lock.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Screen: SelectScreen(m.state, m.loaded, m.flags),
		State:  m.state.Clone(),
		Flags:  m.flags,
		Loaded: m.loaded,
	}
}

func (m *Machine) persistLocked(ctx context.Context) error {
	if err := store.WriteJSON(ctx, m.store, store.KeyAppState, m.state); err != nil {
		slog.Warn("Failed to persist app state, keeping in-memory copy", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}
