package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks a recoverable persistence failure. The caller keeps
	// its in-memory view and carries on.
	ErrStorage = errors.New("storage unavailable")

	// ErrValidation marks input rejected before any mutation or network call.
	ErrValidation = errors.New("invalid input")

	// ErrEmptyTitle is returned when an event title is blank.
	ErrEmptyTitle = fmt.Errorf("%w: event title is empty", ErrValidation)

	// ErrProfileRequired is returned when a step needs a saved profile.
	ErrProfileRequired = errors.New("profile required")

	// ErrPermissionDenied is returned when the platform refused a permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTriggerInPast is returned when a one-time reminder is already due.
	ErrTriggerInPast = errors.New("reminder time already passed")

	// ErrNetwork marks a backend call that failed or returned non-2xx.
	ErrNetwork = errors.New("backend unavailable")

	// ErrAlreadyRegistered is the backend's answer to a repeated attendance.
	// Callers treat it as success.
	ErrAlreadyRegistered = errors.New("already registered")
)

// Notice is a user-visible, dismissible message.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notice levels.
const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
	NoticeError   = "error"
)
