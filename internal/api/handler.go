// Package api provides the local HTTP API the UI shell talks to.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/carecompanion/internal/app"
	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/notify"
)

// StreamRecorder counts connected reminder streams.
type StreamRecorder interface {
	StreamOpened()
	StreamClosed()
}

type nopStreams struct{}

func (nopStreams) StreamOpened() {}
func (nopStreams) StreamClosed() {}

// Handler provides common handler utilities.
type Handler struct {
	app            *app.Controller
	hub            *notify.Hub
	recent         *notify.Recent
	streams        StreamRecorder
	allowedOrigins []string
}

// NewHandler creates a new Handler. hub may be nil when reminders are off.
// allowedOrigins also gates the reminder websocket handshake.
func NewHandler(ctrl *app.Controller, hub *notify.Hub, streams StreamRecorder, allowedOrigins []string) *Handler {
	if streams == nil {
		streams = nopStreams{}
	}
	return &Handler{
		app:            ctrl,
		hub:            hub,
		streams:        streams,
		allowedOrigins: OriginPatterns(allowedOrigins),
	}
}

// SetRecent enables replay of recently fired reminders.
func (h *Handler) SetRecent(r *notify.Recent) {
	h.recent = r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps a domain error to a status code and writes it.
func fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProfileRequired):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNetwork):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStorage):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	Error(w, status, err.Error())
}

const maxJSONBody = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// listResponse wraps a list payload with the notices produced while building it.
type listResponse struct {
	Items   interface{}     `json:"items"`
	Notices []domain.Notice `json:"notices"`
}

func notices(n []domain.Notice) []domain.Notice {
	if n == nil {
		return []domain.Notice{}
	}
	return n
}
