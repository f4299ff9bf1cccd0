package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/carecompanion/internal/domain"
)

// RegisterEventRoutes registers event and recommendation routes.
func (h *Handler) RegisterEventRoutes(r chi.Router) {
	r.Get("/recommendations", h.ListRecommendations)
	r.Get("/events", h.ListEvents)
	r.Post("/events", h.AddEvent)
	r.Post("/events/enroll", h.Enroll)
	r.Get("/events.ics", h.ExportCalendar)
}

// ListRecommendations returns the feed, optionally for one category.
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	items, n, err := h.app.Recommendations(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, listResponse{Items: items, Notices: notices(n)})
}

// ListEvents returns the live events, soonest reminder first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	items, n := h.app.Upcoming(r.Context())
	JSON(w, http.StatusOK, listResponse{Items: items, Notices: notices(n)})
}

type addEventRequest struct {
	Title      string `json:"title"`
	Date       string `json:"date"`
	Recurrence string `json:"recurrence"`
}

type eventResponse struct {
	Event   domain.StoredEvent `json:"event"`
	Created bool               `json:"created"`
	Notices []domain.Notice    `json:"notices"`
}

// AddEvent creates a user event.
func (h *Handler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date, h.app.Location())
	if err != nil {
		fail(w, err)
		return
	}
	rec, err := domain.ParseRecurrence(req.Recurrence)
	if err != nil {
		fail(w, err)
		return
	}

	ev, n, err := h.app.AddEvent(r.Context(), req.Title, date, rec)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, eventResponse{Event: ev, Created: true, Notices: notices(n)})
}

// parseDate accepts RFC 3339 or a local "2006-01-02T15:04" wall time.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", domain.ErrValidation, s)
}

// Enroll adds a recommended event to the user's list.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var remote domain.RemoteEvent
	if !decode(w, r, &remote) {
		return
	}
	ev, created, n, err := h.app.Enroll(r.Context(), remote)
	if err != nil {
		fail(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	JSON(w, status, eventResponse{Event: ev, Created: created, Notices: notices(n)})
}

// ExportCalendar serves the live events as an iCalendar file.
func (h *Handler) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.app.ExportCalendar(r.Context(), &buf); err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="carecompanion.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
