package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/carecompanion/internal/domain"
)

// RegisterScreenRoutes registers the navigation routes.
func (h *Handler) RegisterScreenRoutes(r chi.Router) {
	r.Get("/screen", h.GetScreen)
	r.Get("/state", h.GetState)
	r.Post("/welcome/start", h.Start)
	r.Post("/onboarding/finish", h.FinishOnboarding)
	r.Get("/categories", h.ListCategories)
	r.Post("/categories/confirm", h.ConfirmCategories)
	r.Post("/categories/close", h.CloseCategory)
	r.Post("/categories/{id}/open", h.OpenCategory)
	r.Post("/overlays/{overlay}/open", h.OpenOverlay)
	r.Post("/overlays/{overlay}/close", h.CloseOverlay)
}

// GetScreen returns the active screen, flags and state.
func (h *Handler) GetScreen(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.app.Current())
}

// GetState returns the persisted AppState only.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.app.Current().State)
}

// Start handles the Welcome screen's button.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.app.Start(r.Context()))
}

// FinishOnboarding saves the onboarding answers.
func (h *Handler) FinishOnboarding(w http.ResponseWriter, r *http.Request) {
	var profile domain.Profile
	if !decode(w, r, &profile) {
		return
	}
	v, err := h.app.FinishOnboarding(r.Context(), profile)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

type confirmCategoriesRequest struct {
	Categories []string `json:"categories"`
}

// ConfirmCategories records the category selection.
func (h *Handler) ConfirmCategories(w http.ResponseWriter, r *http.Request) {
	var req confirmCategoriesRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := h.app.ConfirmCategories(r.Context(), req.Categories)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// ListCategories returns the catalog with the user's selection marked.
func (h *Handler) ListCategories(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, listResponse{Items: h.app.Categories(), Notices: notices(nil)})
}

// OpenCategory shows the events of one category.
func (h *Handler) OpenCategory(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.OpenCategory(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// CloseCategory hides the category events overlay.
func (h *Handler) CloseCategory(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.app.CloseCategory())
}

// OpenOverlay sets an overlay flag.
func (h *Handler) OpenOverlay(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.OpenOverlay(chi.URLParam(r, "overlay"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// CloseOverlay clears an overlay flag.
func (h *Handler) CloseOverlay(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.CloseOverlay(chi.URLParam(r, "overlay"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}
