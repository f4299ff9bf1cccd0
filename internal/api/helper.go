package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/carecompanion/internal/app"
	"github.com/ashureev/carecompanion/internal/backend"
)

const maxUploadBytes = 16 << 20

// RegisterHelperRoutes registers the photo and voice helper proxies.
func (h *Handler) RegisterHelperRoutes(r chi.Router) {
	r.Post("/helper/scam-image", h.helper(app.HelperScamImage))
	r.Post("/helper/medication", h.helper(app.HelperMedication))
	r.Post("/helper/speech", h.helper(app.HelperSpeech))
}

// helper forwards the multipart "file" field to the backend helper of kind
// and relays its JSON answer unchanged.
func (h *Handler) helper(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			Error(w, http.StatusBadRequest, "invalid upload: "+err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			Error(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()

		out, err := h.app.Helper(r.Context(), kind, backend.Upload{Filename: header.Filename, Data: file})
		if err != nil {
			fail(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}
