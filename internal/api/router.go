package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ashureev/carecompanion/internal/device"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	DeviceID       string
	AllowedOrigins []string
	// Instrument wraps every request, e.g. metrics.Metrics.Middleware.
	Instrument func(http.Handler) http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the local API router.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{device.HeaderName},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}
	r.Use(device.Middleware(opts.DeviceID))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		h.RegisterScreenRoutes(r)
		h.RegisterEventRoutes(r)
		h.RegisterHelperRoutes(r)
		r.Get("/reminders/recent", h.RecentReminders)
	})

	r.Get("/ws/reminders", h.Reminders)

	return r
}

// OriginPatterns converts allowed origins to the host patterns the
// websocket handshake matches against.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
