// Package metrics exposes Prometheus counters for the companion daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/notify"
)

const namespace = "carecompanion"

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsCreated   *prometheus.CounterVec
	eventsPruned    prometheus.Counter
	enrollments     *prometheus.CounterVec
	remindersFired  *prometheus.CounterVec
	screenViews     *prometheus.CounterVec
	backendCalls    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	reminderStreams prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Events added by the user",
		}, []string{"recurrence"}),
		eventsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_pruned_total",
			Help:      "Expired or undecodable events removed from storage",
		}),
		enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enroll calls by outcome",
		}, []string{"outcome"}),
		remindersFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Reminders delivered by kind",
		}, []string{"kind"}),
		screenViews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screen_views_total",
			Help:      "Screens served to the UI shell",
		}, []string{"screen"}),
		backendCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call latency by operation and outcome",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"operation", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Local API latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"route"}),
		reminderStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminder_streams",
			Help:      "Connected reminder websocket clients",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventCreated implements events.Observer.
func (m *Metrics) EventCreated(r domain.Recurrence) {
	m.eventsCreated.WithLabelValues(string(r)).Inc()
}

// EventsPruned implements events.Observer.
func (m *Metrics) EventsPruned(n int) {
	m.eventsPruned.Add(float64(n))
}

// Enrolled implements events.Observer.
func (m *Metrics) Enrolled(created bool) {
	outcome := "existing"
	if created {
		outcome = "created"
	}
	m.enrollments.WithLabelValues(outcome).Inc()
}

// Deliver implements notify.Sink.
func (m *Metrics) Deliver(r notify.Reminder) {
	m.remindersFired.WithLabelValues(string(r.Kind)).Inc()
}

// ScreenServed counts a screen shown to the UI.
func (m *Metrics) ScreenServed(screen string) {
	m.screenViews.WithLabelValues(screen).Inc()
}

// BackendCall records one backend call.
func (m *Metrics) BackendCall(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.backendCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// StreamOpened counts a connected reminder websocket client.
func (m *Metrics) StreamOpened() { m.reminderStreams.Inc() }

// StreamClosed is the counterpart of StreamOpened.
func (m *Metrics) StreamClosed() { m.reminderStreams.Dec() }

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

var _ notify.Sink = (*Metrics)(nil)
