// Package device provides the anonymous per-device identity sent to the backend.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/carecompanion/internal/store"
)

// HeaderName lets a UI shell see which device id the daemon uses.
const HeaderName = "X-Device-ID"

type contextKey int

const deviceIDKey contextKey = iota

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// IDFromContext extracts the device ID from the request context.
func IDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithID returns a context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

// IsValidID reports whether id is usable as a device identifier.
func IsValidID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func generateID() string {
	return "dev-" + uuid.NewString()
}

// Resolve returns the device id. A valid override wins and is stored;
// otherwise the stored id is reused, or a new one is generated and stored.
// A storage failure yields a process-lifetime id and a warning.
func Resolve(ctx context.Context, s store.Store, override string) (string, error) {
	override = strings.TrimSpace(override)
	if override != "" {
		if !IsValidID(override) {
			return "", fmt.Errorf("invalid device id override %q", override)
		}
		if err := store.WriteJSON(ctx, s, store.KeyDeviceID, override); err != nil {
			slog.Warn("Failed to store device id override", "error", err)
		}
		return override, nil
	}

	var stored string
	found, err := store.ReadJSON(ctx, s, store.KeyDeviceID, &stored)
	if err != nil {
		slog.Warn("Failed to read device id, generating a new one", "error", err)
	}
	if found && err == nil && IsValidID(stored) {
		return stored, nil
	}

	id := generateID()
	if err := store.WriteJSON(ctx, s, store.KeyDeviceID, id); err != nil {
		slog.Warn("Failed to persist device id, it will change on restart", "error", err)
		return id, fmt.Errorf("persist device id: %w", err)
	}
	slog.Info("Generated device id", "device_id", id)
	return id, nil
}

// Middleware injects the device ID into every request context and echoes
// it in a response header.
func Middleware(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderName, id)
			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
