package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/carecompanion/internal/store"
)

func TestResolveGeneratesAndReuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()

	first, err := Resolve(ctx, s, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(first, "dev-") || !IsValidID(first) {
		t.Fatalf("unexpected id %q", first)
	}
	second, err := Resolve(ctx, s, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable id, got %q then %q", first, second)
	}
}

func TestResolveOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()

	id, err := Resolve(ctx, s, " demo-device-id-123 ")
	if err != nil || id != "demo-device-id-123" {
		t.Fatalf("Resolve = %q, %v", id, err)
	}
	again, _ := Resolve(ctx, s, "")
	if again != "demo-device-id-123" {
		t.Fatalf("expected override to persist, got %q", again)
	}
	if _, err := Resolve(ctx, s, "bad id with spaces"); err == nil {
		t.Fatal("expected invalid override to be rejected")
	}
}

func TestResolveStorageFailure(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	s.FailGets(true)
	s.FailSets(true)

	id, err := Resolve(context.Background(), s, "")
	if err == nil {
		t.Fatal("expected persist warning")
	}
	if !IsValidID(id) {
		t.Fatalf("expected a usable id despite failure, got %q", id)
	}
}

func TestMiddlewareInjectsID(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware("dev-1")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = IDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/screen", nil))

	if seen != "dev-1" {
		t.Fatalf("expected dev-1 in context, got %q", seen)
	}
	if got := w.Header().Get(HeaderName); got != "dev-1" {
		t.Fatalf("expected header, got %q", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	if got := IPFromRequest(r); got != "192.0.2.10" {
		t.Fatalf("IPFromRequest = %q", got)
	}
	r.RemoteAddr = "pipe"
	if got := IPFromRequest(r); got != "pipe" {
		t.Fatalf("IPFromRequest = %q", got)
	}
}
