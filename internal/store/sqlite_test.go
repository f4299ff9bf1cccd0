package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "companion.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteGetMissingKey(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	v, found, err := s.Get(context.Background(), KeyAppState)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found || v != nil {
		t.Fatalf("expected missing key, got found=%v value=%q", found, v)
	}
}

func TestSQLiteSetOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.Set(ctx, KeyEvents, []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}
	if err := s.Set(ctx, KeyEvents, []byte(`[]`)); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	v, found, err := s.Get(ctx, KeyEvents)
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if string(v) != "[]" {
		t.Fatalf("expected full overwrite, got %s", v)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "companion.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Set(ctx, KeyDeviceID, []byte(`"dev-1"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s2.Close() }()

	var id string
	found, err := ReadJSON(ctx, s2, KeyDeviceID, &id)
	if err != nil || !found {
		t.Fatalf("ReadJSON failed: found=%v err=%v", found, err)
	}
	if id != "dev-1" {
		t.Fatalf("expected dev-1, got %q", id)
	}
}

func TestReadJSONCorruptValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, KeyAppState, []byte("{not json"))

	var v map[string]any
	found, err := ReadJSON(ctx, m, KeyAppState, &v)
	if !found {
		t.Fatal("expected found=true for corrupt value")
	}
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMemoryStoreInjectedFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	m.FailSets(true)
	if err := WriteJSON(ctx, m, KeyEvents, []string{}); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	m.FailSets(false)
	m.FailGets(true)
	if _, _, err := m.Get(ctx, KeyEvents); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if m.SetCount() != 0 {
		t.Fatalf("expected no successful writes, got %d", m.SetCount())
	}
}

func TestIsConflictClassifiesDriverCodes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "companion.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	open := func() *sql.DB {
		db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(0)")
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		return db
	}

	holder, err := open().Conn(ctx)
	if err != nil {
		t.Fatalf("Conn failed: %v", err)
	}
	t.Cleanup(func() { _ = holder.Close() })
	if _, err := holder.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("BEGIN IMMEDIATE failed: %v", err)
	}
	t.Cleanup(func() { _, _ = holder.ExecContext(ctx, "ROLLBACK") })

	_, busyErr := open().ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ('k', x'00', 0)`)
	if busyErr == nil {
		t.Fatal("expected write to fail while another writer holds the lock")
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", busyErr, true},
		{"wrapped busy", fmt.Errorf("set k: %w", busyErr), true},
		{"plain text", errors.New("database is locked"), false},
		{"other", errors.New("no such table: kv"), false},
	}
	for _, tt := range tests {
		if got := isConflict(tt.err); got != tt.want {
			t.Errorf("%s: isConflict(%v) = %v, want %v", tt.name, tt.err, got, tt.want)
		}
	}
}
