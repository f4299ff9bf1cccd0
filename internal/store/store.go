// Package store provides the durable key/value state store and its implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Logical keys held in the store.
const (
	KeyAppState     = "appState"
	KeyEvents       = "events"
	KeyDeviceID     = "deviceId"
	KeyPreferenceID = "preferenceId"
)

// Store defines the durable key/value storage used by the application.
// Every Set is a full overwrite of the value at key; callers read-modify-write
// whole structures.
type Store interface {
	// Get returns the value at key. found is false when the key was never set.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set overwrites the value at key.
	Set(ctx context.Context, key string, value []byte) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}

// ReadJSON decodes the JSON value at key into v.
func ReadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, found, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// WriteJSON encodes v and overwrites the value at key.
func WriteJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
