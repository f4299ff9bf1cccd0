// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Config holds all application configuration.
type Config struct {
	Port                 string
	DBPath               string
	BackendURL           string // empty disables online features
	BackendTimeout       time.Duration
	BackendRetryMax      int
	DeviceID             string // overrides the stored device id
	Timezone             string
	NotificationsEnabled bool
	SweepInterval        time.Duration
	RecommendationLimit  int
	GRPCAddr             string // empty disables the health probe
	AllowedOrigins       []string
	LogLevel             slog.Level
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	expanded, err := homedir.Expand(dbPath)
	if err != nil {
		return nil, fmt.Errorf("expand DB_PATH: %w", err)
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               expanded,
		BackendURL:           strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
		BackendTimeout:       time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,
		BackendRetryMax:      getEnvInt("BACKEND_RETRY_MAX", 3),
		DeviceID:             getEnv("DEVICE_ID", ""),
		Timezone:             getEnv("TIMEZONE", "Local"),
		NotificationsEnabled: getEnvBool("NOTIFICATIONS_ENABLED", true),
		SweepInterval:        time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		RecommendationLimit:  getEnvInt("RECOMMENDATION_LIMIT", 20),
		GRPCAddr:             getEnv("GRPC_ADDR", ""),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:             parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultDBPath is the database location when DB_PATH is unset.
func DefaultDBPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".", "data", "companion.db")
	}
	return filepath.Join(home, ".carecompanion", "companion.db")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("BACKEND_URL must be an http(s) URL, got %q", c.BackendURL)
		}
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT_SECONDS must be > 0")
	}
	if c.BackendRetryMax < 0 {
		return fmt.Errorf("BACKEND_RETRY_MAX must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be > 0")
	}
	if c.RecommendationLimit <= 0 {
		return fmt.Errorf("RECOMMENDATION_LIMIT must be > 0")
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// OnlineEnabled reports whether a backend is configured.
func (c *Config) OnlineEnabled() bool {
	return c.BackendURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
