package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/carecompanion/internal/app"
	"github.com/ashureev/carecompanion/internal/backend"
	"github.com/ashureev/carecompanion/internal/catalog"
	"github.com/ashureev/carecompanion/internal/config"
	"github.com/ashureev/carecompanion/internal/device"
	"github.com/ashureev/carecompanion/internal/events"
	"github.com/ashureev/carecompanion/internal/metrics"
	"github.com/ashureev/carecompanion/internal/nav"
	"github.com/ashureev/carecompanion/internal/notify"
	"github.com/ashureev/carecompanion/internal/store"
)

// components is the wired object graph shared by the daemon and the CLI
// commands.
type components struct {
	store    store.Store
	loc      *time.Location
	metrics  *metrics.Metrics
	hub      *notify.Hub
	recent   *notify.Recent
	platform *notify.CronPlatform
	events   *events.Repository
	ctrl     *app.Controller
}

// buildOptions selects the optional parts of the graph.
type buildOptions struct {
	// reminders attaches the cron platform. Events added without it get
	// their reminder on the daemon's next Resync.
	reminders bool
}

func build(ctx context.Context, cfg *config.Config, opts buildOptions) (*components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var s store.Store
	if ephemeral {
		slog.Info("Using in-memory store")
		s = store.NewMemory()
	} else {
		sq, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		s = sq
		slog.Info("Database connected", "path", cfg.DBPath)
	}

	c := &components{store: s, loc: loc, metrics: metrics.New()}

	deviceID, err := device.Resolve(ctx, s, cfg.DeviceID)
	if deviceID == "" {
		_ = s.Close()
		return nil, err
	}
	if err != nil {
		slog.Warn("Device id is not persisted", "error", err)
	}

	repoOpts := []events.Option{events.WithObserver(c.metrics)}
	if opts.reminders {
		c.hub = notify.NewHub()
		c.recent = notify.NewRecent(0)
		sink := notify.Fanout(c.hub, c.recent, c.metrics, notify.LogSink{})
		c.platform = notify.NewCronPlatform(loc, sink, cfg.NotificationsEnabled)
		repoOpts = append(repoOpts, events.WithScheduler(notify.NewScheduler(c.platform, loc)))
	}
	c.events = events.NewRepository(s, repoOpts...)

	var remote app.Backend
	if cfg.OnlineEnabled() {
		client, err := backend.New(backend.Options{
			BaseURL:  cfg.BackendURL,
			Timeout:  cfg.BackendTimeout,
			RetryMax: cfg.BackendRetryMax,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("initialize backend client: %w", err)
		}
		remote = client
		slog.Info("Online features enabled", "backend", client.BaseURL())
	} else {
		slog.Info("Online features disabled (BACKEND_URL not set)")
	}

	c.ctrl, err = app.New(app.Config{
		Store:               s,
		Machine:             nav.NewMachine(s),
		Events:              c.events,
		Backend:             remote,
		Catalog:             catalog.Default(),
		DeviceID:            deviceID,
		Location:            loc,
		RecommendationLimit: cfg.RecommendationLimit,
		Recorder:            c.metrics,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return c, nil
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
}
