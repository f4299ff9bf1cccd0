package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/carecompanion/internal/api"
	"github.com/ashureev/carecompanion/internal/events"
	"github.com/ashureev/carecompanion/internal/probe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the companion daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting companion", "port", cfg.Port, "timezone", cfg.Timezone, "notifications", cfg.NotificationsEnabled)

	c, err := build(ctx, cfg, buildOptions{reminders: true})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	view := c.ctrl.Load(ctx)
	slog.Info("Initial screen", "screen", view.Screen)

	c.platform.Start()
	defer func() {
		<-c.platform.Stop().Done()
		slog.Info("Reminder scheduler stopped")
	}()

	if n, err := c.events.Resync(ctx); err != nil {
		slog.Warn("Failed to resync reminders", "error", err)
	} else {
		slog.Info("Reminders restored", "scheduled", n)
	}

	events.StartExpiryWorker(ctx, c.events, cfg.SweepInterval, nil)

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen on GRPC_ADDR: %w", err)
		}
		p := probe.New(c.store)
		p.StartChecker(ctx, 30*time.Second)
		go func() {
			if err := p.Serve(lis); err != nil {
				slog.Error("Health probe failed", "error", err)
			}
		}()
		defer p.Stop()
	}

	h := api.NewHandler(c.ctrl, c.hub, c.metrics, cfg.AllowedOrigins)
	h.SetRecent(c.recent)
	router := api.NewRouter(h, api.RouterOptions{
		DeviceID:       c.ctrl.DeviceID(),
		AllowedOrigins: cfg.AllowedOrigins,
		Instrument:     c.metrics.Middleware,
		Metrics:        c.metrics.Handler(),
	})

	// Websocket streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
