// CareCompanion - local companion daemon and CLI
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/carecompanion/internal/config"
)

var (
	logLevel  = new(slog.LevelVar)
	cfg       *config.Config
	ephemeral bool
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "CareCompanion local daemon and command line",
	Long: `companion keeps the onboarding state and personal event list of a
CareCompanion device, schedules reminders, and serves the local API the
UI shell renders from.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if flagLevel, _ := cmd.Flags().GetString("loglevel"); flagLevel != "" {
			if err := loaded.LogLevel.UnmarshalText([]byte(flagLevel)); err != nil {
				return fmt.Errorf("invalid --loglevel %q: %w", flagLevel, err)
			}
		}
		logLevel.Set(loaded.LogLevel)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("loglevel", "l", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep all state in memory instead of DB_PATH")
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
