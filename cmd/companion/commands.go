package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/carecompanion/internal/app"
	"github.com/ashureev/carecompanion/internal/domain"
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Print the active screen and app state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd, func(ctrl *app.Controller) error {
			return printJSON(cmd.OutOrStdout(), ctrl.Load(cmd.Context()))
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Leave the welcome screen",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd, func(ctrl *app.Controller) error {
			ctrl.Load(cmd.Context())
			return printJSON(cmd.OutOrStdout(), ctrl.Start(cmd.Context()))
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage the personal event list",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upcoming events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withController(cmd, func(ctrl *app.Controller) error {
			list, notices := ctrl.Upcoming(cmd.Context())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"items": list, "notices": notices})
			}
			printNotices(cmd.ErrOrStderr(), notices)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tREPEATS\tNEXT")
			for _, ev := range list {
				next := "-"
				if ev.NextAt != nil {
					next = ev.NextAt.In(ctrl.Location()).Format("Mon 02 Jan 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.ID, ev.Title, ev.Recurrence, next)
			}
			return tw.Flush()
		})
	},
}

var eventsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an event",
	Example: `  companion events add --title "Doctor" --date 2025-06-01T10:00
  companion events add --title "Pills" --date 2025-06-01T08:30 --daily`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		title, _ := cmd.Flags().GetString("title")
		rawDate, _ := cmd.Flags().GetString("date")
		daily, _ := cmd.Flags().GetBool("daily")

		return withController(cmd, func(ctrl *app.Controller) error {
			date, err := parseLocalDate(rawDate, ctrl.Location())
			if err != nil {
				return err
			}
			rec := domain.RecurrenceOnce
			if daily {
				rec = domain.RecurrenceDaily
			}
			ev, notices, err := ctrl.AddEvent(cmd.Context(), title, date, rec)
			if err != nil {
				return err
			}
			printNotices(cmd.ErrOrStderr(), notices)
			return printJSON(cmd.OutOrStdout(), ev)
		})
	},
}

var eventsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write events as an iCalendar file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("output")
		return withController(cmd, func(ctrl *app.Controller) error {
			if out == "" || out == "-" {
				return ctrl.ExportCalendar(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := ctrl.ExportCalendar(cmd.Context(), f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		})
	},
}

func init() {
	rootCmd.AddCommand(screenCmd, startCmd, eventsCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsAddCmd, eventsExportCmd)

	eventsListCmd.Flags().Bool("json", false, "Print JSON instead of a table")

	eventsAddCmd.Flags().String("title", "", "Event title")
	eventsAddCmd.Flags().String("date", "", "Date and time, RFC 3339 or local YYYY-MM-DDTHH:MM")
	eventsAddCmd.Flags().Bool("daily", false, "Repeat every day at the same time")
	_ = eventsAddCmd.MarkFlagRequired("title")
	_ = eventsAddCmd.MarkFlagRequired("date")

	eventsExportCmd.Flags().StringP("output", "o", "-", "Output file, - for stdout")
}

func withController(cmd *cobra.Command, fn func(*app.Controller) error) error {
	c, err := build(cmd.Context(), cfg, buildOptions{})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c.ctrl)
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", domain.ErrValidation, s)
	}
	return t, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNotices(w io.Writer, notices []domain.Notice) {
	for _, n := range notices {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
}
