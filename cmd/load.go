package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/events"
)

func newLoadCmd() *cobra.Command {
	var (
		opts    calendar.LoadOptions
		timeout    time.Duration
		raw        bool
		showEvents bool
	)
	cmd := &cobra.Command{
		Use:   "load <protocol:location>",
		Short: "Load one external calendar",
		Example: `  calsources load https:example.com/calendars/harptos.json
  calsources load github:owner/repo/calendars#harptos
  calsources load file:./calendars/index.json --calendar harptos --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts.Timeout = timeout
			var rec *events.Recorder
			if showEvents {
				rec = events.NewRecorder(0)
				sub := appInstance.Events().Subscribe(events.TypeAll, rec)
				defer appInstance.Events().Unsubscribe(sub)
			}
			res := appInstance.Registry().LoadExternalCalendar(cmd.Context(), args[0], opts)
			if rec != nil {
				for _, evt := range rec.Drain() {
					fmt.Fprintf(cmd.ErrOrStderr(), "event %s %s from_cache=%t\n", evt.Type, evt.CalendarID, evt.FromCache)
				}
			}
			if !res.Success {
				return fmt.Errorf("load %s: %s (%s)", args[0], res.Error, res.ErrorKind)
			}

			var payload any = res
			if raw {
				payload = res.Calendar
			}
			enc := json.NewEncoder(out(cmd))
			enc.SetIndent("", "  ")
			if err := enc.Encode(payload); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.CalendarID, "calendar", "", "calendar id to select from a collection")
	cmd.Flags().BoolVar(&opts.SkipCache, "skip-cache", false, "bypass the cache entirely")
	cmd.Flags().BoolVar(&opts.ForceRefresh, "force", false, "refetch and overwrite the cached copy")
	cmd.Flags().BoolVar(&opts.IgnoreEnvironment, "ignore-environment", false, "cache even on local development hosts")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (default from http.timeout_seconds)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the calendar document")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print lifecycle events to stderr")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <protocol:location>",
		Short: "Load a calendar, then report whether its source changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reg := appInstance.Registry()
			res := reg.LoadExternalCalendar(cmd.Context(), args[0], calendar.LoadOptions{IgnoreEnvironment: true})
			if !res.Success {
				return fmt.Errorf("load %s: %s (%s)", args[0], res.Error, res.ErrorKind)
			}
			changed := reg.CheckForUpdates(cmd.Context(), args[0])
			_, err = fmt.Fprintf(out(cmd), "%s version=%s changed=%t\n", args[0], res.VersionTag, changed)
			return err
		},
	}
}
