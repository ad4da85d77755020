package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage configured calendar sources",
	}
	cmd.AddCommand(newSourcesListCmd(), newSourcesAddCmd(), newSourcesRemoveCmd(), newSourcesRefreshCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tID\tENABLED\tTRUSTED\tLAST CHECKED")
			for _, src := range appInstance.Registry().Sources() {
				checked := "-"
				if src.LastChecked != nil {
					checked = src.LastChecked.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", src.Label, src.ID(), src.Enabled, src.Trusted, checked)
			}
			return tw.Flush()
		},
	}
}

func newSourcesAddCmd() *cobra.Command {
	var (
		src      calendar.ExternalSource
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add <protocol:location>",
		Short: "Add a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			protocolName, loc, err := calendar.ParseID(args[0])
			if err != nil {
				return err
			}
			src.Protocol, src.Location, src.Enabled = protocolName, loc, !disabled
			added, err := appInstance.Registry().AddSource(cmd.Context(), src)
			if err != nil {
				return fmt.Errorf("add source: %w", err)
			}
			if !added {
				_, err = fmt.Fprintf(out(cmd), "%s is already configured\n", args[0])
				return err
			}
			stored, _ := appInstance.Registry().Source(protocolName, loc)
			_, err = fmt.Fprintf(out(cmd), "added %s as %s\n", args[0], stored.Label)
			return err
		},
	}
	cmd.Flags().StringVar(&src.Label, "label", "", "display label (derived from the location when empty)")
	cmd.Flags().StringVar(&src.Namespace, "namespace", "", "namespace override")
	cmd.Flags().StringVar(&src.CalendarID, "calendar", "", "calendar id override")
	cmd.Flags().BoolVar(&src.Trusted, "trusted", false, "mark the source as trusted")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the source without enabling updates")
	return cmd
}

func newSourcesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <protocol:location>",
		Short: "Remove a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			protocolName, loc, err := calendar.ParseID(args[0])
			if err != nil {
				return err
			}
			removed, err := appInstance.Registry().RemoveSource(cmd.Context(), protocolName, loc)
			if err != nil {
				return fmt.Errorf("remove source: %w", err)
			}
			if !removed {
				return fmt.Errorf("%s is not configured", args[0])
			}
			_, err = fmt.Fprintf(out(cmd), "removed %s\n", args[0])
			return err
		},
	}
}

func newSourcesRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one update cycle over enabled sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n := appInstance.Registry().RunUpdateCycle(cmd.Context())
			_, err = fmt.Fprintf(out(cmd), "refreshed %d source(s)\n", n)
			return err
		},
	}
}
