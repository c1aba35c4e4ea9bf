package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/arkpop/db"
)

func (a *app) monitorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitors",
		Short: "List, add and remove server-up registrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
					monitors, err := store.ListMonitors(ctx)
					if err != nil {
						return err
					}
					if len(monitors) == 0 {
						fmt.Fprintln(a.out, "no monitored servers")
						return nil
					}
					tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SERVER ID\tTARGET\tSTATUS\tLAST CHECK")
					for _, m := range monitors {
						last := "never"
						if m.LastStatusCheck > 0 {
							last = time.Unix(m.LastStatusCheck, 0).UTC().Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ServerID, m.NotifyTarget, m.Status, last)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "add <server-id> <target>",
			Short: "Register a server; target is the Twitch user id to whisper",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
					if err := store.AddMonitor(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "monitoring %s for %s\n", args[0], args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <server-id>",
			Short: "Remove a registration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
					if err := store.RemoveMonitor(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "removed %s\n", args[0])
					return nil
				})
			},
		},
		a.setStatusCmd(),
	)
	return cmd
}

// setStatusCmd is the only way to mark a server dead.
func (a *app) setStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <server-id> <unknown|online|offline|dead>",
		Short: "Override the stored status of a registration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := db.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				updated, err := store.UpdateMonitorStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				if !updated {
					return fmt.Errorf("server %s is not monitored", args[0])
				}
				fmt.Fprintf(a.out, "%s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}
