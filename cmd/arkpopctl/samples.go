package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/arkpop/aggregate"
	"github.com/onnwee/arkpop/db"
)

func (a *app) samplesCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "samples <server-id>",
		Short: "Print raw samples for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours < 1 {
				return fmt.Errorf("--hours must be positive")
			}
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				samples, err := store.QueryWindow(ctx, args[0], a.now().Add(-time.Duration(hours)*time.Hour))
				if err != nil {
					return err
				}
				if len(samples) == 0 {
					fmt.Fprintf(a.out, "no samples for %s in the last %dh\n", args[0], hours)
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tPOPULATION")
				for _, s := range samples {
					fmt.Fprintf(tw, "%s\t%d\n", s.Time().UTC().Format(time.RFC3339), s.Population)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "window size in hours")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "summary <server-id>",
		Short: "Print the day or week summary the chat commands show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.location()
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				now := a.now()
				switch window {
				case "day":
					samples, err := store.QueryWindow(ctx, args[0], now.Add(-aggregate.DailyWindow))
					if err != nil {
						return err
					}
					view, err := aggregate.Daily(samples, now, loc)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "Highest Pop: %s\n", view.Max.Summary())
					fmt.Fprintf(a.out, "Lowest Pop: %s\n", view.Min.Summary())
					fmt.Fprintf(a.out, "Current: %d\n", view.Current)
				case "week":
					samples, err := store.QueryWindow(ctx, args[0], now.Add(-aggregate.WeeklyWindow))
					if err != nil {
						return err
					}
					view, err := aggregate.Weekly(samples, now, loc)
					if err != nil {
						return err
					}
					for _, line := range view.Lines() {
						fmt.Fprintln(a.out, line)
					}
				default:
					return fmt.Errorf("--window must be day or week, got %q", window)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", "day", "day or week")
	return cmd
}
