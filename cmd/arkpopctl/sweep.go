package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/arkpop/battlemetrics"
	"github.com/onnwee/arkpop/config"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/monitor"
	"github.com/onnwee/arkpop/twitchapi"
)

func (a *app) sweepCmd() *cobra.Command {
	var notify bool
	var concurrency int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one status sweep over every registration",
		Long: `Resolve every monitored server once, record a sample for each and update
stored statuses. Without --notify, transitions are recorded but nobody is whispered.
Do not run this while the bot is running against the same bbolt file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				var notifier monitor.Notifier
				if notify {
					n, err := whisperNotifierFromEnv(store)
					if err != nil {
						return err
					}
					notifier = n
				}
				bm := battlemetrics.NewClient(a.v.GetString("battlemetrics-url"), a.v.GetString("battlemetrics-token"), 10*time.Second)
				tracker := monitor.NewTracker(store, bm, notifier, monitor.Config{Concurrency: concurrency})
				if err := tracker.Load(ctx); err != nil {
					return err
				}
				res, err := tracker.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "checked: %d\n", res.Checked)
				for _, row := range []struct {
					label string
					o     monitor.Outcome
				}{
					{"unchanged", monitor.OutcomeUnchanged},
					{"seeded", monitor.OutcomeSeeded},
					{"came online", monitor.OutcomeNotified},
					{"resolve failed", monitor.OutcomeResolveFailed},
					{"store failed", monitor.OutcomeStoreFailed},
					{"removed (unreachable)", monitor.OutcomeRemoved},
					{"gone", monitor.OutcomeGone},
					{"dead", monitor.OutcomeDead},
				} {
					if n := res.Count(row.o); n > 0 {
						fmt.Fprintf(a.out, "%s: %d\n", row.label, n)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "whisper server-up notifications (uses TWITCH_* env)")
	cmd.Flags().IntVar(&concurrency, "concurrency", monitor.DefaultConcurrency, "parallel lookups")
	return cmd
}

func whisperNotifierFromEnv(store db.Store) (*twitchapi.WhisperNotifier, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.WhispersEnabled() || cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("--notify needs TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET and TWITCH_BOT_USERNAME")
	}
	helix := &twitchapi.HelixClient{
		ClientID:       cfg.TwitchClientID,
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		UserToken:      twitchapi.StoredUserToken(store, twitchapi.ProviderTwitch, cfg.TwitchOAuthToken),
	}
	return twitchapi.NewWhisperNotifier(helix, cfg.TwitchBotUsername, ""), nil
}
