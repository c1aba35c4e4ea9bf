package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/arkpop/db"
)

// tokensCmd re-writes stored OAuth tokens so they are sealed with the current
// ENCRYPTION_KEY. Plaintext rows become encrypted; encrypted rows are re-sealed.
func (a *app) tokensCmd() *cobra.Command {
	var dryRun bool
	var providers []string
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage stored OAuth tokens",
	}
	seal := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt stored tokens with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("ENCRYPTION_KEY") == "" {
				return errors.New("ENCRYPTION_KEY must be set to seal tokens")
			}
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				for _, p := range providers {
					tok, ok, err := store.GetOAuthToken(ctx, p)
					if err != nil {
						return fmt.Errorf("read %s token: %w", p, err)
					}
					if !ok {
						fmt.Fprintf(a.out, "%s: no token stored\n", p)
						continue
					}
					if dryRun {
						fmt.Fprintf(a.out, "%s: would seal\n", p)
						continue
					}
					if err := store.UpsertOAuthToken(ctx, tok); err != nil {
						return fmt.Errorf("write %s token: %w", p, err)
					}
					fmt.Fprintf(a.out, "%s: sealed\n", p)
				}
				return nil
			})
		},
	}
	seal.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be sealed")
	seal.Flags().StringSliceVar(&providers, "provider", []string{"twitch"}, "providers to seal")
	cmd.AddCommand(seal)
	return cmd
}
