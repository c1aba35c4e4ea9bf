package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onnwee/arkpop/db"
)

// app carries the resolved settings shared by every subcommand.
type app struct {
	v   *viper.Viper
	out io.Writer
	// now is overridable in tests.
	now func() time.Time
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, now: time.Now}
	var cfgFile string

	root := &cobra.Command{
		Use:           "arkpopctl",
		Short:         "Operate an arkpop population tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			a.v.SetConfigFile(cfgFile)
			if err := a.v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", cfgFile, err)
			}
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("store", "bolt", "store backend: bolt or postgres")
	pf.String("db-dsn", "", "Postgres DSN")
	pf.String("bolt-path", "data/arkpop.db", "bbolt file path")
	pf.String("tz", "Local", "display time zone for summaries")
	pf.String("battlemetrics-url", "https://api.battlemetrics.com", "BattleMetrics API base URL")
	pf.String("battlemetrics-token", "", "BattleMetrics API token")
	_ = a.v.BindPFlags(pf)
	a.v.SetEnvPrefix("ARKPOP")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.migrateCmd(),
		a.monitorsCmd(),
		a.samplesCmd(),
		a.sweepCmd(),
		a.summaryCmd(),
		a.tokensCmd(),
	)
	return root
}

// openStore opens the configured backend. Callers close it.
func (a *app) openStore() (db.Store, error) {
	sealer, err := db.SealerFromEnv()
	if err != nil {
		return nil, err
	}
	backend := a.v.GetString("store")
	dsn := a.v.GetString("db-dsn")
	if (backend == "postgres" || backend == "pg") && dsn == "" {
		return nil, errors.New("--db-dsn (or ARKPOP_DB_DSN) is required for the postgres store")
	}
	return db.Open(backend, dsn, a.v.GetString("bolt-path"), db.Options{Sealer: sealer})
}

func (a *app) location() (*time.Location, error) {
	return time.LoadLocation(a.v.GetString("tz"))
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, store db.Store) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(cmd.Context(), store)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store db.Store) error {
				pg, ok := store.(*db.PostgresStore)
				if !ok {
					fmt.Fprintln(a.out, "bolt store creates its buckets on open; nothing to migrate")
					return nil
				}
				if err := db.RunMigrations(pg.DB); err != nil {
					return err
				}
				version, dirty, err := db.GetMigrationVersion(pg.DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "schema version %d (dirty=%v)\n", version, dirty)
				return nil
			})
		},
	}
}
