// Command arkpop is the population tracker bot. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the sample store (bbolt or Postgres, with migrations).
//   - Starts background jobs: the status tracker, sample retention, the Twitch chat
//     listener and the OAuth token refresher.
//   - Serves charts, samples, admin routes, /healthz, /readyz and /metrics over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/arkpop/battlemetrics"
	"github.com/onnwee/arkpop/bot"
	"github.com/onnwee/arkpop/chart"
	"github.com/onnwee/arkpop/chat"
	"github.com/onnwee/arkpop/config"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/monitor"
	"github.com/onnwee/arkpop/oauth"
	"github.com/onnwee/arkpop/server"
	"github.com/onnwee/arkpop/telemetry"
	"github.com/onnwee/arkpop/twitchapi"
)

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	logCloser := telemetry.SetupLogging(telemetry.LogOptionsFromEnv())
	defer func() { _ = logCloser.Close() }()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("arkpop", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err), slog.String("backend", cfg.StoreBackend))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bm := battlemetrics.NewClient(cfg.BattleMetricsBaseURL, cfg.BattleMetricsToken, cfg.ResolveTimeout)
	bm.GameID = cfg.GameID
	bm.GameSlug = cfg.GameSlug

	var oauthCfg *oauth2.Config
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" && cfg.TwitchRedirectURI != "" {
		oauthCfg = twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
		oauth.StartRefresher(ctx, store, twitchapi.ProviderTwitch, 5*time.Minute, 15*time.Minute, twitchapi.RefreshFunc(oauthCfg))
	}
	userToken := twitchapi.StoredUserToken(store, twitchapi.ProviderTwitch, cfg.TwitchOAuthToken)

	var notifier monitor.Notifier
	if cfg.WhispersEnabled() {
		helix := &twitchapi.HelixClient{
			ClientID:       cfg.TwitchClientID,
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			UserToken:      userToken,
		}
		notifier = twitchapi.NewWhisperNotifier(helix, cfg.TwitchBotUsername, "")
	} else {
		slog.Warn("whispers disabled (need TWITCH_CLIENT_ID and TWITCH_BOT_USERNAME); transitions are tracked but not announced")
	}

	tracker := monitor.NewTracker(store, bm, notifier, monitor.Config{
		Interval:      cfg.CheckInterval,
		Cooldown:      cfg.CheckCooldown,
		Concurrency:   cfg.CheckConcurrency,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	go tracker.Run(ctx)

	go monitor.StartRetentionJob(ctx, store, monitor.LoadRetentionPolicy())

	dispatcher := bot.NewDispatcher(bm, store, tracker, cfg.CommandPrefix, cfg.PublicBaseURL)
	dispatcher.Location = cfg.Location

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat listener disabled", slog.Any("reason", err))
	} else {
		listener := &chat.Listener{
			Handler:  dispatcher,
			Username: cfg.TwitchBotUsername,
			Channels: cfg.TwitchChannels,
			Prefix:   cfg.CommandPrefix,
			Token:    chat.TokenFunc(userToken),
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				slog.Error("chat listener exited", slog.Any("err", err))
			}
		}()
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	handlers := server.NewHandlers(server.Deps{
		Store:          store,
		Tracker:        tracker,
		Renderer:       chart.NewPNGRenderer(cfg.GraphMaxPop),
		Location:       cfg.Location,
		AdminToken:     cfg.AdminToken,
		OAuth:          oauthCfg,
		ChatConfigured: cfg.ChatEnabled() || cfg.WhispersEnabled(),
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, handlers)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// openStore opens the configured backend and brings the Postgres schema up to date.
func openStore(cfg *config.Config) (db.Store, error) {
	sealer, err := db.SealerFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.StoreBackend, cfg.DBDsn, cfg.BoltPath, db.Options{Sealer: sealer})
	if err != nil {
		return nil, err
	}
	pg, ok := store.(*db.PostgresStore)
	if !ok {
		slog.Info("using bbolt store", slog.String("path", cfg.BoltPath))
		return store, nil
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(pg.DB); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), pg.DB); err != nil {
			_ = store.Close()
			return nil, errors.Join(errors.New("both versioned and embedded migrations failed"), err)
		}
	}
	return store, nil
}

func startPprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
