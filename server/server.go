// Package server exposes the HTTP surface: health and readiness probes, Prometheus
// metrics, rendered population charts, raw samples, monitor administration and the
// Twitch OAuth flow for the bot account. Every request gets a correlation id and a
// span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/arkpop/telemetry"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the rate limiter cleanup loop.
func NewMux(ctx context.Context, h *Handlers) http.Handler {
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	auth := &authConfig{adminToken: h.deps.AdminToken, enabled: h.deps.AdminToken != ""}
	if !auth.enabled {
		slog.Warn("ADMIN_TOKEN not set, monitor admin endpoints are disabled", slog.String("component", "http"))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(fn, limiter), auth)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.Handle("GET /charts/{id}/day.png", rateLimitMiddleware(h.HandleChart(WindowDay), limiter))
	mux.Handle("GET /charts/{id}/week.png", rateLimitMiddleware(h.HandleChart(WindowWeek), limiter))
	mux.HandleFunc("GET /servers/{id}/samples", h.HandleSamples)

	mux.Handle("GET /monitors", admin(h.HandleMonitorsList))
	mux.Handle("DELETE /monitors/{id}", admin(h.HandleMonitorDelete))

	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /auth/twitch/callback", h.HandleTwitchOAuthCallback)

	return withCORSConfig(withObservability(mux), loadCORSConfig())
}

// withObservability injects the correlation id and wraps the request in a span.
func withObservability(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		_, route := next.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		ctx, span := telemetry.StartSpan(ctx, "http-server", route, telemetry.HTTPAttrs(r.Method, route)...)
		defer span.End()

		logger := telemetry.LoggerWithCorr(ctx)
		logger.Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		logger.Debug("request done",
			slog.String("component", "http"),
			slog.String("route", route),
			slog.Int("status", rec.statusCode),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", ln.Addr().String()), slog.String("component", "http"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "0123456789") == ""
}
