package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/arkpop/aggregate"
	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/telemetry"
)

// Chart windows served under /charts/{id}/.
const (
	WindowDay  = "day"
	WindowWeek = "week"
)

const renderTimeout = 20 * time.Second

func chartLabel(id string) string { return "Server " + id }

// renderChart loads the window's samples and renders them.
func (h *Handlers) renderChart(ctx context.Context, id, window string) ([]byte, error) {
	now := h.deps.Now()
	switch window {
	case WindowDay:
		samples, err := h.deps.Store.QueryWindow(ctx, id, now.Add(-aggregate.DailyWindow))
		if err != nil {
			return nil, err
		}
		view, err := aggregate.Daily(samples, now, h.deps.Location)
		if err != nil {
			return nil, err
		}
		return h.deps.Renderer.RenderDaily(chartLabel(id), view)
	case WindowWeek:
		samples, err := h.deps.Store.QueryWindow(ctx, id, now.Add(-aggregate.WeeklyWindow))
		if err != nil {
			return nil, err
		}
		view, err := aggregate.Weekly(samples, now, h.deps.Location)
		if err != nil {
			return nil, err
		}
		return h.deps.Renderer.RenderWeekly(chartLabel(id), view)
	}
	return nil, apperr.Newf(apperr.NotFound, "unknown chart window %q", window)
}

// HandleChart serves a PNG for one window. Concurrent requests for the same server
// and window share one render.
func (h *Handlers) HandleChart(window string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !isDigits(id) {
			http.Error(w, "server id must be numeric", http.StatusBadRequest)
			return
		}
		v, err, shared := h.charts.Do(id+"/"+window, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), renderTimeout)
			defer cancel()
			png, err := h.renderChart(ctx, id, window)
			if err == nil {
				telemetry.IncVec(telemetry.ChartRenders, window)
			}
			return png, err
		})
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.DataInsufficient, apperr.NotFound:
				http.Error(w, apperr.UserMessage(err), http.StatusNotFound)
			default:
				telemetry.LoggerWithCorr(r.Context()).Error("chart render failed",
					slog.String("component", "http"), slog.String("server_id", id),
					slog.String("window", window), slog.Any("err", err))
				http.Error(w, "chart render failed", http.StatusInternalServerError)
			}
			return
		}
		if shared {
			telemetry.LoggerWithCorr(r.Context()).Debug("chart render shared", slog.String("server_id", id), slog.String("window", window))
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(v.([]byte))
	}
}

type samplesResponse struct {
	ServerID string      `json:"server_id"`
	Since    int64       `json:"since"`
	Hours    int         `json:"hours"`
	Samples  []db.Sample `json:"samples"`
}

// HandleSamples returns the raw samples for the last ?hours (default 24, max 168).
func (h *Handlers) HandleSamples(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isDigits(id) {
		http.Error(w, "server id must be numeric", http.StatusBadRequest)
		return
	}
	hours := parseIntQuery(r, "hours", 24)
	if hours < 1 || hours > 168 {
		http.Error(w, "hours must be between 1 and 168", http.StatusBadRequest)
		return
	}
	since := h.deps.Now().Add(-time.Duration(hours) * time.Hour)
	samples, err := h.deps.Store.QueryWindow(r.Context(), id, since)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []db.Sample{}
	}
	writeJSON(w, http.StatusOK, samplesResponse{ServerID: id, Since: since.Unix(), Hours: hours, Samples: samples})
}
