package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/telemetry"
)

// HandleMonitorsList returns every registration.
func (h *Handlers) HandleMonitorsList(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.deps.Store.ListMonitors(r.Context())
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	if monitors == nil {
		monitors = []db.MonitoredServer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(monitors), "monitors": monitors})
}

// HandleMonitorDelete removes a registration. Removing an absent one is not an error.
func (h *Handlers) HandleMonitorDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isDigits(id) {
		http.Error(w, "server id must be numeric", http.StatusBadRequest)
		return
	}
	var err error
	if h.deps.Tracker != nil {
		err = h.deps.Tracker.Unwatch(r.Context(), id)
	} else {
		err = h.deps.Store.RemoveMonitor(r.Context(), id)
	}
	if err != nil {
		http.Error(w, "remove failed", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("monitor removed by admin", slog.String("component", "http"), slog.String("server_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "server_id": id})
}
