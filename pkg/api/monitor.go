package api

import (
	"net/http"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		respondError(w, r, h.log, notConfigured("monitor"))
		return
	}
	hl := h.Monitor.CheckHealth(r.Context())
	status := http.StatusOK
	if hl.Status == monitor.StatusDown {
		status = http.StatusServiceUnavailable
	}
	respond(w, status, hl)
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		respondError(w, r, h.log, notConfigured("monitor"))
		return
	}
	rep, err := h.Monitor.Report(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, rep)
}

// metrics serves the monitor report in the Prometheus text format.
func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		http.Error(w, "monitor is not configured", http.StatusNotImplemented)
		return
	}
	rep, err := h.Monitor.Report(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := monitor.WritePrometheus(w, rep); err != nil {
		h.log.WarnContext(r.Context(), "failed to write metrics", logger.Error(err))
	}
}
