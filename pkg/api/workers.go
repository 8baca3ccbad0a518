package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dsa110/taskq/pkg/monitor"
	"github.com/dsa110/taskq/pkg/queue"
)

// workerHeartbeat records a worker's self-report. The path id wins over any
// id in the body.
func (h *handlers) workerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		respondError(w, r, h.log, notConfigured("worker registry"))
		return
	}

	var info queue.WorkerInfo
	if err := decodeBody(w, r, &info); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	if info.ID != "" && info.ID != id {
		respondError(w, r, h.log, fmt.Errorf("%w: worker id %q does not match path", ErrBadRequest, info.ID))
		return
	}

	hb := monitor.Heartbeat{
		WorkerID:       id,
		Queue:          info.Queue,
		State:          info.State,
		StartedAt:      info.StartedAt,
		TasksProcessed: info.TasksProcessed,
		ReportedAt:     h.Now().UTC(),
	}
	if err := h.Registry.Record(hb); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusAccepted, hb)
}

func (h *handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		respondError(w, r, h.log, notConfigured("worker registry"))
		return
	}

	since := time.Time{}
	if v := r.URL.Query().Get("since_sec"); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err != nil || d < 0 {
			respondError(w, r, h.log, fmt.Errorf("%w: invalid since_sec %q", ErrBadRequest, v))
			return
		}
		since = h.Now().Add(-d)
	}

	respond(w, http.StatusOK, h.Registry.Snapshot(since))
}
