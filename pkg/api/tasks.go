package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

// SpawnRequest is the body of POST /api/v1/queues/{queue}/tasks.
type SpawnRequest struct {
	TaskName   string          `json:"task_name"`
	Params     json.RawMessage `json:"params,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	DelaySec   float64         `json:"delay_sec,omitempty"`
	DependsOn  []uuid.UUID     `json:"depends_on,omitempty"`
}

func (req SpawnRequest) options() []queue.SpawnOption {
	opts := []queue.SpawnOption{queue.WithPriority(req.Priority)}
	if req.MaxRetries != nil {
		opts = append(opts, queue.WithMaxRetries(*req.MaxRetries))
	}
	if req.DelaySec > 0 {
		opts = append(opts, queue.WithDelay(time.Duration(req.DelaySec*float64(time.Second))))
	}
	if len(req.DependsOn) > 0 {
		opts = append(opts, queue.WithDependsOn(req.DependsOn...))
	}
	return opts
}

// SpawnResponse carries the id of a newly created task.
type SpawnResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Queue  string    `json:"queue_name"`
}

func (h *handlers) spawnTask(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	q := chi.URLParam(r, "queue")
	id, err := h.Client.Spawn(r.Context(), q, req.TaskName, req.Params, req.options()...)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.Publisher.QueueStatsUpdate(r.Context(), q)
	respond(w, http.StatusCreated, SpawnResponse{TaskID: id, Queue: q})
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.TaskFilter{
		Queue: query.Get("queue"),
		Name:  query.Get("task_name"),
	}
	for _, s := range splitList(query.Get("status")) {
		status := queue.TaskStatus(s)
		if !status.Valid() {
			respondError(w, r, h.log, fmt.Errorf("%w: unknown status %q", ErrBadRequest, s))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := query.Get("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, r, h.log, fmt.Errorf("%w: invalid workflow_id %q", ErrBadRequest, raw))
			return
		}
		filter.WorkflowID = &id
	}

	var err error
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	tasks, err := h.Client.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if tasks == nil {
		tasks = []queue.Task{}
	}
	respondMeta(w, tasks, map[string]any{"limit": filter.Limit, "offset": filter.Offset, "count": len(tasks)})
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	task, err := h.Client.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, task)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	cancelled, err := h.Client.Cancel(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if cancelled {
		if task, err := h.Client.Get(r.Context(), id); err == nil {
			h.Publisher.TaskUpdate(r.Context(), task.Queue, id, queue.TaskUpdate{
				Status:   string(task.Status),
				TaskName: task.Name,
			})
			h.Publisher.QueueStatsUpdate(r.Context(), task.Queue)
		}
	}
	respond(w, http.StatusOK, map[string]any{"task_id": id, "cancelled": cancelled})
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	q := chi.URLParam(r, "queue")
	counts, err := h.Client.QueueStats(r.Context(), q)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"queue_name": q, "counts": counts})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", ErrBadRequest, raw)
	}
	return id, nil
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, v)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset %q", ErrBadRequest, v)
		}
	}
	return min(limit, maxPageSize), offset, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func notConfigured(what string) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, what)
}
