package api

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

// NoteRequest is the optional body of the resolve and fail actions.
type NoteRequest struct {
	Note string `json:"note"`
}

func (h *handlers) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.DLQ == nil {
		respondError(w, r, h.log, notConfigured("dead letter queue"))
		return
	}

	filter := queue.DeadLetterFilter{Queue: r.URL.Query().Get("queue")}
	for _, s := range splitList(r.URL.Query().Get("status")) {
		status := queue.DeadLetterStatus(s)
		if !slices.Contains(queue.DeadLetterStatuses, status) {
			respondError(w, r, h.log, fmt.Errorf("%w: unknown status %q", ErrBadRequest, s))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	var err error
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	entries, err := h.DLQ.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if entries == nil {
		entries = []queue.DeadLetterEntry{}
	}
	respondMeta(w, entries, map[string]any{"limit": filter.Limit, "offset": filter.Offset, "count": len(entries)})
}

func (h *handlers) deadLetterStats(w http.ResponseWriter, r *http.Request) {
	if h.DLQ == nil {
		respondError(w, r, h.log, notConfigured("dead letter queue"))
		return
	}
	stats, err := h.DLQ.GetStats(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (h *handlers) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.deadLetterAction(w, r, func(r *http.Request, ref deadLetterRef) (*queue.DeadLetterEntry, error) {
		return h.DLQ.GetByID(r.Context(), ref.id)
	})
}

func (h *handlers) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.deadLetterAction(w, r, func(r *http.Request, ref deadLetterRef) (*queue.DeadLetterEntry, error) {
		entry, err := h.DLQ.MarkRetrying(r.Context(), ref.id)
		if err == nil {
			h.Publisher.QueueStatsUpdate(r.Context(), entry.OriginalQueue)
		}
		return entry, err
	})
}

func (h *handlers) resolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.deadLetterAction(w, r, func(r *http.Request, ref deadLetterRef) (*queue.DeadLetterEntry, error) {
		return h.DLQ.Resolve(r.Context(), ref.id, ref.note)
	})
}

func (h *handlers) failDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.deadLetterAction(w, r, func(r *http.Request, ref deadLetterRef) (*queue.DeadLetterEntry, error) {
		return h.DLQ.MarkFailed(r.Context(), ref.id, ref.note)
	})
}

func (h *handlers) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.DLQ == nil {
		respondError(w, r, h.log, notConfigured("dead letter queue"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if err := h.DLQ.Delete(r.Context(), id); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deadLetterRef struct {
	id   uuid.UUID
	note string
}

func (h *handlers) deadLetterAction(w http.ResponseWriter, r *http.Request, fn func(*http.Request, deadLetterRef) (*queue.DeadLetterEntry, error)) {
	if h.DLQ == nil {
		respondError(w, r, h.log, notConfigured("dead letter queue"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	var body NoteRequest
	if r.Method == http.MethodPost {
		if err := decodeBody(w, r, &body); err != nil {
			respondError(w, r, h.log, err)
			return
		}
	}

	entry, err := fn(r, deadLetterRef{id: id, note: body.Note})
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, entry)
}
