package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/workflow"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

func respondMeta(w http.ResponseWriter, data any, meta map[string]any) {
	writeJSON(w, http.StatusOK, Envelope{Data: data, Meta: meta})
}

// respondError maps err onto a status code. Server-side failures are logged
// and their message is replaced with the status text.
func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, Envelope{Error: &ErrorDetail{Code: code, Message: msg}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound),
		errors.Is(err, queue.ErrDeadLetterNotFound),
		errors.Is(err, queue.ErrChainNotFound),
		errors.Is(err, queue.ErrScheduleNotFound),
		errors.Is(err, queue.ErrWorkflowNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrInvalidDeadLetterTransition),
		errors.Is(err, queue.ErrTaskExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, queue.ErrEmptyQueueName),
		errors.Is(err, queue.ErrEmptyTaskName),
		errors.Is(err, queue.ErrEmptyWorkerID),
		errors.Is(err, queue.ErrInvalidParams),
		errors.Is(err, queue.ErrInvalidMaxRetries),
		errors.Is(err, monitor.ErrEmptyWorkerID),
		errors.Is(err, queue.ErrDependencyNotFound),
		errors.Is(err, queue.ErrDependencyCycle),
		errors.Is(err, queue.ErrReservedTaskName),
		errors.Is(err, workflow.ErrEmptyName),
		errors.Is(err, workflow.ErrNoSteps),
		errors.Is(err, workflow.ErrInvalidStep),
		errors.Is(err, chain.ErrInvalidParams):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnavailable):
		return http.StatusNotImplemented, "not_configured"
	case errors.Is(err, queue.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody reads an optional JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

const maxBodyBytes = 1 << 20
