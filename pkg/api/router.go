package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dsa110/taskq/pkg/chain"
	"github.com/dsa110/taskq/pkg/events"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
	"github.com/dsa110/taskq/pkg/queue"
	"github.com/dsa110/taskq/pkg/workflow"
)

// Deps are the services the API exposes. Only Client is required; routes
// backed by a nil dependency answer 501.
type Deps struct {
	Client   *queue.Client
	DLQ      *queue.DeadLetterQueue
	Catalog  *chain.Catalog
	// Workflows backs the /workflows routes.
	Workflows *workflow.Service
	Monitor  *monitor.Monitor
	Registry *monitor.Registry
	Fanout   *events.Fanout
	// Publisher receives task updates for API-driven changes such as cancel.
	Publisher queue.EventPublisher
	// Ready backs /readyz; nil means always ready.
	Ready  func(context.Context) error
	Logger *slog.Logger
	Now    func() time.Time
}

type handlers struct {
	Deps
	log *slog.Logger
}

// Router builds the HTTP handler.
//
//	r := api.Router(api.Deps{Client: client, DLQ: dlq, Monitor: mon})
//	srv := api.NewServerFromConfig(cfg)
//	return srv.Run(ctx, r)
func Router(deps Deps) (chi.Router, error) {
	if deps.Client == nil {
		return nil, ErrNilClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = queue.NopPublisher()
	}
	h := &handlers{Deps: deps, log: deps.Logger.With(logger.Component("api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/metrics", h.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queues/{queue}/tasks", h.spawnTask)
		r.Get("/queues/{queue}/stats", h.queueStats)

		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/tasks/{id}/cancel", h.cancelTask)

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", h.listDeadLetters)
			r.Get("/stats", h.deadLetterStats)
			r.Get("/{id}", h.getDeadLetter)
			r.Post("/{id}/retry", h.retryDeadLetter)
			r.Post("/{id}/resolve", h.resolveDeadLetter)
			r.Post("/{id}/fail", h.failDeadLetter)
			r.Delete("/{id}", h.deleteDeadLetter)
		})

		r.Get("/chains", h.listChains)
		r.Get("/chains/{name}", h.getChain)
		r.Post("/chains/{name}/spawn", h.spawnChain)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.listWorkflows)
			r.Post("/", h.spawnWorkflow)
			r.Get("/{id}", h.getWorkflow)
			r.Get("/{id}/dag", h.workflowDAG)
			r.Post("/{id}/cancel-blocked", h.cancelBlocked)
		})

		r.Get("/monitor/health", h.health)
		r.Get("/monitor/report", h.report)

		r.Get("/workers", h.listWorkers)
		r.Post("/workers/{id}/heartbeat", h.workerHeartbeat)

		r.Get("/events", h.stream)
	})
	return r, nil
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ALIVE"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			h.log.WarnContext(ctx, "readiness check failed", logger.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
