package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/workflow"
)

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	if h.Workflows == nil {
		respondError(w, r, h.log, notConfigured("workflows"))
		return
	}
	limit, _, err := pagination(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	wfs, err := h.Workflows.List(r.Context(), limit)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondMeta(w, wfs, map[string]any{"count": len(wfs)})
}

// spawnWorkflow takes a workflow.Definition as the body.
func (h *handlers) spawnWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.Workflows == nil {
		respondError(w, r, h.log, notConfigured("workflows"))
		return
	}
	var def workflow.Definition
	if err := decodeBody(w, r, &def); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	spawned, err := h.Workflows.Spawn(r.Context(), def)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusCreated, spawned)
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.Workflows == nil {
		respondError(w, r, h.log, notConfigured("workflows"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	status, err := h.Workflows.Status(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, status)
}

func (h *handlers) workflowDAG(w http.ResponseWriter, r *http.Request) {
	if h.Workflows == nil {
		respondError(w, r, h.log, notConfigured("workflows"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	dag, err := h.Workflows.DAG(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, dag)
}

func (h *handlers) cancelBlocked(w http.ResponseWriter, r *http.Request) {
	if h.Workflows == nil {
		respondError(w, r, h.log, notConfigured("workflows"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	cancelled, err := h.Workflows.CancelBlocked(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if cancelled == nil {
		cancelled = []uuid.UUID{}
	}
	respond(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}
