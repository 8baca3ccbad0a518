package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dsa110/taskq/pkg/chain"
)

// ChainSpawnRequest is the body of POST /api/v1/chains/{name}/spawn. The
// chain runs as one execute-chain task on Queue.
type ChainSpawnRequest struct {
	SpawnRequest
	Queue string `json:"queue_name"`
}

func (h *handlers) listChains(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		respondError(w, r, h.log, notConfigured("chain catalog"))
		return
	}
	chains, err := h.Catalog.List(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, chains)
}

func (h *handlers) getChain(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		respondError(w, r, h.log, notConfigured("chain catalog"))
		return
	}
	c, err := h.Catalog.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, c)
}

func (h *handlers) spawnChain(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		respondError(w, r, h.log, notConfigured("chain catalog"))
		return
	}

	var req ChainSpawnRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if req.Queue == "" {
		req.Queue = "default"
	}

	c, err := h.Catalog.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	params, err := chain.SpawnParams(c.Name, req.Params)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	id, err := h.Client.Spawn(r.Context(), req.Queue, chain.ExecuteChainTask, params, req.options()...)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.Publisher.QueueStatsUpdate(r.Context(), req.Queue)
	respond(w, http.StatusCreated, SpawnResponse{TaskID: id, Queue: req.Queue})
}
