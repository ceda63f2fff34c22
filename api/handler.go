// Package api exposes the pool registry's operational state over REST.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tresler/httpool/logger"
	"github.com/tresler/httpool/pool"
)

type Handler struct {
	registry *pool.Registry
}

func NewHandler(reg *pool.Registry) *Handler {
	return &Handler{registry: reg}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/pools", func(r chi.Router) {
		r.Get("/", h.ListPools)
		r.Get("/{service}/{authority}", h.GetPool)
	})
}

type PoolListResponse struct {
	Pools []pool.Stats `json:"pools"`
	Count int          `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ListPools returns a stats snapshot of every live pool.
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	writeJSON(w, http.StatusOK, PoolListResponse{Pools: snap, Count: len(snap)})
}

// GetPool returns the stats of one (service, authority) pool.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	authority := chi.URLParam(r, "authority")

	scope, err := pool.ResolveScope(service, authority)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	stats, ok := h.registry.Lookup(scope)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no pool for scope " + scope.String()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
