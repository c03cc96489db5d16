package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes wires up the read-only entity registry endpoints.
func RegisterRoutes(r chi.Router, reg Registry) {
	h := &routeHandler{reg: reg}
	r.Route("/api/entities", func(r chi.Router) {
		r.Get("/", h.listEntities)
		r.Get("/{id}", h.getEntity)
	})
}

type routeHandler struct {
	reg Registry
}

func (h *routeHandler) listEntities(w http.ResponseWriter, r *http.Request) {
	all, err := h.reg.GetEntityRegistry(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	domain := r.URL.Query().Get("domain")
	entries := make([]Entry, 0, len(all))
	for _, e := range all {
		if domain != "" && Domain(e.EntityID) != domain {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EntityID < entries[j].EntityID })
	writeJSON(w, http.StatusOK, entries)
}

func (h *routeHandler) getEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.reg.GetEntity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": fmt.Sprintf("registry unavailable, retry later: %v", err)})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
