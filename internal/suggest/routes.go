package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/automind/internal/automation"
	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/registry"
	"github.com/ziadkadry99/automind/internal/synergy"
)

// RegisterRoutes mounts the request, clarification, suggestion and
// detection endpoints. pass may be nil, in which case detection cannot be
// triggered over HTTP.
func RegisterRoutes(r chi.Router, engine *Engine, pass *Pass) {
	h := &routeHandler{engine: engine, pass: pass}
	r.Route("/api/automations", func(r chi.Router) {
		r.Get("/", h.listAutomations)
		r.Post("/request", h.request)
	})
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Get("/{id}", h.getSession)
		r.Post("/{id}/answers", h.answer)
	})
	r.Route("/api/suggestions", func(r chi.Router) {
		r.Get("/", h.listSuggestions)
		r.Post("/{id}/accept", h.accept)
	})
	if pass != nil {
		r.Post("/api/detect", h.detect)
	}
}

type routeHandler struct {
	engine *Engine
	pass   *Pass
}

type requestBody struct {
	Text string `json:"text"`
}

func (h *routeHandler) request(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := h.engine.Request(r.Context(), body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

func (h *routeHandler) listAutomations(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Automations(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []Automation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Sessions().List())
}

func (h *routeHandler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Sessions().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type answersBody struct {
	Answers []clarify.Answer `json:"answers"`
}

func (h *routeHandler) answer(w http.ResponseWriter, r *http.Request) {
	var body answersBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := h.engine.Answer(r.Context(), chi.URLParam(r, "id"), body.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

type suggestionsResponse struct {
	RunID         string                `json:"run_id,omitempty"`
	Opportunities []synergy.Opportunity `json:"opportunities"`
}

func (h *routeHandler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	min := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_confidence must be a number"})
			return
		}
		min = parsed
	}
	runID, ops, err := h.engine.Suggestions(r.Context(), min, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []synergy.Opportunity{}
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{RunID: runID, Opportunities: ops})
}

func (h *routeHandler) accept(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Accept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

type runSummary struct {
	ID              string `json:"id"`
	EntityCount     int    `json:"entity_count"`
	TransitionCount int    `json:"transition_count"`
	SkippedCount    int    `json:"skipped_count"`
	Patterns        int    `json:"patterns"`
	Opportunities   int    `json:"opportunities"`
}

func (h *routeHandler) detect(w http.ResponseWriter, r *http.Request) {
	run, err := h.pass.Run(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runSummary{
		ID:              run.ID,
		EntityCount:     run.EntityCount,
		TransitionCount: run.TransitionCount,
		SkippedCount:    run.SkippedCount,
		Patterns:        len(run.Patterns),
		Opportunities:   len(run.Opportunities),
	})
}

func writeOutcome(w http.ResponseWriter, out *Outcome) {
	status := http.StatusOK
	if out.Status == OutcomeGenerated {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func writeError(w http.ResponseWriter, err error) {
	var specErr *automation.SpecError
	switch {
	case errors.As(err, &specErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "rule": specErr.Rule})
	case errors.Is(err, ErrEmptyRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, clarify.ErrSessionNotFound), errors.Is(err, ErrOpportunityNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, clarify.ErrSessionExpired):
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
	case errors.Is(err, clarify.ErrUnknownQuestion), errors.Is(err, clarify.ErrDuplicateAnswer),
		errors.Is(err, clarify.ErrInvalidAnswer), errors.Is(err, clarify.ErrSessionClosed),
		errors.Is(err, ErrPassRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
