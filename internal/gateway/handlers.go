package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/engine"
	"github.com/lvonguyen/intelforge/internal/events"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
)

// API serves the investigation endpoints.
type API struct {
	engine   *engine.Engine
	registry *source.Registry
	logger   *zap.Logger
}

// NewAPI creates the handler set.
func NewAPI(eng *engine.Engine, registry *source.Registry, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{engine: eng, registry: registry, logger: logger.Named("api")}
}

// Routes mounts the API under the given router, typically at /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/investigations", func(r chi.Router) {
		r.Post("/", a.handleSubmit)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Post("/{id}/cancel", a.handleCancel)
		r.Get("/{id}/results", a.handleResults)
		r.Get("/{id}/findings", a.handleFindings)
		r.Get("/{id}/entities", a.handleEntities)
		r.Get("/{id}/relationships", a.handleRelationships)
		r.Get("/{id}/events", a.handleEvents)
	})
	r.Get("/sources", a.handleSources)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req engine.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := a.engine.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyTarget), errors.Is(err, engine.ErrUnknownTargetClass):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			a.logger.Error("submit failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, inv)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	invs, err := a.engine.List(r.Context())
	if err != nil {
		a.logger.Error("list investigations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": invs,
		"count":          len(invs),
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := a.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.engine.Cancel(id); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			writeError(w, http.StatusConflict, "investigation is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "id": id})
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Results(r.Context(), chi.URLParam(r, "id"), findingFilter(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleFindings(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Results(r.Context(), chi.URLParam(r, "id"), findingFilter(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"findings": res.Findings,
		"count":    len(res.Findings),
	})
}

func (a *API) handleEntities(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Results(r.Context(), chi.URLParam(r, "id"), store.FindingFilter{})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	entities := res.Entities
	if min, ok := queryFloat(r, "min_confidence"); ok {
		filtered := entities[:0:0]
		for _, ent := range entities {
			if ent.AggregateConfidence >= min {
				filtered = append(filtered, ent)
			}
		}
		entities = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

func (a *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Results(r.Context(), chi.URLParam(r, "id"), store.FindingFilter{})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relationships": res.Relationships,
		"count":         len(res.Relationships),
	})
}

// handleEvents streams investigation progress as server-sent events until the
// investigation terminates or the client disconnects.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := a.engine.Bus().Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.InvestigationID != id {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
			if ev.Type == events.InvestigationStateChanged && ev.State.Terminal() {
				return
			}
		}
	}
}

func (a *API) handleSources(w http.ResponseWriter, r *http.Request) {
	type sourceInfo struct {
		ID            string              `json:"id"`
		Tier          int                 `json:"tier"`
		Priority      int                 `json:"priority"`
		RatePerMinute int                 `json:"rate_per_minute"`
		RequiresProxy bool                `json:"requires_proxy"`
		EntityTypes   []intel.EntityType  `json:"entity_types"`
		TargetClasses []intel.TargetClass `json:"target_classes"`
	}

	var out []sourceInfo
	for _, c := range a.registry.All() {
		caps := c.Capabilities()
		out = append(out, sourceInfo{
			ID:            c.Name(),
			Tier:          caps.Tier,
			Priority:      caps.Priority,
			RatePerMinute: caps.RatePerMinute,
			RequiresProxy: caps.RequiresProxy,
			EntityTypes:   caps.EntityTypes,
			TargetClasses: caps.TargetClasses,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": out,
		"count":   len(out),
	})
}

func findingFilter(r *http.Request) store.FindingFilter {
	filter := store.FindingFilter{
		EntityType: intel.EntityType(r.URL.Query().Get("entity_type")),
		SourceID:   r.URL.Query().Get("source"),
	}
	if min, ok := queryFloat(r, "min_confidence"); ok {
		filter.MinConfidence = min
	}
	return filter
}

func queryFloat(r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "investigation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
