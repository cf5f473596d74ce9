// Package api exposes repository index synchronization over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/index"
	"github.com/Aman-CERP/reposync/internal/repository"
	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
	"github.com/Aman-CERP/reposync/internal/telemetry"
)

// DefaultSearchLimit is used when a search request carries no limit.
const DefaultSearchLimit = 10

// MaxSearchLimit caps the limit query parameter.
const MaxSearchLimit = 1000

// Handler serves the repository API.
type Handler struct {
	repos       *repository.Manager
	coordinator *index.Coordinator
	checker     *index.ConsistencyChecker
	metrics     *telemetry.QueryMetrics
}

// NewHandler creates a handler over the managed repositories.
func NewHandler(repos *repository.Manager) *Handler {
	return &Handler{
		repos:       repos,
		coordinator: index.NewCoordinator(repos.Lookup),
		checker:     index.NewConsistencyChecker(repos.Store(), repos.Search()),
		metrics:     telemetry.NewQueryMetrics(telemetry.DefaultConfig()),
	}
}

// Routes returns the router for all endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/stats/search", h.SearchStats)

	r.Route("/repositories", func(r chi.Router) {
		r.Get("/", h.ListRepositories)
		r.Route("/{name}", func(r chi.Router) {
			r.Post("/rebuild", h.Rebuild)
			r.Get("/search", h.Search)
			r.Get("/check", h.Check)
			r.Post("/components/_bulk", h.Bulk)
			r.Put("/components/{id}", h.PutComponent)
			r.Delete("/components/{id}", h.DeleteComponent)
			r.Get("/documents/{id}", h.GetDocument)
		})
	})
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// ListRepositories returns every managed repository with its facet state.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.repos.Repositories())
}

// RebuildResponse is returned by a successful rebuild.
type RebuildResponse struct {
	Repository string `json:"repository"`
	Documents  int    `json:"documents"`
}

// Rebuild repopulates the repository's index from storage.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.repos.Get(name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := f.RebuildIndex(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}

	count, err := h.repos.Search().Count(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, RebuildResponse{Repository: name, Documents: count})
}

// PutComponent indexes one stored component. Unknown components are accepted and ignored.
func (h *Handler) PutComponent(w http.ResponseWriter, r *http.Request) {
	f, err := h.repos.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := f.Put(r.Context(), storage.EntityID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteComponent removes a component's document.
func (h *Handler) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	f, err := h.repos.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := f.Delete(r.Context(), storage.EntityID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkEvent is one change in a bulk request.
type BulkEvent struct {
	ComponentID string `json:"component_id"`
	Operation   string `json:"operation"`
}

// BulkRequest carries component changes for one repository.
type BulkRequest struct {
	Events []BulkEvent `json:"events"`
}

// BulkResponse summarizes a bulk request.
type BulkResponse struct {
	Indexed int `json:"indexed"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Bulk applies a batch of component events through the coordinator.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.repos.Get(name); err != nil {
		writeError(w, r, err)
		return
	}

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, rserrors.ValidationError("invalid request body", err))
		return
	}

	events := make([]index.ComponentEvent, 0, len(req.Events))
	for _, e := range req.Events {
		if e.ComponentID == "" {
			writeError(w, r, rserrors.ValidationError("component_id is required", nil))
			return
		}
		op, err := index.ParseOperation(e.Operation)
		if err != nil {
			writeError(w, r, err)
			return
		}
		events = append(events, index.ComponentEvent{
			Repository:  name,
			ComponentID: storage.EntityID(e.ComponentID),
			Operation:   op,
		})
	}

	result, err := h.coordinator.HandleEvents(r.Context(), events)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, BulkResponse{
		Indexed: result.Indexed,
		Deleted: result.Deleted,
		Failed:  result.Failed,
	})
}

// SearchHit is one search result.
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchResponse is returned by the search endpoint.
type SearchResponse struct {
	Repository string      `json:"repository"`
	Query      string      `json:"query"`
	Hits       []SearchHit `json:"hits"`
}

// Search runs a plain match query against the repository's index.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.repos.Get(name); err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query().Get("q")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	hits, err := h.repos.Search().Search(r.Context(), name, query, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.Record(telemetry.QueryEvent{
		Repository:  name,
		Query:       query,
		ResultCount: len(hits),
		Latency:     time.Since(start),
	})
	render.JSON(w, r, SearchResponse{Repository: name, Query: query, Hits: toSearchHits(hits)})
}

// SearchStats reports the search queries served since startup.
func (h *Handler) SearchStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.metrics.Snapshot())
}

func toSearchHits(hits []*search.Hit) []SearchHit {
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHit{ID: hit.ID, Score: hit.Score})
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultSearchLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, rserrors.New(rserrors.ErrCodeInvalidQuery, "limit must be a positive integer", err)
	}
	return min(n, MaxSearchLimit), nil
}

// GetDocument returns the indexed document of a component as stored.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.repos.Get(name); err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	body, ok, err := h.repos.Search().Get(r.Context(), name, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, rserrors.New(rserrors.ErrCodeDocumentNotFound, "document not found: "+id, nil))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// Check compares storage with the index. With ?repair=true the issues found are fixed
// and the response reports the state before repair.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.repos.Get(name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.checker.Check(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if repair, _ := strconv.ParseBool(r.URL.Query().Get("repair")); repair && !result.Consistent() {
		if err := h.checker.Repair(r.Context(), f, result.Inconsistencies); err != nil {
			writeError(w, r, err)
			return
		}
		slog.Info("index_repaired",
			slog.String("repository", name),
			slog.Int("issues", len(result.Inconsistencies)))
	}
	render.JSON(w, r, result)
}
