package runtime

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultEventLimit = 100

type eventView struct {
	ID        int64           `json:"id"`
	BatchID   string          `json:"batch_id"`
	RenderID  string          `json:"render_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type batchView struct {
	ID        string      `json:"id"`
	Total     int         `json:"total"`
	Source    string      `json:"source"`
	CreatedAt time.Time   `json:"created_at"`
	Events    []eventView `json:"events"`
}

func (r *Runtime) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if r.metrics != nil {
		router.Method(http.MethodGet, "/metrics", r.metrics)
	}
	router.Get("/renders/{id}", r.handleRender)
	router.Get("/batches/{id}", r.handleBatch)
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRender(w http.ResponseWriter, req *http.Request) {
	if !r.journal.Enabled() {
		http.Error(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}
	limit, ok := eventLimit(w, req)
	if !ok {
		return
	}
	events, err := r.journal.ListRenderEvents(req.Context(), chi.URLParam(req, "id"), limit)
	if err != nil {
		r.logger.Warn("failed to list render events", slogError(err))
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "render not found", http.StatusNotFound)
		return
	}
	writeJSON(w, views(events))
}

func (r *Runtime) handleBatch(w http.ResponseWriter, req *http.Request) {
	if !r.journal.Enabled() {
		http.Error(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}
	limit, ok := eventLimit(w, req)
	if !ok {
		return
	}
	id := chi.URLParam(req, "id")
	b, err := r.journal.GetBatch(req.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Warn("failed to read batch", slogError(err))
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	events, err := r.journal.ListBatchEvents(req.Context(), id, limit)
	if err != nil {
		r.logger.Warn("failed to list batch events", slogError(err))
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, batchView{
		ID:        b.ID,
		Total:     b.Total,
		Source:    b.Source,
		CreatedAt: b.CreatedAt,
		Events:    views(events),
	})
}

func eventLimit(w http.ResponseWriter, req *http.Request) (int, bool) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func views(events []eventstore.Event) []eventView {
	out := make([]eventView, len(events))
	for i, evt := range events {
		out[i] = eventView{
			ID:        evt.ID,
			BatchID:   evt.BatchID,
			RenderID:  evt.RenderID,
			Type:      evt.Type,
			CreatedAt: evt.CreatedAt,
		}
		if json.Valid(evt.Payload) {
			out[i].Payload = evt.Payload
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
