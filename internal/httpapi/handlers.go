// Package httpapi exposes the published content cache over a read only JSON
// API.
//
// Endpoints:
//
//	GET  /api/health                  - 200 once the first load completed, 503 before
//	GET  /api/stats                   - snapshot, change feed and scope counters
//	GET  /api/nodes/{id}              - one node
//	GET  /api/nodes/{id}/children     - visible children in sort order
//	GET  /api/nodes/{id}/ancestors    - ancestors from the root down
//	GET  /api/nodes/{id}/route        - the node's route
//	GET  /api/roots/{kind}            - visible roots of content, media or member
//	GET  /api/routes?path=/a/b        - resolve a route to its node
//	POST /api/admin/rebuild           - reload the whole tree from the store
//
// Every read accepts ?preview=true to see draft data and ?culture=xx-XX to
// pick culture specific names and property values. All reads in one request
// see the same snapshot.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/facade"
	"github.com/goliatone/go-content-cache/snapshot"
)

type Handlers struct {
	svc    *facade.Service
	logger zerolog.Logger
}

func New(svc *facade.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// Router registers every endpoint. Preview detection runs before the facade
// scope is opened so the scope is created in the right mode.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/rebuild", h.handleRebuild).Methods(http.MethodPost)

	reads := api.NewRoute().Subrouter()
	reads.Use(previewMiddleware, h.svc.Middleware)
	reads.HandleFunc("/nodes/{id:[0-9]+}", h.handleNode).Methods(http.MethodGet)
	reads.HandleFunc("/nodes/{id:[0-9]+}/children", h.handleChildren).Methods(http.MethodGet)
	reads.HandleFunc("/nodes/{id:[0-9]+}/ancestors", h.handleAncestors).Methods(http.MethodGet)
	reads.HandleFunc("/nodes/{id:[0-9]+}/route", h.handleRoute).Methods(http.MethodGet)
	reads.HandleFunc("/roots/{kind}", h.handleRoots).Methods(http.MethodGet)
	reads.HandleFunc("/routes", h.handleResolve).Methods(http.MethodGet)

	return r
}

func previewMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if on, _ := strconv.ParseBool(r.URL.Query().Get("preview")); on {
			r = r.WithContext(facade.WithPreview(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := h.svc.Ready()
	status := http.StatusOK
	body := map[string]any{"status": "ok", "ready": ready}
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "loading"
	}
	h.writeJSON(w, status, body)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handlers) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Rebuild(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handlers) handleNode(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *snapshot.Snapshot, culture string) (any, error) {
		n, err := s.GetNode(nodeID(r))
		if err != nil {
			return nil, err
		}
		return toView(n, s.Preview(), culture), nil
	})
}

func (h *Handlers) handleChildren(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *snapshot.Snapshot, culture string) (any, error) {
		id := nodeID(r)
		if _, err := s.GetNode(id); err != nil {
			return nil, err
		}
		children, err := s.GetChildren(id)
		if err != nil {
			return nil, err
		}
		out := []nodeView{}
		for n := range children {
			out = append(out, toView(n, s.Preview(), culture))
		}
		return out, nil
	})
}

func (h *Handlers) handleAncestors(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *snapshot.Snapshot, culture string) (any, error) {
		ancestors, err := s.GetAncestors(nodeID(r))
		if err != nil {
			return nil, err
		}
		out := make([]nodeView, 0, len(ancestors))
		for _, n := range ancestors {
			out = append(out, toView(n, s.Preview(), culture))
		}
		return out, nil
	})
}

func (h *Handlers) handleRoute(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *snapshot.Snapshot, _ string) (any, error) {
		id := nodeID(r)
		route, err := s.GetRoute(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "route": route}, nil
	})
}

func (h *Handlers) handleRoots(w http.ResponseWriter, r *http.Request) {
	kind, err := content.ParseItemKind(mux.Vars(r)["kind"])
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	h.view(w, r, func(s *snapshot.Snapshot, culture string) (any, error) {
		roots, err := s.GetAtRoot(kind)
		if err != nil {
			return nil, err
		}
		out := []nodeView{}
		for n := range roots {
			out = append(out, toView(n, s.Preview(), culture))
		}
		return out, nil
	})
}

func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "path is required"})
		return
	}
	kind := content.KindContent
	if k := q.Get("kind"); k != "" {
		var err error
		if kind, err = content.ParseItemKind(k); err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}
	h.view(w, r, func(s *snapshot.Snapshot, culture string) (any, error) {
		n, err := s.GetByRoute(r.Context(), kind, path)
		if err != nil {
			return nil, err
		}
		return toView(n, s.Preview(), culture), nil
	})
}

// view runs fn against the request's snapshot and writes its result.
func (h *Handlers) view(w http.ResponseWriter, r *http.Request, fn func(*snapshot.Snapshot, string) (any, error)) {
	culture := r.URL.Query().Get("culture")
	var out any
	err := h.svc.View(r.Context(), func(s *snapshot.Snapshot) error {
		var err error
		out, err = fn(s, culture)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func nodeID(r *http.Request) int {
	// The route pattern only admits digits.
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case content.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, content.ErrNotReady), content.IsStoreUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	h.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("encode response")
	}
}
