// Package server exposes the router and the skill registry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/composer"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/router"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Router routes one task.
type Router interface {
	Route(ctx context.Context, task skilltypes.Task) (*skilltypes.RoutingDecision, error)
}

// Snapshots hands out the current registry snapshot.
type Snapshots interface {
	Acquire() (*registry.Snapshot, error)
}

// Server is the HTTP front of the router.
type Server struct {
	router    *mux.Router
	routes    Router
	snapshots Snapshots
	config    *ServerConfig
	server    *http.Server
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// NewServer creates a server answering from routes and snapshots.
func NewServer(config *ServerConfig, routes Router, snapshots Snapshots) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:    mux.NewRouter(),
		routes:    routes,
		snapshots: snapshots,
		config:    config,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills/{id}", s.handleGetSkill).Methods("GET")
	api.HandleFunc("/skills/{id}/children", s.handleChildren).Methods("GET")
	api.HandleFunc("/skills/{id}/related", s.handleRelated).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware assigns every request an id and a logger carrying it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.WithLogger(r.Context(), logger.G(r.Context()).WithField("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	skilltypes.Task
	// TimeoutMS overrides the router deadline for this request.
	TimeoutMS int `json:"timeoutMs,omitempty" jsonschema:"minimum=0,description=Deadline in milliseconds for classification and composition"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeErrorResponse(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	task := req.Task
	if req.TimeoutMS > 0 {
		task.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	decision, err := s.routes.Route(r.Context(), task)
	if err != nil {
		s.writeRouteError(w, r, err)
		return
	}
	s.writeJSONResponse(w, r, decision)
}

func (s *Server) writeRouteError(w http.ResponseWriter, r *http.Request, err error) {
	var budgetErr *composer.BudgetTooSmallError
	switch {
	case errors.As(err, &budgetErr):
		s.writeJSON(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"status":   http.StatusUnprocessableEntity,
			"success":  false,
			"budget":   budgetErr.Budget,
			"required": budgetErr.Required,
			"skillId":  budgetErr.SkillID,
			"section":  budgetErr.Section,
		})
	case errors.Is(err, composer.ErrNoCandidates):
		s.writeErrorResponse(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, router.ErrInvalidTask):
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, registry.ErrNotLoaded):
		s.writeErrorResponse(w, r, http.StatusServiceUnavailable, "skill registry is not loaded", nil)
	default:
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "failed to route task", err)
	}
}

// SkillSummary is the listing form of a skill document.
type SkillSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Domain      string   `json:"domain,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Depth       int      `json:"depth"`
	Tokens      int      `json:"tokens"`
	Path        string   `json:"path"`
}

// Summarize builds the listing form of docs.
func Summarize(snap *registry.Snapshot, docs []*skilltypes.SkillDocument) []SkillSummary {
	out := make([]SkillSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, SkillSummary{
			ID:          d.ID,
			Name:        d.Name,
			Domain:      d.Domain,
			Parent:      d.ParentSkill,
			Category:    d.Category,
			Description: d.Description,
			Tags:        d.Tags,
			Depth:       snap.Depth(d.ID),
			Tokens:      d.TotalTokens(),
			Path:        d.Path,
		})
	}
	return out
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*registry.Snapshot, bool) {
	snap, err := s.snapshots.Acquire()
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusServiceUnavailable, "skill registry is not loaded", nil)
		return nil, false
	}
	return snap, true
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := registry.Query{
		Domain:   q.Get("domain"),
		Category: q.Get("category"),
		MatchAll: q.Get("match") == "all",
	}
	for _, tag := range q["tag"] {
		for _, t := range strings.Split(tag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				query.Tags = append(query.Tags, t)
			}
		}
	}

	docs := snap.Search(query)
	s.writeJSONResponse(w, r, map[string]any{
		"snapshot": snap.Generation(),
		"total":    len(docs),
		"skills":   Summarize(snap, docs),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*registry.Snapshot, *skilltypes.SkillDocument, bool) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return nil, nil, false
	}
	id := mux.Vars(r)["id"]
	doc, found := snap.Lookup(id)
	if !found {
		s.writeErrorResponse(w, r, http.StatusNotFound, fmt.Sprintf("skill %q not found", id), nil)
		return nil, nil, false
	}
	return snap, doc, true
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	if _, doc, ok := s.lookup(w, r); ok {
		s.writeJSONResponse(w, r, doc)
	}
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	if snap, doc, ok := s.lookup(w, r); ok {
		s.writeJSONResponse(w, r, Summarize(snap, snap.Children(doc.ID)))
	}
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if snap, doc, ok := s.lookup(w, r); ok {
		s.writeJSONResponse(w, r, Summarize(snap, snap.RelatedTo(doc.ID)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Acquire()
	if err != nil {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
		return
	}
	s.writeJSONResponse(w, r, map[string]any{
		"status":      "ok",
		"snapshot":    snap.Generation(),
		"documents":   snap.Len(),
		"quarantined": len(snap.Quarantined()),
		"builtAt":     snap.BuiltAt(),
	})
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, r *http.Request, data any) {
	s.writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(r.Context()).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	if err != nil {
		logger.G(r.Context()).WithError(err).Error(message)
	}
	s.writeJSON(w, r, statusCode, map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the listener immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
