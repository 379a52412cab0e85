package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/toolgate"
	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/metrics"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runtime defines what the admin surface reads. It never dispatches calls.
type Runtime interface {
	Registry() *registry.Registry
	Metrics() *metrics.Collector
}

// Server serves the read-only admin endpoints.
type Server struct {
	Runtime Runtime
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// RegistryResponse describes the loaded registry.
type RegistryResponse struct {
	Version  string                `json:"version"`
	Revision string                `json:"revision,omitempty"`
	Locked   bool                  `json:"locked"`
	Tools    []domain.ToolMetadata `json:"tools"`
}

// ToolResponse describes one tool.
type ToolResponse struct {
	domain.ToolMetadata
	Summary       string          `json:"summary"`
	Documentation string          `json:"documentation"`
	JSONSchema    json.RawMessage `json:"jsonSchema"`
	Projection    json.RawMessage `json:"projection,omitempty"`
}

// NewHandler creates the admin HTTP handler for rt.
func NewHandler(rt Runtime, opts ...Option) http.Handler {
	s := &Server{Runtime: rt, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/registry", s.GetRegistry)
	r.Get("/registry/{toolId}", s.GetTool)
	r.Get("/summary", s.GetSummary)
	r.Get("/sessions/{sessionId}", s.GetSession)
	r.Handle("/metrics", promhttp.HandlerFor(rt.Metrics().Registry(), promhttp.HandlerOpts{}))
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Admin response encode failed", "err", err)
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.Runtime.Registry().Locked() {
		status = "loading"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":              "toolgate-admin",
		"version":          strings.TrimSpace(toolgate.Version),
		"registry_version": s.Runtime.Registry().Version(),
	})
}

// GetRegistry handles the GET /registry request.
func (s *Server) GetRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.Runtime.Registry()
	resp := RegistryResponse{
		Version:  reg.Version(),
		Revision: reg.Revision(),
		Locked:   reg.Locked(),
		Tools:    []domain.ToolMetadata{},
	}
	for _, id := range reg.ToolIDs() {
		if tool, ok := reg.Lookup(id); ok {
			resp.Tools = append(resp.Tools, tool.Metadata())
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GetTool handles the GET /registry/{toolId} request.
// The optional provider query parameter includes that provider's declaration.
func (s *Server) GetTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "toolId")
	tool, ok := s.Runtime.Registry().Lookup(id)
	if !ok {
		http.Error(w, fmt.Sprintf("tool %q is not registered", id), http.StatusNotFound)
		return
	}

	rec := tool.Record
	resp := ToolResponse{
		ToolMetadata:  rec.ToolMetadata,
		Summary:       rec.Summary,
		Documentation: rec.Documentation,
		JSONSchema:    rec.JSONSchema,
	}
	if provider := r.URL.Query().Get("provider"); provider != "" {
		decl, ok := rec.ProviderSchemas[provider]
		if !ok {
			http.Error(w, fmt.Sprintf("no %s projection for %s", provider, id), http.StatusNotFound)
			return
		}
		resp.Projection = decl
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles the GET /summary request.
func (s *Server) GetSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Runtime.Metrics().Summary())
}

// GetSession handles the GET /sessions/{sessionId} request with the live trace of a session.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	trace, ok := s.Runtime.Metrics().Session(id)
	if !ok {
		http.Error(w, fmt.Sprintf("session %s is not active", id), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, trace)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening", "address", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}
