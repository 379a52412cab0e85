package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/toolgate"
	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/state"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// SummariesURI lists the one-line summary of every tool.
	SummariesURI = "toolgate://summaries"
	// RegistryURI describes the locked registry snapshot.
	RegistryURI = "toolgate://registry"

	// DefaultTurnGap is the idle time after which the next call opens a new turn.
	DefaultTurnGap = 5 * time.Second
)

// DocsURI returns the resource URI holding the full documentation of toolID.
func DocsURI(toolID string) string {
	return "toolgate://tools/" + toolID + "/docs"
}

// Gateway defines the interface required by the MCP server to dispatch calls.
type Gateway interface {
	Registry() *registry.Registry
	StartSession(ctx context.Context, sessionID string, initial map[string]any) error
	StartTurn(ctx context.Context, sessionID string) (int, error)
	EndSession(ctx context.Context, sessionID string) (*toolgate.SessionReport, error)
	PendingEnd(sessionID string) (domain.PendingEnd, bool)
	ExecuteTool(ctx context.Context, sessionID string, call toolgate.Call) *domain.ToolResponse
}

// client tracks the toolgate session behind one MCP connection.
type client struct {
	sessionID string
	turn      int
	last      time.Time
	endAfter  int // turn after which the session ends; 0 when no end is pending
}

// Server exposes the tools of a locked registry as MCP tools.
type Server struct {
	gateway   Gateway
	mcpServer *server.MCPServer
	mode      string
	gap       time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	clients  map[string]*client
	fallback string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMode sets the interaction mode of every session the server opens.
func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

// WithTurnGap sets the idle time that separates two turns.
func WithTurnGap(d time.Duration) Option {
	return func(s *Server) {
		s.gap = d
	}
}

// WithClock overrides time.Now for turn detection.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a new MCP Server instance. The gateway registry must be locked.
func NewServer(gateway Gateway, opts ...Option) (*Server, error) {
	s := &Server{
		gateway:  gateway,
		mode:     domain.ModeInteractive,
		gap:      DefaultTurnGap,
		now:      time.Now,
		logger:   logging.NewNop(),
		clients:  make(map[string]*client),
		fallback: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !gateway.Registry().Locked() {
		return nil, fmt.Errorf("mcp server requires a locked registry: %w", domain.ErrRegistryNotLoaded)
	}

	s.mcpServer = server.NewMCPServer("toolgate-mcp", strings.TrimSpace(toolgate.Version),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on addr using SSE until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Handle("/sse", sseServer.SSEHandler())
	r.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() error {
	reg := s.gateway.Registry()
	for _, id := range reg.ToolIDs() {
		tool, ok := reg.Lookup(id)
		if !ok {
			continue
		}
		rec := tool.Record
		if !json.Valid(rec.JSONSchema) {
			return fmt.Errorf("tool %s has an invalid input schema", id)
		}
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(id, rec.Summary, rec.JSONSchema), s.handleCall)
	}
	return nil
}

// handleCall runs one MCP tool call through the dispatcher. Tool failures are
// envelopes too, so they are returned as results rather than protocol errors.
func (s *Server) handleCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := s.session(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session unavailable: %v", err)), nil
	}

	call := toolgate.Call{
		ToolID:       request.Params.Name,
		Args:         request.GetArguments(),
		Capabilities: capabilities(request),
	}
	resp := s.gateway.ExecuteTool(ctx, sessionID, call)
	s.trackEnd(ctx, sessionID)

	body, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	result := mcp.NewToolResultText(string(body))
	result.IsError = !resp.OK
	return result, nil
}

// capabilities reads boolean flags from the request _meta, e.g. {"confirmed": true}.
func capabilities(request mcp.CallToolRequest) domain.Capabilities {
	caps := domain.Capabilities{}
	if request.Params.Meta == nil {
		return caps
	}
	for _, flag := range []string{domain.CapabilityConfirmed, domain.CapabilityAudio, domain.CapabilityTranscript} {
		if v, ok := request.Params.Meta.AdditionalFields[flag].(bool); ok {
			caps[flag] = v
		}
	}
	return caps
}

func (s *Server) clientID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return s.fallback
}

// session returns the toolgate session of the calling connection, opening it
// lazily and advancing its turn after an idle gap. A session whose end is due
// is closed and replaced.
func (s *Server) session(ctx context.Context) (string, error) {
	id := s.clientID(ctx)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if ok && now.Sub(c.last) >= s.gap {
		if c.endAfter > 0 && c.turn >= c.endAfter {
			s.end(ctx, id, c)
			ok = false
		} else {
			turn, err := s.gateway.StartTurn(ctx, c.sessionID)
			if err != nil {
				delete(s.clients, id)
				ok = false
			} else {
				c.turn = turn
			}
		}
	}
	if !ok {
		c = &client{sessionID: uuid.NewString(), turn: 1}
		if err := s.gateway.StartSession(ctx, c.sessionID, map[string]any{state.KeyMode: s.mode}); err != nil {
			return "", err
		}
		s.clients[id] = c
		s.logger.Debug("MCP session opened", "client", id, "session_id", c.sessionID)
	}
	c.last = now
	return c.sessionID, nil
}

// trackEnd schedules the end of a session whose tool asked for it.
func (s *Server) trackEnd(ctx context.Context, sessionID string) {
	pending, ok := s.gateway.PendingEnd(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.sessionID != sessionID || c.endAfter > 0 {
			continue
		}
		c.endAfter = c.turn
		if pending.After == domain.AfterNextTurn {
			c.endAfter++
		}
	}
}

func (s *Server) end(ctx context.Context, id string, c *client) {
	delete(s.clients, id)
	report, err := s.gateway.EndSession(ctx, c.sessionID)
	if err != nil {
		s.logger.Warn("Failed to end MCP session", "session_id", c.sessionID, "err", err)
		return
	}
	if report.Trace != nil {
		s.logger.Info("MCP session ended", "session_id", c.sessionID, "calls", report.Trace.Calls())
	}
}

// Close ends every session the server opened.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		s.end(ctx, id, c)
	}
}

func (s *Server) registerResources() {
	reg := s.gateway.Registry()

	s.mcpServer.AddResource(mcp.NewResource(SummariesURI, "Tool Summaries",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      SummariesURI,
				MIMEType: "text/plain",
				Text:     reg.Summaries(),
			},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource(RegistryURI, "Registry Snapshot",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, ok := reg.Snapshot()
		if !ok {
			return nil, domain.ErrRegistryNotLoaded
		}
		jsonBytes, _ := json.Marshal(snap)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      RegistryURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	for _, id := range reg.ToolIDs() {
		toolID := id
		uri := DocsURI(toolID)
		s.mcpServer.AddResource(mcp.NewResource(uri, toolID+" documentation",
			mcp.WithMIMEType("text/markdown"),
		), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			doc, err := reg.Documentation(toolID)
			if err != nil {
				return nil, fmt.Errorf("failed to read documentation: %w", err)
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: uri, MIMEType: "text/markdown", Text: doc},
			}, nil
		})
	}
}
