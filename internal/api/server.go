package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geppetto-io/geppetto/internal/audit"
	"github.com/geppetto-io/geppetto/internal/support"
)

// SupportService is the slice of the workflow engine the API server drives.
type SupportService interface {
	GetOrCreateContext(userID, channelID, threadRef, conversationID string) *support.ConversationContext
	Process(ctx context.Context, message string, c *support.ConversationContext) (*support.StructuredResponse, error)
	ContextSnapshot(c *support.ConversationContext) support.ConversationContext
	Contexts() *support.ContextStore
}

// AuditQuerier returns recent audit events. Satisfied by audit.Buffer.
type AuditQuerier interface {
	Query(f audit.Filter) []audit.Event
}

// ProviderService exposes backend selection. Satisfied by provider.Router.
type ProviderService interface {
	Active() string
	Backends() []string
	Switch(name string) bool
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the geppetto REST API server.
type Server struct {
	svc       SupportService
	providers ProviderService
	events    AuditQuerier
	cfg       Config
	logger    *slog.Logger
	srv       *http.Server
}

// NewServer creates a new API server. events may be nil.
func NewServer(svc SupportService, providers ProviderService, events AuditQuerier, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:       svc,
		providers: providers,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "api"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/contexts", s.requireAuth(s.handleListContexts))
	mux.HandleFunc("GET /api/contexts/{id}", s.requireAuth(s.handleGetContext))
	mux.HandleFunc("POST /api/messages", s.requireAuth(s.handlePostMessage))
	mux.HandleFunc("GET /api/audit", s.requireAuth(s.handleGetAudit))
	mux.HandleFunc("GET /api/provider", s.requireAuth(s.handleGetProvider))
	mux.HandleFunc("POST /api/provider", s.requireAuth(s.handleSwitchProvider))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListContexts(w http.ResponseWriter, _ *http.Request) {
	contexts := s.svc.Contexts().List()
	writeJSON(w, http.StatusOK, contexts)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := s.svc.Contexts().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "context not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ContextSnapshot(c))
}

type postMessageRequest struct {
	UserID         string `json:"user_id"`
	ChannelID      string `json:"channel_id"`
	ThreadRef      string `json:"thread_ref"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type postMessageResponse struct {
	ConversationID string                      `json:"conversation_id"`
	TicketID       int64                       `json:"ticket_id,omitempty"`
	State          support.WorkflowState       `json:"state"`
	Response       *support.StructuredResponse `json:"response"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if req.UserID == "" || req.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and channel_id are required"})
		return
	}

	c := s.svc.GetOrCreateContext(req.UserID, req.ChannelID, req.ThreadRef, req.ConversationID)
	resp, err := s.svc.Process(r.Context(), req.Content, c)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	snap := s.svc.ContextSnapshot(c)
	writeJSON(w, http.StatusOK, postMessageResponse{
		ConversationID: snap.ConversationID,
		TicketID:       snap.TicketID,
		State:          snap.State,
		Response:       resp,
	})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []audit.Event{})
		return
	}

	filter := audit.Filter{Limit: 200}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	filter.Type = r.URL.Query().Get("type")
	filter.ConversationID = r.URL.Query().Get("conversation")
	if since := r.URL.Query().Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			filter.Since = time.UnixMilli(ms)
		}
	}

	events := s.events.Query(filter)
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   s.providers.Active(),
		"backends": s.providers.Backends(),
	})
}

type switchProviderRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req switchProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if !s.providers.Switch(req.Name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown backend"})
		return
	}
	s.logger.Info("provider switched via api", "backend", req.Name)
	writeJSON(w, http.StatusOK, map[string]string{"active": req.Name})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
