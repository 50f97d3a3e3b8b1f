package api

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentbridge-io/agentbridge/internal/escalation"
	"github.com/agentbridge-io/agentbridge/internal/logring"
	"github.com/agentbridge-io/agentbridge/internal/relay"
	"github.com/agentbridge-io/agentbridge/pkg/protocol"
)

// EscalationService is the interface the API server needs from the
// escalation repository.
type EscalationService interface {
	Create(ctx context.Context, p escalation.CreateParams) (*protocol.Escalation, error)
	List(ctx context.Context, f escalation.Filter) ([]*protocol.Escalation, error)
	GetByID(ctx context.Context, id string) (*protocol.Escalation, error)
	Update(ctx context.Context, id string, p escalation.UpdateParams) (map[string]any, error)
}

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

// Pinger reports upstream reachability.
type Pinger interface {
	Health(ctx context.Context) error
}

// LogQuerier abstracts log entry querying to avoid coupling to logring
// directly.
type LogQuerier interface {
	Recent(limit int, minLevel slog.Level) []logring.Entry
}

// Config holds API server configuration.
type Config struct {
	Host       string
	Port       int
	Key        string // API key for Bearer auth
	EmbedModel string // model name echoed by the embeddings endpoint
}

// Server is the bridge REST API server.
type Server struct {
	svc      EscalationService
	embedder Embedder
	store    Pinger
	upstream Pinger
	cfg      Config
	logger   *slog.Logger
	logs     LogQuerier
	srv      *http.Server
}

// NewServer creates a new API server. embedder, store, upstream and logs may
// be nil; the matching endpoints then degrade instead of panicking.
func NewServer(svc EscalationService, embedder Embedder, store, upstream Pinger, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		embedder: embedder,
		store:    store,
		upstream: upstream,
		cfg:      cfg,
		logger:   logger,
		logs:     logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/escalations", s.handleCreateEscalation)
	mux.HandleFunc("GET /v1/escalations", s.handleListEscalations)
	mux.HandleFunc("GET /v1/escalations/{id}", s.requireAuth(s.handleGetEscalation))
	mux.HandleFunc("PATCH /v1/escalations/{id}", s.requireAuth(s.handleUpdateEscalation))
	mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)
	mux.HandleFunc("GET /v1/logs", s.requireAuth(s.handleGetLogs))

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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth checks the bearer token in constant time. An unset key rejects
// every request rather than waving them through.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "api key not configured"})
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !hmac.Equal([]byte(token), []byte(s.cfg.Key)) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Escalation handlers ---

type createEscalationRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Question  string `json:"question"`
	Context   string `json:"context,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

func (s *Server) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	var req createEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.FromAgent == "" || req.ToAgent == "" || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from_agent, to_agent and question are required"})
		return
	}

	esc, err := s.svc.Create(r.Context(), escalation.CreateParams{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		Question:  req.Question,
		Context:   req.Context,
		Priority:  protocol.EscalationPriority(req.Priority),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": esc.ID, "status": string(esc.Status)})
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := escalation.Filter{
		ToAgent:   q.Get("to"),
		FromAgent: q.Get("from"),
	}

	// Absent status defaults to pending. An explicitly empty or "all" value
	// means no status clause, which is a different query.
	if !q.Has("status") {
		pending := string(protocol.EscalationPending)
		filter.Status = &pending
	} else if v := q.Get("status"); v != "" && v != "all" {
		filter.Status = &v
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	escalations, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if escalations == nil {
		escalations = []*protocol.Escalation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"escalations": escalations,
		"count":       len(escalations),
	})
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := s.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type updateEscalationRequest struct {
	Status *string `json:"status,omitempty"`
	Answer *string `json:"answer,omitempty"`
}

func (s *Server) handleUpdateEscalation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Status == nil && req.Answer == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nothing to update"})
		return
	}

	applied, err := s.svc.Update(r.Context(), id, escalation.UpdateParams{
		Status: req.Status,
		Answer: req.Answer,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{"id": id}
	for k, v := range applied {
		resp[k] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Embedding relay handler ---

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "embedding relay not configured"})
		return
	}

	var req relay.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	texts, err := req.Texts()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	vectors, err := s.embedder.Embed(r.Context(), texts)
	if err != nil {
		var upstream *relay.UpstreamError
		if errors.As(err, &upstream) {
			writeJSON(w, upstream.Status, map[string]string{"detail": upstream.Body})
		} else {
			// Transport failure or timeout before any upstream status existed.
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": err.Error()})
		}
		return
	}

	model := req.Model
	if model == "" {
		model = s.cfg.EmbedModel
	}
	writeJSON(w, http.StatusOK, relay.NewResponse(model, vectors))
}

// --- Health handler ---

// handleHealth never fails; degraded upstreams are data, not an error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeOK := false
	embedOK := false

	var wg sync.WaitGroup
	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			storeOK = s.store.Health(r.Context()) == nil
		}()
	}
	if s.upstream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			embedOK = s.upstream.Health(r.Context()) == nil
		}()
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store":      storeOK,
		"embeddings": embedOK,
	})
}

// --- Logs handler ---

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logring.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	entries := s.logs.Recent(limit, minLevel)
	if entries == nil {
		entries = []logring.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// writeError maps domain errors to transport responses, preserving upstream
// status and detail where they exist.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var upstream *relay.UpstreamError
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "escalation not found"})
	case errors.Is(err, escalation.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
	case errors.As(err, &upstream):
		writeJSON(w, upstream.Status, map[string]string{"detail": upstream.Body})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
