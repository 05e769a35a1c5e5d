// Package httpapi exposes the engine over HTTP: the /chat edge the node
// bridge posts to, the relay/feedback/summarize/sync endpoints, and the
// secret-gated admin surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klarlabs/klar/internal/bridge"
	"github.com/klarlabs/klar/internal/chatlog"
	"github.com/klarlabs/klar/internal/convsync"
	"github.com/klarlabs/klar/internal/engine"
	"github.com/klarlabs/klar/internal/memory"
	"github.com/klarlabs/klar/internal/retriever"
	"github.com/klarlabs/klar/internal/summary"
	"github.com/klarlabs/klar/internal/telemetry"
)

// Version is reported by /health.
const Version = "1.0"

// Bubble is one outgoing message in the wire format the node bridge expects.
type Bubble struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type chatResponse struct {
	Bubbles []Bubble       `json:"bubbles"`
	Next    string         `json:"next"`
	Status  string         `json:"status"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Server wires the engine and its collaborators into an http.Server.
type Server struct {
	addr        string
	adminSecret string

	engine     *engine.Engine
	bridge     *bridge.Client
	summarizer *summary.Summarizer
	syncer     *convsync.Syncer
	retriever  *retriever.Retriever
	logs       *chatlog.Logger
	limiter    *ClientLimiter

	httpServer *http.Server
}

// Options carries the Server collaborators; bridge, summarizer and syncer may
// be nil when unconfigured.
type Options struct {
	Addr        string
	AdminSecret string
	RateRPM     int
	Engine      *engine.Engine
	Bridge      *bridge.Client
	Summarizer  *summary.Summarizer
	Syncer      *convsync.Syncer
	Retriever   *retriever.Retriever
	Logs        *chatlog.Logger
}

// New builds the Server and its mux.
func New(opts Options) *Server {
	s := &Server{
		addr:        opts.Addr,
		adminSecret: opts.AdminSecret,
		engine:      opts.Engine,
		bridge:      opts.Bridge,
		summarizer:  opts.Summarizer,
		syncer:      opts.Syncer,
		retriever:   opts.Retriever,
		logs:        opts.Logs,
		limiter:     NewClientLimiter(opts.RateRPM, 5),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /summarize", s.handleSummarize)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /sync/now", s.handleSyncNow)
	mux.HandleFunc("GET /sync/status", s.handleSyncStatus)
	mux.HandleFunc("GET /admin/logs", s.handleAdminLogs)
	mux.HandleFunc("POST /admin/reset-memory", s.handleAdminReset)
	mux.HandleFunc("GET /admin/memory-stats", s.handleAdminStats)
	mux.HandleFunc("GET /admin/chat-history", s.handleAdminChatHistory)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func toBubbles(texts []string) []Bubble {
	out := make([]Bubble, 0, len(texts))
	for _, t := range texts {
		out = append(out, Bubble{Type: "text", Text: t})
	}
	return out
}

func replyToResponse(r *engine.Reply) chatResponse {
	return chatResponse{
		Bubbles: toBubbles(r.Bubbles),
		Next:    r.Next,
		Status:  r.Status,
		Meta:    r.Meta,
	}
}

func (s *Server) clientKey(r *http.Request, userID string) string {
	if userID != "" {
		return userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid chat payload")
		return
	}

	if !s.limiter.Allow(s.clientKey(r, req.UserID)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusOK, chatResponse{
			Bubbles: []Bubble{},
			Next:    engine.NextAwait,
			Status:  engine.StatusOpen,
			Meta:    map[string]any{"error": "empty message"},
		})
		return
	}

	// /dev commands ride the chat channel so testers can trigger them from
	// WhatsApp directly
	if reply, handled := s.handleDevCommand(req.UserID, text); handled {
		writeJSON(w, http.StatusOK, replyToResponse(reply))
		return
	}

	ctx, span := telemetry.Tracer("httpapi").Start(r.Context(), "httpapi.chat")
	reply := s.engine.Handle(ctx, req.UserID, text)
	span.End()

	if s.bridge != nil && len(reply.Bubbles) > 0 {
		// delivery is best effort and must not hold up the chat response;
		// a single goroutine keeps the bubbles ordered
		go s.bridge.NotifyBubbles(context.Background(), req.UserID, text, reply.Bubbles, reply.Status)
	}

	writeJSON(w, http.StatusOK, replyToResponse(reply))
}

// handleDevCommand parses "/dev reset <secret>" and "/dev pending <secret>".
// A wrong secret gets the standard denial; unrelated text passes through.
func (s *Server) handleDevCommand(userID, text string) (*engine.Reply, bool) {
	var action string
	switch {
	case strings.HasPrefix(text, "/dev reset "):
		action = "reset"
	case strings.HasPrefix(text, "/dev pending "):
		action = "pending"
	default:
		return nil, false
	}

	parts := strings.Fields(text)
	if len(parts) < 3 || parts[2] != s.adminSecret {
		return &engine.Reply{
			Bubbles: []string{"Invalid secret key"},
			Next:    engine.NextAwait,
			Status:  engine.StatusOpen,
			Meta:    map[string]any{"error": "invalid_secret"},
		}, true
	}

	switch action {
	case "reset":
		reply := s.engine.AdminReset(userID)
		reply.Meta = map[string]any{"admin_action": "memory_reset", "user_id": userID}
		return reply, true
	default:
		reply := s.engine.AdminForcePending(userID)
		reply.Meta = map[string]any{"admin_action": "force_pending", "user_id": userID}
		return reply, true
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeError(w, http.StatusBadRequest, "invalid send payload")
		return
	}
	if s.bridge == nil || !s.bridge.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "node server not configured")
		return
	}

	nodeResp, err := s.bridge.SendText(r.Context(), req.To, req.Text)
	if err != nil {
		slog.Warn("send relay failed", "to", req.To, "error", err)
		writeError(w, http.StatusBadGateway, "node server relay failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"sent_to":       req.To,
		"node_response": nodeResp,
	})
}

type feedbackRequest struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
	Note   string `json:"note"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	s.logs.LogFeedback(req.UserID, req.Rating, req.Note)
	slog.Info("feedback received", "user_id", req.UserID, "rating", req.Rating)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"engine_ready": s.engine != nil,
		"version":      Version,
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summarizer not configured")
		return
	}
	var req summary.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid summarize payload")
		return
	}
	writeJSON(w, http.StatusOK, s.summarizer.Summarize(r.Context(), req))
}

type retrieveRequest struct {
	Query   string `json:"query"`
	ChatK   int    `json:"chat_k"`
	ManualK int    `json:"manual_k"`
}

// handleRetrieve exposes the RAG lookup for inspection: what the vector store
// would return for a given customer query.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if s.retriever == nil || !s.retriever.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "retriever not configured")
		return
	}
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid retrieve payload")
		return
	}
	if req.ChatK <= 0 {
		req.ChatK = 3
	}
	if req.ManualK <= 0 {
		req.ManualK = 1
	}
	writeJSON(w, http.StatusOK, s.retriever.Retrieve(r.Context(), req.Query, req.ChatK, req.ManualK))
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.SyncAll(r.Context()))
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	db := s.syncer.DB()
	phones := db.PhoneNumbers()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"last_sync":          db.LastFullSync(),
		"conversation_count": len(phones),
		"total_messages":     db.TotalMessages(),
		"phone_numbers":      phones,
	})
}

func (s *Server) requireSecret(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("secret") != s.adminSecret {
		writeError(w, http.StatusForbidden, "invalid secret key")
		return false
	}
	return true
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 2000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 2000")
			return
		}
		limit = n
	}

	records, err := s.logs.ReadLatest(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "log read failed")
		return
	}
	if records == nil {
		records = []chatlog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"count": len(records),
		"items": records,
	})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	s.engine.AdminReset(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "memory reset for user " + userID,
		"user_id": userID,
	})
}

func (s *Server) handleAdminChatHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.engine.Store().ExportChatHistory(userID, limit)
	if entries == nil {
		entries = []memory.ExportedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"user_id": userID,
		"count":   len(entries),
		"items":   entries,
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}
	store := s.engine.Store()
	users := store.UserIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"stats":       store.GetStats(),
		"user_ids":    users,
		"total_users": len(users),
	})
}
