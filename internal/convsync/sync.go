package convsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Syncer pulls conversations and messages from the node bridge into the DB.
type Syncer struct {
	nodeURL string
	db      *DB
	httpc   *http.Client
}

// NewSyncer builds a Syncer against the node server base URL.
func NewSyncer(nodeURL string, db *DB, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{
		nodeURL: nodeURL,
		db:      db,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// DB exposes the underlying database for status queries.
func (s *Syncer) DB() *DB { return s.db }

// Result summarizes one full sync pass.
type Result struct {
	Success            bool    `json:"success"`
	Error              string  `json:"error,omitempty"`
	SyncedCount        int     `json:"synced_count"`
	FailedCount        int     `json:"failed_count"`
	TotalConversations int     `json:"total_conversations"`
	Duration           float64 `json:"duration"`
	Timestamp          string  `json:"timestamp,omitempty"`
}

type conversationsEnvelope struct {
	Success       bool `json:"success"`
	Conversations []struct {
		PhoneNumber   string `json:"phoneNumber"`
		LastMessage   string `json:"lastMessage"`
		LastTimestamp string `json:"lastTimestamp"`
	} `json:"conversations"`
}

type messagesEnvelope struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

func (s *Syncer) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.nodeURL+path, nil)
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("node server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read node server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node server status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode node server response: %w", err)
	}
	return nil
}

// SyncConversation fetches one phone's messages and merges them into the DB.
func (s *Syncer) SyncConversation(ctx context.Context, phone string) error {
	var env messagesEnvelope
	if err := s.getJSON(ctx, "/api/messages/"+url.PathEscape(phone), &env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("node server rejected message fetch for %s", phone)
	}

	if existing := s.db.Get(phone); existing != nil {
		s.db.Upsert(phone, existing.Metadata, env.Messages)
		return nil
	}

	meta := map[string]any{}
	if n := len(env.Messages); n > 0 {
		meta["lastMessage"] = env.Messages[n-1].Text
		meta["lastTimestamp"] = env.Messages[n-1].Timestamp
	}
	s.db.Upsert(phone, meta, env.Messages)
	return nil
}

// SyncAll lists every conversation on the node server and syncs each one.
// Per-conversation failures are counted, not fatal.
func (s *Syncer) SyncAll(ctx context.Context) Result {
	start := time.Now()

	var env conversationsEnvelope
	if err := s.getJSON(ctx, "/api/conversations", &env); err != nil || !env.Success {
		if err == nil {
			err = fmt.Errorf("node server rejected conversation list")
		}
		slog.Warn("conversation sync failed", "error", err)
		return Result{
			Success:  false,
			Error:    "failed to fetch conversations from node server",
			Duration: time.Since(start).Seconds(),
		}
	}

	synced, failed := 0, 0
	for _, conv := range env.Conversations {
		if conv.PhoneNumber == "" {
			continue
		}
		if err := s.SyncConversation(ctx, conv.PhoneNumber); err != nil {
			slog.Warn("conversation sync failed", "phone", conv.PhoneNumber, "error", err)
			failed++
			continue
		}
		synced++
	}

	took := time.Since(start)
	s.db.MarkFullSync(took)
	slog.Info("conversation sync complete", "synced", synced, "failed", failed, "duration", took)

	return Result{
		Success:            true,
		SyncedCount:        synced,
		FailedCount:        failed,
		TotalConversations: len(env.Conversations),
		Duration:           took.Seconds(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}
}

// MessagesForSummary refreshes one conversation and returns its messages.
// A failed refresh falls back to whatever is already stored.
func (s *Syncer) MessagesForSummary(ctx context.Context, phone string) []Message {
	if err := s.SyncConversation(ctx, phone); err != nil {
		slog.Warn("summary refresh failed, using stored messages", "phone", phone, "error", err)
	}
	return s.db.Messages(phone)
}
