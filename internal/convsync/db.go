// Package convsync mirrors WhatsApp conversations from the node bridge into a
// local JSON database and keeps it fresh on a schedule.
package convsync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Message is one synced WhatsApp message. Field names follow the node
// server's wire format.
type Message struct {
	MessageID string `json:"messageId"`
	From      string `json:"from,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	SyncedAt  string `json:"syncedAt,omitempty"`
}

// Conversation is the per-phone record in the database.
type Conversation struct {
	PhoneNumber string         `json:"phoneNumber"`
	Metadata    map[string]any `json:"metadata"`
	Messages    []Message      `json:"messages"`
}

type dbStats struct {
	TotalConversations int     `json:"totalConversations"`
	TotalMessages      int     `json:"totalMessages"`
	LastSyncDuration   float64 `json:"lastSyncDuration"`
}

type dbFile struct {
	Version       string                   `json:"version"`
	LastFullSync  *string                  `json:"lastFullSync"`
	Conversations map[string]*Conversation `json:"conversations"`
	Stats         dbStats                  `json:"stats"`
}

// DB is the conversations.json store. All reads and writes go through the
// mutex; writes are atomic via a temp file rename.
type DB struct {
	path string
	mu   sync.Mutex
	data *dbFile
}

func emptyDB() *dbFile {
	return &dbFile{
		Version:       "1.0",
		Conversations: map[string]*Conversation{},
	}
}

// OpenDB loads or initializes the database at path.
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db := &DB{path: path, data: emptyDB()}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := db.persistLocked(); err != nil {
			return nil, err
		}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation db: %w", err)
	}

	if err := json.Unmarshal(raw, db.data); err != nil {
		// corrupt file: back it up and start fresh
		backup := path + ".corrupted.backup"
		if werr := os.WriteFile(backup, raw, 0o644); werr == nil {
			slog.Warn("conversation db corrupt, reinitialized", "path", path, "backup", backup, "error", err)
		}
		db.data = emptyDB()
		if err := db.persistLocked(); err != nil {
			return nil, err
		}
	}
	if db.data.Conversations == nil {
		db.data.Conversations = map[string]*Conversation{}
	}
	return db, nil
}

func (d *DB) persistLocked() error {
	raw, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation db: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".conversations-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp db file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("write temp db file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp db file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp db file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("replace conversation db: %w", err)
	}
	cleanup = false
	return nil
}

func (d *DB) save() {
	if err := d.persistLocked(); err != nil {
		slog.Error("conversation db persist failed", "error", err)
	}
}

// Get returns a copy of one conversation, or nil.
func (d *DB) Get(phone string) *Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.data.Conversations[phone]
	if !ok {
		return nil
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	cp.Metadata = map[string]any{}
	for k, v := range conv.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Messages returns the message list for a phone number, empty when unknown.
func (d *DB) Messages(phone string) []Message {
	conv := d.Get(phone)
	if conv == nil {
		return nil
	}
	return conv.Messages
}

// Upsert merges messages into a conversation, deduplicating by messageId and
// keeping the list timestamp-sorted. firstSeenAt is preserved across merges.
func (d *DB) Upsert(phone string, metadata map[string]any, messages []Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	existing := d.data.Conversations[phone]
	var merged []Message
	firstSeen := now
	if existing != nil {
		seen := map[string]bool{}
		for _, m := range existing.Messages {
			seen[m.MessageID] = true
		}
		merged = append(merged, existing.Messages...)
		for _, m := range messages {
			if !seen[m.MessageID] {
				m.SyncedAt = now
				merged = append(merged, m)
			}
		}
		if fs, ok := existing.Metadata["firstSeenAt"].(string); ok {
			firstSeen = fs
		}
	} else {
		for _, m := range messages {
			m.SyncedAt = now
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["lastSyncAt"] = now
	meta["firstSeenAt"] = firstSeen
	meta["messageCount"] = len(merged)

	d.data.Conversations[phone] = &Conversation{
		PhoneNumber: phone,
		Metadata:    meta,
		Messages:    merged,
	}

	d.recountLocked()
	d.save()
}

func (d *DB) recountLocked() {
	total := 0
	for _, c := range d.data.Conversations {
		total += len(c.Messages)
	}
	d.data.Stats.TotalConversations = len(d.data.Conversations)
	d.data.Stats.TotalMessages = total
}

// PhoneNumbers lists every synced phone number, sorted.
func (d *DB) PhoneNumbers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.data.Conversations))
	for p := range d.data.Conversations {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// LastFullSync returns the RFC3339 time of the last full sync, "" when never.
func (d *DB) LastFullSync() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data.LastFullSync == nil {
		return ""
	}
	return *d.data.LastFullSync
}

// TotalMessages returns the message count across all conversations.
func (d *DB) TotalMessages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.Stats.TotalMessages
}

// MarkFullSync records a completed full sync and its duration.
func (d *DB) MarkFullSync(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339)
	d.data.LastFullSync = &ts
	d.data.Stats.LastSyncDuration = duration.Seconds()
	d.save()
}
