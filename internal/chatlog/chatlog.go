// Package chatlog appends every conversation turn to a daily JSON-lines file.
// One record per line, UTC day boundaries, no buffering.
package chatlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is one logged turn.
type Record struct {
	Timestamp string         `json:"timestamp"`
	Direction string         `json:"direction"` // "incoming" or "outgoing"
	UserID    string         `json:"user_id"`
	Message   string         `json:"message,omitempty"`
	Response  string         `json:"response,omitempty"`
	Status    string         `json:"status,omitempty"` // outgoing only
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FeedbackRecord is one rating submission.
type FeedbackRecord struct {
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	Rating    int    `json:"rating"`
	Note      string `json:"note,omitempty"`
}

// Logger serializes appends under one mutex. The daily file is reopened per
// write so day rollover needs no timer.
type Logger struct {
	dir string
	mu  sync.Mutex

	now func() time.Time // test hook
}

// New creates the log directory if needed.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

// CurrentPath returns today's chat log file path.
func (l *Logger) CurrentPath() string {
	day := l.now().UTC().Format("2006-01-02")
	return filepath.Join(l.dir, "chat-"+day+".jsonl")
}

// LogIncoming records a user message.
func (l *Logger) LogIncoming(userID, message string, meta map[string]any) {
	l.append(l.CurrentPath(), Record{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Direction: "incoming",
		UserID:    userID,
		Message:   message,
		Metadata:  meta,
	})
}

// LogOutgoing records a bot reply with its response status.
func (l *Logger) LogOutgoing(userID, response, status string, meta map[string]any) {
	l.append(l.CurrentPath(), Record{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Direction: "outgoing",
		UserID:    userID,
		Response:  response,
		Status:    status,
		Metadata:  meta,
	})
}

// LogFeedback appends one line to feedback.jsonl.
func (l *Logger) LogFeedback(userID string, rating int, note string) {
	l.append(filepath.Join(l.dir, "feedback.jsonl"), FeedbackRecord{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		UserID:    userID,
		Rating:    rating,
		Note:      note,
	})
}

func (l *Logger) append(path string, v any) {
	line, err := json.Marshal(v)
	if err != nil {
		slog.Error("chatlog marshal failed", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("chatlog open failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("chatlog write failed", "path", path, "error", err)
	}
}

// ReadLatest returns the tail of the newest daily chat log, up to limit
// records. Used by the admin log endpoint.
func (l *Logger) ReadLatest(limit int) ([]Record, error) {
	entries, err := filepath.Glob(filepath.Join(l.dir, "chat-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list chat logs: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	sort.Strings(entries)
	newest := entries[len(entries)-1]

	day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(newest), "chat-"), ".jsonl")
	records, err := l.ReadDay(day)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// ReadDay returns all records for a given UTC day (YYYY-MM-DD). Used by the
// admin log endpoint.
func (l *Logger) ReadDay(day string) ([]Record, error) {
	path := filepath.Join(l.dir, "chat-"+day+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chat log: %w", err)
	}

	var out []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}
