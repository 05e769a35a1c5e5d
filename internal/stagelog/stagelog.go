// Package stagelog records the pipeline stages a turn passed through. The
// trail is for debugging conversation routing; it shares the chat log dir.
package stagelog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type event struct {
	Timestamp string         `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Stage     string         `json:"stage"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Trail appends stage events to stages-YYYY-MM-DD.jsonl. A nil Trail is a
// no-op so callers never need to guard.
type Trail struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Trail {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("stagelog dir create failed", "dir", dir, "error", err)
		return nil
	}
	return &Trail{dir: dir}
}

// Mark records that userID's current turn reached stage.
func (t *Trail) Mark(userID, stage string, detail map[string]any) {
	if t == nil {
		return
	}
	line, err := json.Marshal(event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserID:    userID,
		Stage:     stage,
		Detail:    detail,
	})
	if err != nil {
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(t.dir, "stages-"+day+".jsonl")

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("stagelog open failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}
