package ollama

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// auditRecord is one line of the LLM call audit log. Prompts and responses
// are stored in full; the file is operator-facing debugging material.
type auditRecord struct {
	TS         string `json:"ts"`
	CallType   string `json:"call_type"` // "generate" or "generate_json"
	Model      string `json:"model"`
	System     string `json:"system"`
	Prompt     string `json:"prompt"`
	Response   string `json:"response"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type auditLog struct {
	path string
	mu   sync.Mutex
}

// SetAuditLog enables per-call audit logging to a JSONL file. Call before
// the client is shared across goroutines.
func (c *Client) SetAuditLog(path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("llm audit dir create failed", "path", path, "error", err)
		return
	}
	c.audit = &auditLog{path: path}
}

func (c *Client) recordCall(callType, system, prompt, response string, started time.Time, err error) {
	if c.audit == nil {
		return
	}
	rec := auditRecord{
		TS:         time.Now().UTC().Format(time.RFC3339),
		CallType:   callType,
		Model:      c.model,
		System:     system,
		Prompt:     prompt,
		Response:   response,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	line, merr := json.Marshal(rec)
	if merr != nil {
		return
	}

	c.audit.mu.Lock()
	defer c.audit.mu.Unlock()
	f, oerr := os.OpenFile(c.audit.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if oerr != nil {
		slog.Error("llm audit open failed", "path", c.audit.path, "error", oerr)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}
