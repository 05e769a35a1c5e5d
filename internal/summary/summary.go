// Package summary produces Indonesian handover reports from a conversation,
// sourced from the local chat log or the synced WhatsApp history.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klarlabs/klar/internal/chatlog"
	"github.com/klarlabs/klar/internal/convsync"
	"github.com/klarlabs/klar/internal/ollama"
)

// Request selects the conversation source. Messages, when set, wins; otherwise
// UseLocalLogs reads today's chat log, else the synced history is used.
type Request struct {
	SessionID    string           `json:"session_id"`
	Messages     []map[string]any `json:"messages,omitempty"`
	UseLocalLogs bool             `json:"use_local_logs"`
	SendToNode   bool             `json:"send_to_node"`
}

// Result is the /summarize response shape.
type Result struct {
	Success      bool           `json:"success"`
	SessionID    string         `json:"session_id"`
	Summary      string         `json:"summary,omitempty"`
	MessageCount int            `json:"message_count,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Summarizer renders conversations into the fixed report format.
type Summarizer struct {
	llm     ollama.Generator
	logs    *chatlog.Logger
	syncer  *convsync.Syncer
	nodeURL string
	httpc   *http.Client
}

// New builds a Summarizer. syncer may be nil when no node server is
// configured.
func New(llm ollama.Generator, logs *chatlog.Logger, syncer *convsync.Syncer, nodeURL string) *Summarizer {
	return &Summarizer{
		llm:     llm,
		logs:    logs,
		syncer:  syncer,
		nodeURL: nodeURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

const reportSystem = "Kamu adalah asisten yang meringkas percakapan customer service untuk produk Electronic Air Cleaner Honeywell."

const reportPrompt = `Percakapan:
%s

Buatkan ringkasan yang mencakup:
1. Identitas pelanggan (nama jika disebutkan)
2. Topik/masalah utama
3. Kronologi singkat percakapan (poin-poin penting)
4. Informasi penting: produk yang digunakan, keluhan spesifik, solusi yang sudah dicoba
5. Data pelanggan yang sudah dikumpulkan (nama, produk, alamat)
6. Status: apakah masalah sudah resolved, pending untuk teknisi, atau masih open
7. Tindakan selanjutnya yang perlu dilakukan

Format dalam bahasa Indonesia, ringkas tapi lengkap. Gunakan struktur:

RINGKASAN PERCAKAPAN
Pelanggan: [nama atau "Belum disebutkan"]
Topik: [intent/masalah utama]

KRONOLOGI:
- [step by step singkat]

INFORMASI PENTING:
- Produk: [tipe produk jika disebutkan]
- Masalah: [deskripsi masalah]
- Solusi yang dicoba: [langkah troubleshooting yang sudah dilakukan]

DATA PELANGGAN:
- Nama: [...]
- Produk: [...]
- Alamat: [...]

STATUS & TINDAKAN SELANJUTNYA:
- Status: [open/pending/resolved]
- Tindakan: [apa yang perlu dilakukan admin/teknisi]`

// Summarize gathers the conversation, renders the report with the LLM, and
// optionally pushes it to the node server.
func (s *Summarizer) Summarize(ctx context.Context, req Request) Result {
	text, count := s.conversationText(ctx, req)
	if count == 0 {
		return Result{
			Success:   false,
			SessionID: req.SessionID,
			Error:     "no messages found for session",
		}
	}

	summaryText, err := s.llm.Generate(ctx, reportSystem, fmt.Sprintf(reportPrompt, text), 0.3)
	if err != nil || strings.TrimSpace(summaryText) == "" {
		slog.Warn("summary generation failed", "session_id", req.SessionID, "error", err)
		return Result{
			Success:   false,
			SessionID: req.SessionID,
			Error:     "summary generation failed",
		}
	}
	summaryText = strings.TrimSpace(summaryText)

	meta := map[string]any{
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"source":       s.sourceName(req),
	}
	if req.SendToNode {
		meta["sent_to_node"] = s.pushToNode(ctx, req.SessionID, summaryText)
	}

	return Result{
		Success:      true,
		SessionID:    req.SessionID,
		Summary:      summaryText,
		MessageCount: count,
		Metadata:     meta,
	}
}

func (s *Summarizer) sourceName(req Request) string {
	switch {
	case len(req.Messages) > 0:
		return "request"
	case req.UseLocalLogs:
		return "local_logs"
	default:
		return "synced_history"
	}
}

// conversationText flattens the chosen source into "Pelanggan:/Bot:" lines.
func (s *Summarizer) conversationText(ctx context.Context, req Request) (string, int) {
	if len(req.Messages) > 0 {
		return renderGeneric(req.Messages)
	}
	if req.UseLocalLogs {
		return s.renderLocalLogs(req.SessionID)
	}
	if s.syncer != nil {
		return renderSynced(s.syncer.MessagesForSummary(ctx, req.SessionID))
	}
	return "", 0
}

func (s *Summarizer) renderLocalLogs(userID string) (string, int) {
	day := time.Now().UTC().Format("2006-01-02")
	records, err := s.logs.ReadDay(day)
	if err != nil {
		slog.Warn("chat log read failed", "day", day, "error", err)
		return "", 0
	}

	var lines []string
	for _, rec := range records {
		if rec.UserID != userID {
			continue
		}
		switch rec.Direction {
		case "incoming":
			lines = append(lines, "Pelanggan: "+rec.Message)
		case "outgoing":
			lines = append(lines, "Bot: "+rec.Response)
		}
	}
	return strings.Join(lines, "\n"), len(lines)
}

func renderSynced(msgs []convsync.Message) (string, int) {
	var lines []string
	for _, m := range msgs {
		role := "Pelanggan"
		if m.From == "me" {
			role = "Bot"
		}
		lines = append(lines, role+": "+m.Text)
	}
	return strings.Join(lines, "\n"), len(lines)
}

// renderGeneric accepts both the chat-log record shape (direction/message/
// response) and the WhatsApp shape (isFromMe/text).
func renderGeneric(msgs []map[string]any) (string, int) {
	var lines []string
	for _, m := range msgs {
		if dir, ok := m["direction"].(string); ok {
			switch dir {
			case "incoming":
				text, _ := m["message"].(string)
				lines = append(lines, "Pelanggan: "+text)
			case "outgoing":
				text, _ := m["response"].(string)
				lines = append(lines, "Bot: "+text)
			}
			continue
		}
		if fromMe, ok := m["isFromMe"].(bool); ok {
			text, _ := m["text"].(string)
			if fromMe {
				lines = append(lines, "Bot: "+text)
			} else {
				lines = append(lines, "Pelanggan: "+text)
			}
		}
	}
	return strings.Join(lines, "\n"), len(lines)
}

// pushToNode delivers the report to the node server. Best effort.
func (s *Summarizer) pushToNode(ctx context.Context, sessionID, summaryText string) bool {
	if s.nodeURL == "" {
		return false
	}
	raw, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"summary":    summaryText,
	})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.nodeURL+"/api/update-summary", bytes.NewReader(raw))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		slog.Warn("summary push failed", "session_id", sessionID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
