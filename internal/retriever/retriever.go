// Package retriever queries the Qdrant knowledge base over its HTTP API:
// past chat pairs, manual-book chunks, and the answer style guide. It is a
// read-only edge; ingestion happens offline.
package retriever

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

	"github.com/klarlabs/klar/internal/ollama"
)

// Embedder turns text into a query vector. The Ollama client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Collection names fixed by the ingestion pipeline.
const (
	collectionChatPairs  = "chat_history_pairs"
	collectionManualBook = "manual_book"
	collectionStyleGuide = "style_guide"
)

// ChatHit is a retrieved historical customer/admin exchange.
type ChatHit struct {
	Customer string  `json:"customer"`
	Admin    string  `json:"admin"`
	Summary  string  `json:"summary"`
	Topic    string  `json:"topic"`
	Score    float64 `json:"score"`
}

// ManualHit is a retrieved service-manual chunk.
type ManualHit struct {
	SummaryQueryUsed string  `json:"summary_query_used"`
	Summary          string  `json:"summary"`
	Model            string  `json:"model"`
	Section          string  `json:"section"`
	Content          string  `json:"content"`
	Score            float64 `json:"score"`
}

// StyleHit is a retrieved answer-style example.
type StyleHit struct {
	Intent     string  `json:"intent"`
	Customer   string  `json:"customer"`
	Admin      string  `json:"admin"`
	StyleNotes string  `json:"style_notes"`
	Score      float64 `json:"score"`
}

// Bundle is the combined retrieval result.
type Bundle struct {
	ChatHistory []ChatHit   `json:"chat_history"`
	ManualBook  []ManualHit `json:"manual_book"`
	Style       []StyleHit  `json:"style"`
}

// Retriever holds the Qdrant endpoint plus the models used for query shaping.
type Retriever struct {
	qdrantURL  string
	embedModel string
	llm        ollama.Generator
	embedder   Embedder
	httpc      *http.Client
}

// New builds a Retriever. An empty qdrantURL disables retrieval; every query
// then returns an empty bundle.
func New(qdrantURL, embedModel string, llm ollama.Generator, embedder Embedder) *Retriever {
	return &Retriever{
		qdrantURL:  strings.TrimRight(qdrantURL, "/"),
		embedModel: embedModel,
		llm:        llm,
		embedder:   embedder,
		httpc:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a Qdrant endpoint is configured.
func (r *Retriever) Enabled() bool { return r.qdrantURL != "" }

// Ping verifies the Qdrant endpoint answers.
func (r *Retriever) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return fmt.Errorf("qdrant not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.qdrantURL+"/collections", nil)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant status %d", resp.StatusCode)
	}
	return nil
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (r *Retriever) search(ctx context.Context, collection string, vector []float32, limit int) (*searchResponse, error) {
	raw, err := json.Marshal(searchRequest{Vector: vector, Limit: limit, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", r.qdrantURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant search status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// translateQuery renders the Indonesian query into short English for the
// manual-book index. Failure falls back to the original text.
func (r *Retriever) translateQuery(ctx context.Context, text string) string {
	out, err := r.llm.Generate(ctx, "Translate the user query into short, clear English.", text, 0)
	if err != nil || strings.TrimSpace(out) == "" {
		return text
	}
	return strings.TrimSpace(out)
}

const manualStyleSystem = "You are a technical summarizer for Honeywell Electronic Air Cleaner (EAC) manuals. " +
	"Rewrite the user query into a single technical English sentence in the same style " +
	"as the 'summary' field found in service manuals.\n\n" +
	"Rules:\n" +
	"- Start with a verb such as 'Summarizes', 'Describes', 'Explains', or 'Outlines'.\n" +
	"- Must be 1 sentence only.\n" +
	"- Mention the relevant topic clearly (wiring, installation, airflow, safety, power supply, troubleshooting, mounting, collector cell, ionizer, etc).\n" +
	"- Keep it short, direct, and factual.\n" +
	"- Do NOT mention user, customer, or chat context.\n" +
	"- Do NOT write a question.\n" +
	"- Output only the sentence."

// manualSummaryStyle rewrites an English query into the manual index's summary
// register.
func (r *Retriever) manualSummaryStyle(ctx context.Context, englishQuery string) string {
	out, err := r.llm.Generate(ctx, manualStyleSystem, englishQuery, 0.1)
	if err != nil || strings.TrimSpace(out) == "" {
		return "Summarizes technical information regarding: " + englishQuery
	}
	return strings.TrimSpace(out)
}

// ChatHistory returns the k most similar past exchanges.
func (r *Retriever) ChatHistory(ctx context.Context, query string, k int) []ChatHit {
	if !r.Enabled() {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, r.embedModel, query)
	if err != nil {
		slog.Warn("chat history embed failed", "error", err)
		return nil
	}
	resp, err := r.search(ctx, collectionChatPairs, vec, k)
	if err != nil {
		slog.Warn("chat history search failed", "error", err)
		return nil
	}
	hits := make([]ChatHit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		hits = append(hits, ChatHit{
			Customer: payloadString(pt.Payload, "customer"),
			Admin:    payloadString(pt.Payload, "admin"),
			Summary:  payloadString(pt.Payload, "summary"),
			Topic:    payloadString(pt.Payload, "topic"),
			Score:    pt.Score,
		})
	}
	return hits
}

// ManualBook translates and restyles the query, then searches the manual
// index.
func (r *Retriever) ManualBook(ctx context.Context, query string, k int) []ManualHit {
	if !r.Enabled() {
		return nil
	}
	english := r.translateQuery(ctx, query)
	styled := r.manualSummaryStyle(ctx, english)

	vec, err := r.embedder.Embed(ctx, r.embedModel, styled)
	if err != nil {
		slog.Warn("manual embed failed", "error", err)
		return nil
	}
	resp, err := r.search(ctx, collectionManualBook, vec, k)
	if err != nil {
		slog.Warn("manual search failed", "error", err)
		return nil
	}
	hits := make([]ManualHit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		hits = append(hits, ManualHit{
			SummaryQueryUsed: styled,
			Summary:          payloadString(pt.Payload, "summary"),
			Model:            payloadString(pt.Payload, "model"),
			Section:          payloadString(pt.Payload, "section"),
			Content:          payloadString(pt.Payload, "content"),
			Score:            pt.Score,
		})
	}
	return hits
}

// Style returns answer-style examples nearest to the query.
func (r *Retriever) Style(ctx context.Context, query string, k int) []StyleHit {
	if !r.Enabled() {
		return nil
	}
	formatted := fmt.Sprintf("Customer: %s\nAdmin:\nStyleNotes:", query)
	vec, err := r.embedder.Embed(ctx, r.embedModel, formatted)
	if err != nil {
		slog.Warn("style embed failed", "error", err)
		return nil
	}
	resp, err := r.search(ctx, collectionStyleGuide, vec, k)
	if err != nil {
		slog.Warn("style search failed", "error", err)
		return nil
	}
	hits := make([]StyleHit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		hits = append(hits, StyleHit{
			Intent:     payloadString(pt.Payload, "intent"),
			Customer:   payloadString(pt.Payload, "customer"),
			Admin:      payloadString(pt.Payload, "admin"),
			StyleNotes: payloadString(pt.Payload, "style_notes"),
			Score:      pt.Score,
		})
	}
	return hits
}

// Retrieve runs all three searches for one query.
func (r *Retriever) Retrieve(ctx context.Context, query string, chatK, manualK int) Bundle {
	query = strings.TrimSpace(query)
	if query == "" || !r.Enabled() {
		return Bundle{}
	}
	return Bundle{
		ChatHistory: r.ChatHistory(ctx, query, chatK),
		ManualBook:  r.ManualBook(ctx, query, manualK),
		Style:       r.Style(ctx, query, manualK),
	}
}
