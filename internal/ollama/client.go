// Package ollama wraps the Ollama /api/generate endpoint with retries, an
// optional fallback host, and a strict-JSON mode for classifier prompts.
package ollama

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

	"go.opentelemetry.io/otel/attribute"

	"github.com/klarlabs/klar/internal/telemetry"
)

// Generator is the LLM surface the engine depends on. Tests stub it with
// scripted responses.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, temperature float64) (string, error)
	GenerateJSON(ctx context.Context, system, prompt string) (map[string]any, error)
}

const (
	defaultTimeout = 60 * time.Second
	maxAttempts    = 3
)

// retryBackoff is a var so tests can shorten it.
var retryBackoff = 5 * time.Second

const jsonPreamble = "You are a strict JSON generator. Respond with a single valid JSON object and nothing else. No markdown, no code fences, no commentary."

// HTTPError carries the status and body of a failed generate call.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("ollama: http %d: %s", e.Status, body)
}

// Client talks to one Ollama host, with an optional fallback tried after the
// primary exhausts its attempts.
type Client struct {
	host         string
	fallbackHost string
	model        string
	httpc        *http.Client

	jobs  chan func()
	audit *auditLog
}

// New builds a Client. workers sizes the async pool; 0 disables async
// offload (GenerateAsync then runs inline).
func New(host, fallbackHost, model string, timeout time.Duration, workers int) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		host:         strings.TrimRight(host, "/"),
		fallbackHost: strings.TrimRight(fallbackHost, "/"),
		model:        model,
		httpc:        &http.Client{Timeout: timeout},
	}
	if workers > 0 {
		c.jobs = make(chan func(), workers*4)
		for i := 0; i < workers; i++ {
			go func() {
				for job := range c.jobs {
					job()
				}
			}()
		}
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Close stops the async worker pool. Pending jobs still run; new GenerateAsync
// calls fall back to inline goroutines.
func (c *Client) Close() {
	if c.jobs != nil {
		close(c.jobs)
		c.jobs = nil
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options"`
	Stream  bool           `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate renders the chat-template prompt and returns the model's text.
// Transport and server errors are retried; a final failure returns "".
func (c *Client) Generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	return c.generate(ctx, "generate", system, prompt, temperature)
}

func (c *Client) generate(ctx context.Context, callType, system, prompt string, temperature float64) (string, error) {
	ctx, span := telemetry.Tracer("ollama").Start(ctx, "ollama."+callType)
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	full := fmt.Sprintf("<|system|>\n%s\n<|user|>\n%s\n<|assistant|>\n", system, prompt)
	started := time.Now()

	out, err := c.generateWithRetry(ctx, c.host, full, temperature)
	if err != nil && c.fallbackHost != "" && c.fallbackHost != c.host {
		slog.Warn("ollama primary host failed, trying fallback", "primary", c.host, "fallback", c.fallbackHost, "error", err)
		out, err = c.generateWithRetry(ctx, c.fallbackHost, full, temperature)
	}
	out = strings.TrimSpace(out)
	c.recordCall(callType, system, prompt, out, started, err)
	if err != nil {
		span.RecordError(err)
		slog.Error("ollama generate failed", "model", c.model, "error", err)
		return "", err
	}
	return out, nil
}

// GenerateJSON runs Generate under a strict-JSON preamble and parses the
// result. On parse failure it salvages the first balanced {...} span; failing
// that it returns an empty object, never an error the caller must branch on.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (map[string]any, error) {
	sys := jsonPreamble
	if system != "" {
		sys = system + "\n\n" + jsonPreamble
	}

	raw, err := c.generate(ctx, "generate_json", sys, prompt, 0.0)
	if err != nil {
		return map[string]any{}, err
	}
	return ParseJSONObject(raw), nil
}

// GenerateAsync offloads a generation to the worker pool and delivers the
// result on the returned channel. With no pool configured it runs inline.
func (c *Client) GenerateAsync(ctx context.Context, system, prompt string, temperature float64) <-chan string {
	ch := make(chan string, 1)
	job := func() {
		out, _ := c.Generate(ctx, system, prompt, temperature)
		ch <- out
	}
	if c.jobs != nil {
		select {
		case c.jobs <- job:
		default:
			go job()
		}
	} else {
		go job()
	}
	return ch
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text via /api/embeddings, using the
// given model (the generate model when empty). No retries: embedding callers
// degrade gracefully on failure.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return out.Embedding, nil
}

func (c *Client) generateWithRetry(ctx context.Context, host, prompt string, temperature float64) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := c.doGenerate(ctx, host, prompt, temperature)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < maxAttempts {
			slog.Warn("ollama request failed, retrying", "host", host, "attempt", attempt, "error", err)
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func (c *Client) doGenerate(ctx context.Context, host, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Options: map[string]any{"temperature": temperature},
		Stream:  false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Response, nil
}

// ParseJSONObject parses s as a JSON object, falling back to the first
// balanced {...} span when the model wrapped the object in prose or fences.
// Unsalvageable input yields an empty map.
func ParseJSONObject(s string) map[string]any {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj
	}

	if span := firstObjectSpan(s); span != "" {
		if err := json.Unmarshal([]byte(span), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{}
}

// firstObjectSpan returns the first brace-balanced {...} substring, respecting
// string literals and escapes.
func firstObjectSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
