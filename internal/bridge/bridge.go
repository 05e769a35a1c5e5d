// Package bridge posts engine replies back to the node WhatsApp server.
// Delivery is best effort: failures are logged and never surfaced to the
// chat pipeline.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxAttempts = 2

// Client talks to the node server.
type Client struct {
	nodeURL string
	httpc   *http.Client

	// sleep is a hook so tests skip the retry backoff
	sleep func(time.Duration)
}

// New builds a Client against the node server base URL. An empty URL disables
// the bridge; every call becomes a no-op.
func New(nodeURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		nodeURL: nodeURL,
		httpc:   &http.Client{Timeout: timeout},
		sleep:   time.Sleep,
	}
}

// Enabled reports whether a node server URL is configured.
func (c *Client) Enabled() bool { return c.nodeURL != "" }

type enginePayload struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Reply     string `json:"reply"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NotifyReply pushes one engine reply to the node server, retrying with a
// short linear backoff. Errors are logged only.
func (c *Client) NotifyReply(ctx context.Context, userID, text, reply, status string) {
	if !c.Enabled() || reply == "" {
		return
	}

	payload := enginePayload{
		RequestID: uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Reply:     reply,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = c.post(ctx, "/api/send-from-engine", payload, nil)
		if lastErr == nil {
			slog.Debug("bridge reply delivered", "request_id", payload.RequestID, "user_id", userID, "status", status)
			return
		}
		if attempt < maxAttempts {
			c.sleep(500 * time.Millisecond * time.Duration(attempt))
		}
	}
	slog.Warn("bridge delivery failed", "request_id", payload.RequestID, "user_id", userID, "attempts", maxAttempts, "error", lastErr)
}

// NotifyBubbles delivers a multi-bubble reply in order. A failed bubble does
// not stop the rest.
func (c *Client) NotifyBubbles(ctx context.Context, userID, text string, bubbles []string, status string) {
	for _, b := range bubbles {
		c.NotifyReply(ctx, userID, text, b, status)
	}
}

// SendText relays an outbound message through the node server's send API and
// returns the node response body.
func (c *Client) SendText(ctx context.Context, to, text string) (map[string]any, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("node server not configured")
	}
	payload := map[string]string{
		"to":      to,
		"message": text,
		"type":    "text",
	}
	var nodeResp map[string]any
	if err := c.post(ctx, "/api/send", payload, &nodeResp); err != nil {
		return nil, err
	}
	return nodeResp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read bridge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bridge status %d", resp.StatusCode)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode bridge response: %w", err)
		}
	}
	return nil
}
