package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifyReplyDelivers(t *testing.T) {
	var got enginePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/send-from-engine" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.NotifyReply(context.Background(), "u1", "EAC saya mati", "Baik kak", "open")

	if got.UserID != "u1" || got.Reply != "Baik kak" || got.Status != "open" {
		t.Fatalf("payload = %+v", got)
	}
	if got.RequestID == "" {
		t.Fatal("request_id missing")
	}
}

func TestNotifyReplyRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.sleep = func(time.Duration) {}
	c.NotifyReply(context.Background(), "u1", "t", "r", "open")

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestNotifyBubblesDeliversAllInOrder(t *testing.T) {
	var mu sync.Mutex
	var replies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p enginePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		replies = append(replies, p.Reply)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.NotifyBubbles(context.Background(), "u1", "EAC saya mati",
		[]string{"perlu teknisi kak", "boleh minta atas nama siapa?"}, "open")

	mu.Lock()
	defer mu.Unlock()
	if len(replies) != 2 || replies[0] != "perlu teknisi kak" || replies[1] != "boleh minta atas nama siapa?" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestNotifyReplyDisabled(t *testing.T) {
	c := New("", time.Second)
	// must be a no-op, not a panic or a network attempt
	c.NotifyReply(context.Background(), "u1", "t", "r", "open")
}

func TestSendTextRelaysPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["to"] != "628111" || body["message"] != "halo" || body["type"] != "text" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"sent": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.SendText(context.Background(), "628111", "halo")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if sent, _ := resp["sent"].(bool); !sent {
		t.Fatalf("resp = %v", resp)
	}
}
