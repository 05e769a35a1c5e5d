package retriever

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubLLM struct{ reply string }

func (s *stubLLM) Generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	return s.reply, nil
}

func (s *stubLLM) GenerateJSON(ctx context.Context, system, prompt string) (map[string]any, error) {
	return map[string]any{}, nil
}

type stubEmbedder struct{ vec []float32 }

func (s *stubEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return s.vec, nil
}

func qdrantStub(t *testing.T, payloads map[string][]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for collection, hits := range payloads {
			if r.URL.Path == "/collections/"+collection+"/points/search" {
				var req searchRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode search request: %v", err)
				}
				if !req.WithPayload {
					t.Error("with_payload not set")
				}
				result := make([]map[string]any, 0, len(hits))
				for i, p := range hits {
					result = append(result, map[string]any{
						"score":   0.9 - float64(i)*0.1,
						"payload": p,
					})
				}
				json.NewEncoder(w).Encode(map[string]any{"result": result})
				return
			}
		}
		http.NotFound(w, r)
	}))
}

func TestChatHistorySearch(t *testing.T) {
	srv := qdrantStub(t, map[string][]map[string]any{
		"chat_history_pairs": {
			{"customer": "EAC saya mati", "admin": "coba cek cover kak", "topic": "mati"},
		},
	})
	defer srv.Close()

	r := New(srv.URL, "e5", &stubLLM{}, &stubEmbedder{vec: []float32{0.1, 0.2}})
	hits := r.ChatHistory(context.Background(), "alat mati", 3)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Topic != "mati" || hits[0].Score == 0 {
		t.Fatalf("hit = %+v", hits[0])
	}
}

func TestManualBookUsesStyledQuery(t *testing.T) {
	srv := qdrantStub(t, map[string][]map[string]any{
		"manual_book": {
			{"summary": "Describes power supply checks.", "section": "troubleshooting"},
		},
	})
	defer srv.Close()

	llm := &stubLLM{reply: "Describes troubleshooting for a dead unit."}
	r := New(srv.URL, "bge", llm, &stubEmbedder{vec: []float32{0.3}})
	hits := r.ManualBook(context.Background(), "alat tidak menyala", 1)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].SummaryQueryUsed != llm.reply {
		t.Fatalf("summary_query_used = %q", hits[0].SummaryQueryUsed)
	}
}

func TestManualStyleFallback(t *testing.T) {
	r := New("http://unused", "bge", &stubLLM{reply: ""}, &stubEmbedder{})
	styled := r.manualSummaryStyle(context.Background(), "dead unit")
	if !strings.HasPrefix(styled, "Summarizes technical information regarding:") {
		t.Fatalf("styled = %q", styled)
	}
}

func TestRetrieveDisabled(t *testing.T) {
	r := New("", "e5", &stubLLM{}, &stubEmbedder{})
	bundle := r.Retrieve(context.Background(), "alat mati", 3, 1)
	if len(bundle.ChatHistory)+len(bundle.ManualBook)+len(bundle.Style) != 0 {
		t.Fatalf("bundle = %+v", bundle)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := New("http://unused", "e5", &stubLLM{}, &stubEmbedder{})
	bundle := r.Retrieve(context.Background(), "   ", 3, 1)
	if len(bundle.ChatHistory) != 0 {
		t.Fatalf("bundle = %+v", bundle)
	}
}
