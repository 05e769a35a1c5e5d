package collector

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klarlabs/klar/internal/memory"
)

// stubLLM answers GenerateJSON from a substring-keyed script and Generate
// with a fixed string ("" forces the deterministic fallbacks).
type stubLLM struct {
	jsonByPromptSub map[string]map[string]any
	generateReply   string
	jsonCalls       int
}

func (s *stubLLM) Generate(_ context.Context, _, _ string, _ float64) (string, error) {
	return s.generateReply, nil
}

func (s *stubLLM) GenerateJSON(_ context.Context, _, prompt string) (map[string]any, error) {
	s.jsonCalls++
	for sub, obj := range s.jsonByPromptSub {
		if strings.Contains(prompt, sub) {
			return obj, nil
		}
	}
	return map[string]any{}, nil
}

func newTestCollector(t *testing.T, llm *stubLLM) (*Collector, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.json"), 50)
	if err != nil {
		t.Fatal(err)
	}
	return New(llm, store, nil), store
}

func TestValidateProduct(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"F57A", "F57A", true},
		{"f90a", "F90A", true},
		{"F 57 A", "F57A", true},
		{"F-90", "F90A", true},
		{"EAC-57", "F57A", true},
		{"eac 90", "F90A", true},
		{"tipe 57A", "F57A", true},
		{"HEPA-X", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ValidateProduct(tt.in)
		if ok != tt.valid || got != tt.want {
			t.Errorf("ValidateProduct(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.valid)
		}
	}
}

func TestIsJabodetabek(t *testing.T) {
	if !IsJabodetabek("Jl. Margonda Raya 10, Depok") {
		t.Error("Depok address should be in region")
	}
	if IsJabodetabek("Jl. Malioboro 1, Yogyakarta") {
		t.Error("Yogyakarta should be out of region")
	}
}

func TestDetectGender(t *testing.T) {
	tests := []struct{ name, want string }{
		{"Budi Santoso", "male"},
		{"Siti Aminah", "female"},
		{"Xylophone Qwerty", "unknown"},
	}
	for _, tt := range tests {
		if got := DetectGender(tt.name); got != tt.want {
			t.Errorf("DetectGender(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestExtractNameShortBypassesLLM(t *testing.T) {
	llm := &stubLLM{}
	c, _ := newTestCollector(t, llm)

	got := c.ExtractName(context.Background(), "u1", "budi santoso")
	if got.Name != "Budi Santoso" || got.Gender != "male" || got.Confidence != "high" {
		t.Errorf("ExtractName = %+v", got)
	}
	if llm.jsonCalls != 0 {
		t.Errorf("short name should not reach the LLM (%d calls)", llm.jsonCalls)
	}

	// non-name keywords force the LLM path
	llm2 := &stubLLM{jsonByPromptSub: map[string]map[string]any{
		"atas nama": {"name": "Dewi Lestari", "gender": "female", "is_company": false, "confidence": "high"},
	}}
	c2, _ := newTestCollector(t, llm2)
	got = c2.ExtractName(context.Background(), "u1", "kemarin pembelian atas nama Dewi Lestari")
	if got.Name != "Dewi Lestari" || got.Gender != "female" {
		t.Errorf("LLM-extracted name = %+v", got)
	}
	if llm2.jsonCalls != 1 {
		t.Errorf("jsonCalls = %d, want 1", llm2.jsonCalls)
	}
}

func TestExtractProductRegexFirst(t *testing.T) {
	llm := &stubLLM{}
	c, _ := newTestCollector(t, llm)

	for in, want := range map[string]string{
		"F57A":                "F57A",
		"produknya f 9 0 a":   "F90A",
		"tipe 57a kak":        "F57A",
		"yang model F-90 itu": "F90A",
	} {
		if got := c.ExtractProduct(context.Background(), "u1", in); got != want {
			t.Errorf("ExtractProduct(%q) = %q, want %q", in, got, want)
		}
	}
	if llm.jsonCalls != 0 {
		t.Errorf("regex-matched products should not reach the LLM (%d calls)", llm.jsonCalls)
	}
}

func TestValidateAddressRuleBased(t *testing.T) {
	llm := &stubLLM{}
	c, _ := newTestCollector(t, llm)

	v := c.ValidateAddress(context.Background(), "u1", "Jl. Sudirman 123, Jakarta Selatan")
	if !v.IsComplete || !v.IsJabodetabek || v.Confidence != "high" {
		t.Errorf("full address validation = %+v", v)
	}
	if llm.jsonCalls != 0 {
		t.Error("complete address should not reach the LLM")
	}

	// city only: falls to the LLM which rejects
	llm2 := &stubLLM{jsonByPromptSub: map[string]map[string]any{
		"Jakarta Selatan": {"is_complete": false, "missing_info": []any{"nama jalan"}},
	}}
	c2, _ := newTestCollector(t, llm2)
	v = c2.ValidateAddress(context.Background(), "u1", "Jakarta Selatan")
	if v.IsComplete {
		t.Errorf("city-only address should be incomplete: %+v", v)
	}
	if len(v.MissingInfo) != 1 || v.MissingInfo[0] != "nama jalan" {
		t.Errorf("MissingInfo = %v", v.MissingInfo)
	}
}

func TestProcessFullSequence(t *testing.T) {
	llm := &stubLLM{}
	c, store := newTestCollector(t, llm)
	ctx := context.Background()

	r := c.Process(ctx, "u1", "Budi Santoso")
	if r.Action != ActionNameSavedAskNext {
		t.Fatalf("action = %q, want %q", r.Action, ActionNameSavedAskNext)
	}
	if !strings.Contains(r.Response, "F57A atau F90A") {
		t.Errorf("expected product question, got %q", r.Response)
	}
	if !strings.Contains(r.Response, "Pak") {
		t.Errorf("male salutation missing: %q", r.Response)
	}

	r = c.Process(ctx, "u1", "F57A")
	if r.Action != ActionProductSavedAskNext {
		t.Fatalf("action = %q, want %q", r.Action, ActionProductSavedAskNext)
	}
	if !strings.Contains(r.Response, "alamat") {
		t.Errorf("expected address question, got %q", r.Response)
	}

	r = c.Process(ctx, "u1", "Jl. Sudirman 123, Jakarta Selatan")
	if r.Action != ActionComplete || !r.IsComplete {
		t.Fatalf("action = %q, complete = %v", r.Action, r.IsComplete)
	}
	if !strings.Contains(r.Response, "Pak Budi Santoso") {
		t.Errorf("completion should carry name with salutation: %q", r.Response)
	}
	if r.DataUpdated["is_jabodetabek"] != true {
		t.Errorf("DataUpdated = %v", r.DataUpdated)
	}

	id := store.GetIdentity("u1")
	if id.Name != "Budi Santoso" || id.Product != "F57A" || id.Address == "" {
		t.Errorf("identity after sequence = %+v", id)
	}

	// repeated submission after completion stays complete
	r = c.Process(ctx, "u1", "F57A")
	if r.Action != ActionComplete || !r.IsComplete {
		t.Errorf("re-submission after complete: %+v", r)
	}
}

func TestProcessOffTopicQuestion(t *testing.T) {
	llm := &stubLLM{jsonByPromptSub: map[string]map[string]any{
		"jawaban untuk data collection": {"type": "question", "should_answer_first": true},
	}}
	c, _ := newTestCollector(t, llm)

	r := c.Process(context.Background(), "u1", "sebelum itu mau tanya dulu berapa ya harga filter pengganti?")
	if r.Action != ActionOffTopic {
		t.Fatalf("action = %q, want %q", r.Action, ActionOffTopic)
	}
	if r.OffTopic == nil || r.OffTopic.MessageType != "question" || r.OffTopic.MissingField != "name" {
		t.Errorf("OffTopic = %+v", r.OffTopic)
	}
}

func TestProcessInvalidProductReprompts(t *testing.T) {
	llm := &stubLLM{}
	c, store := newTestCollector(t, llm)
	store.SetName("u1", "Siti Aminah")
	store.SetGender("u1", "female")

	r := c.Process(context.Background(), "u1", "merk sebelah tipe X100")
	if r.Action != ActionAskProduct {
		t.Fatalf("action = %q, want %q", r.Action, ActionAskProduct)
	}
	if !strings.Contains(r.Response, "Bu") {
		t.Errorf("female salutation missing: %q", r.Response)
	}
	if store.GetIdentity("u1").Product != "" {
		t.Error("invalid product must not be saved")
	}
}

func TestReturnToDataMessageFallback(t *testing.T) {
	c, _ := newTestCollector(t, &stubLLM{})
	msg := c.ReturnToDataMessage(context.Background(), "u1", "product")
	if !strings.Contains(msg, "produk") {
		t.Errorf("message should name the missing field: %q", msg)
	}
}
