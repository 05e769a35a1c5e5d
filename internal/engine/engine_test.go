package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/klarlabs/klar/internal/chatlog"
	"github.com/klarlabs/klar/internal/collector"
	"github.com/klarlabs/klar/internal/memory"
	"github.com/klarlabs/klar/internal/ollama"
	"github.com/klarlabs/klar/internal/sop"
)

// scriptedLLM returns a canned JSON object when a prompt contains one of the
// keys, and an empty object otherwise. Generate always returns reply, so an
// empty reply exercises every deterministic fallback.
type scriptedLLM struct {
	json  map[string]map[string]any
	reply string
}

var _ ollama.Generator = (*scriptedLLM)(nil)

func (s *scriptedLLM) Generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	return s.reply, nil
}

func (s *scriptedLLM) GenerateJSON(ctx context.Context, system, prompt string) (map[string]any, error) {
	for sub, obj := range s.json {
		if strings.Contains(prompt, sub) {
			return obj, nil
		}
	}
	return map[string]any{}, nil
}

// intentFor keys on the classifier prompt's message marker so history lines
// never match.
func intentFor(message, intent string) (string, map[string]any) {
	return `TERBARU: "` + message + `"`, map[string]any{
		"has_greeting":         false,
		"greeting_part":        "",
		"issue_part":           message,
		"intent":               intent,
		"category":             "domain",
		"is_new_complaint":     true,
		"additional_complaint": "none",
	}
}

func matiLLM() *scriptedLLM {
	key, obj := intentFor("EAC saya mati", "mati")
	return &scriptedLLM{json: map[string]map[string]any{key: obj}}
}

func newTestEngineAt(t *testing.T, llm ollama.Generator, dir string) *Engine {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(dir, "memory.json"), 50)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cat, err := sop.Load(filepath.Join("..", "..", "data", "kb", "sop.json5"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	log, err := chatlog.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("chatlog: %v", err)
	}
	col := collector.New(llm, store, nil)
	return New(store, llm, cat, col, log, nil, nil)
}

func newTestEngine(t *testing.T, llm ollama.Generator) *Engine {
	t.Helper()
	return newTestEngineAt(t, llm, t.TempDir())
}

func wantBubbleContains(t *testing.T, r *Reply, i int, sub string) {
	t.Helper()
	if i >= len(r.Bubbles) {
		t.Fatalf("want bubble %d containing %q, got %d bubbles: %v", i, sub, len(r.Bubbles), r.Bubbles)
	}
	if !strings.Contains(r.Bubbles[i], sub) {
		t.Fatalf("bubble %d = %q, want substring %q", i, r.Bubbles[i], sub)
	}
}

func TestMatiHappyPathResolved(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	r := e.Handle(ctx, "u1", "EAC saya mati")
	if r.Status != StatusOpen {
		t.Fatalf("status = %q, want open", r.Status)
	}
	wantBubbleContains(t, r, 0, "cover")

	r = e.Handle(ctx, "u1", "sudah rapat")
	wantBubbleContains(t, r, 0, "LOW")

	r = e.Handle(ctx, "u1", "sudah menyala")
	if r.Status != StatusResolved {
		t.Fatalf("status = %q, want resolved", r.Status)
	}
	if r.Next != NextEnd {
		t.Fatalf("next = %q, want end", r.Next)
	}
	wantBubbleContains(t, r, 0, "Senang bisa membantu")

	if got := e.store.FlagString("u1", "active_intent"); got != "" {
		t.Fatalf("active_intent = %q, want cleared", got)
	}

	// a thanks after resolution gets the short acknowledgement
	r = e.Handle(ctx, "u1", "makasih kak")
	if r.Status != StatusResolved {
		t.Fatalf("status = %q, want resolved", r.Status)
	}
	wantBubbleContains(t, r, 0, "Sama-sama")
}

func TestMatiEscalatesToPendingAndCollection(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")
	e.Handle(ctx, "u1", "sudah rapat")

	r := e.Handle(ctx, "u1", "masih tidak nyala")
	wantBubbleContains(t, r, 0, "MCB")

	r = e.Handle(ctx, "u1", "MCB sudah ON tapi tetap tidak nyala")
	if r.Status != StatusOpen {
		t.Fatalf("status = %q, want open while collecting", r.Status)
	}
	if len(r.Bubbles) != 2 {
		t.Fatalf("want 2 bubbles (pending + name question), got %v", r.Bubbles)
	}
	wantBubbleContains(t, r, 0, "teknisi")
	wantBubbleContains(t, r, 1, "atas nama")
	if !e.store.FlagBool("u1", "sop_pending") {
		t.Fatal("sop_pending not set")
	}

	r = e.Handle(ctx, "u1", "Budi Santoso")
	wantBubbleContains(t, r, 0, "F57A")

	r = e.Handle(ctx, "u1", "F57A")
	wantBubbleContains(t, r, 0, "alamat")

	r = e.Handle(ctx, "u1", "Jl. Sudirman 123, Jakarta Selatan")
	if r.Status != StatusPending {
		t.Fatalf("status = %q, want pending", r.Status)
	}
	if len(r.Bubbles) != 1 {
		t.Fatalf("want 1 closing bubble, got %v", r.Bubbles)
	}
	if !e.store.FlagBool("u1", "pending_closing_sent") {
		t.Fatal("pending_closing_sent not set")
	}

	id := e.store.GetIdentity("u1")
	if id.Name != "Budi Santoso" || id.Product != "F57A" {
		t.Fatalf("identity = %+v", id)
	}

	r = e.Handle(ctx, "u1", "Baik kak")
	if r.Status != StatusPending {
		t.Fatalf("status = %q, want pending", r.Status)
	}
	wantBubbleContains(t, r, 0, "Sama-sama")
}

func TestBunyiIntensityFastPath(t *testing.T) {
	key, obj := intentFor("EAC saya berisik banget terus menerus", "bunyi")
	e := newTestEngine(t, &scriptedLLM{json: map[string]map[string]any{key: obj}})

	r := e.Handle(context.Background(), "u1", "EAC saya berisik banget terus menerus")
	if r.Status != StatusOpen {
		t.Fatalf("status = %q, want open while collecting", r.Status)
	}
	if len(r.Bubbles) != 2 {
		t.Fatalf("want 2 bubbles, got %v", r.Bubbles)
	}
	wantBubbleContains(t, r, 0, "teknisi")
	wantBubbleContains(t, r, 1, "atas nama")
	if !e.store.FlagBool("u1", "sop_pending") {
		t.Fatal("sop_pending not set")
	}
	if got := e.store.FlagString("u1", "frekuensi_bunyi_answer"); got != "sering" {
		t.Fatalf("frekuensi_bunyi_answer = %q, want sering", got)
	}
}

func TestLockIntentQueuesAdditionalComplaint(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")

	r := e.Handle(ctx, "u1", "eh iya EAC nya juga bunyi aneh lho")
	if len(r.Bubbles) != 1 {
		t.Fatalf("want 1 bubble, got %v", r.Bubbles)
	}
	wantBubbleContains(t, r, 0, "bunyi")
	wantBubbleContains(t, r, 0, "cover")
	if got := e.store.FlagString("u1", "active_intent"); got != "mati" {
		t.Fatalf("active_intent = %q, want mati", got)
	}
	if got := e.store.FlagStrings("u1", "queued_complaints"); len(got) != 1 || got[0] != "bunyi" {
		t.Fatalf("queued_complaints = %v, want [bunyi]", got)
	}

	// repeating the complaint never queues it twice
	e.Handle(ctx, "u1", "eh iya EAC nya juga bunyi aneh lho")
	if got := e.store.FlagStrings("u1", "queued_complaints"); len(got) != 1 {
		t.Fatalf("queued_complaints = %v, want exactly one entry", got)
	}
}

func TestSpamEscalationAndBlock(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	var r *Reply
	for i := 0; i < 5; i++ {
		r = e.Handle(ctx, "u1", "a")
	}
	if r.Status != StatusBlocked {
		t.Fatalf("5th spam status = %q, want blocked", r.Status)
	}
	wantBubbleContains(t, r, 0, "1 jam")

	// a real complaint during the block still gets the wait message
	r = e.Handle(ctx, "u1", "EAC saya mati")
	if r.Status != StatusBlocked {
		t.Fatalf("status = %q, want blocked", r.Status)
	}
	wantBubbleContains(t, r, 0, "menit")
}

func TestResolutionGuardVerifiesBareYes(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")
	e.Handle(ctx, "u1", "sudah rapat")

	r := e.Handle(ctx, "u1", "iya")
	wantBubbleContains(t, r, 0, "berfungsi normal")
	if !e.store.FlagBool("u1", "cek_mcb_waiting_confirm") {
		t.Fatal("waiting_confirm not set")
	}
	if r.Status == StatusResolved {
		t.Fatal("bare yes must not resolve directly")
	}

	r = e.Handle(ctx, "u1", "iya kak")
	if r.Status != StatusResolved {
		t.Fatalf("status = %q, want resolved after confirm", r.Status)
	}
}

func TestConfirmYesHonorsStoredBranch(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")
	e.Handle(ctx, "u1", "sudah rapat")
	e.Handle(ctx, "u1", "iya") // arms the confirm turn

	// a confirm whose branch withholds resolve_if_yes must not resolve on yes
	e.store.SetFlag("u1", "cek_mcb_confirm_data", map[string]any{
		"resolve_if_yes": false,
		"pending_if_no":  true,
	})
	r := e.Handle(ctx, "u1", "iya kak")
	if r.Status == StatusResolved {
		t.Fatal("yes resolved despite resolve_if_yes=false")
	}
	wantBubbleContains(t, r, 0, "teknisi")
	if e.store.FlagBool("u1", "cek_mcb_waiting_confirm") {
		t.Fatal("waiting_confirm not cleared")
	}
}

func TestClarifyCapForcesPending(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")
	e.Handle(ctx, "u1", "sudah rapat")
	e.Handle(ctx, "u1", "masih tidak nyala") // asks the MCB step

	unclear := "alatnya warna putih ada tombol samping"
	for i := 1; i <= 3; i++ {
		r := e.Handle(ctx, "u1", unclear)
		wantBubbleContains(t, r, 0, "lebih detail")
		if got := e.store.FlagInt("u1", "mati_clarify_count"); got != i {
			t.Fatalf("clarify_count = %d, want %d", got, i)
		}
	}

	r := e.Handle(ctx, "u1", unclear)
	if len(r.Bubbles) != 2 {
		t.Fatalf("4th unclear answer must escalate, got %v", r.Bubbles)
	}
	wantBubbleContains(t, r, 0, "teknisi")
	if !e.store.FlagBool("u1", "sop_pending") {
		t.Fatal("sop_pending not set")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e1 := newTestEngineAt(t, matiLLM(), dir)
	e1.Handle(ctx, "u1", "EAC saya mati")
	e1.Handle(ctx, "u1", "sudah rapat")

	// a fresh process over the same files continues the flow
	e2 := newTestEngineAt(t, matiLLM(), dir)
	if got := e2.store.FlagString("u1", "active_intent"); got != "mati" {
		t.Fatalf("active_intent after reload = %q, want mati", got)
	}
	r := e2.Handle(ctx, "u1", "sudah menyala")
	if r.Status != StatusResolved {
		t.Fatalf("status = %q, want resolved", r.Status)
	}
}

func TestBufferFlushJoinsFragments(t *testing.T) {
	key, obj := intentFor("halo alat saya tiba tiba mati total", "mati")
	e := newTestEngine(t, &scriptedLLM{json: map[string]map[string]any{key: obj}})
	ctx := context.Background()

	now := time.Now()
	e.now = func() time.Time { return now }

	r := e.Handle(ctx, "u1", "halo")
	wantBubbleContains(t, r, 0, "silakan dilanjutkan")

	r = e.Handle(ctx, "u1", "alat saya")
	wantBubbleContains(t, r, 0, "Ya kak?")

	now = now.Add(6 * time.Second)
	r = e.Handle(ctx, "u1", "tiba tiba mati total")
	wantBubbleContains(t, r, 0, "cover")
	if _, ok := e.store.Flag("u1", "message_buffer"); ok {
		t.Fatal("buffer not cleared after flush")
	}
}

func TestGreetingFallback(t *testing.T) {
	msg := "halo kak, saya mau menanyakan sesuatu tentang produk ya."
	key, obj := intentFor(msg, "none")
	obj["has_greeting"] = true
	obj["greeting_part"] = "halo kak"
	e := newTestEngine(t, &scriptedLLM{json: map[string]map[string]any{key: obj}})

	r := e.Handle(context.Background(), "u1", msg)
	if r.Status != StatusOpen {
		t.Fatalf("status = %q, want open", r.Status)
	}
	wantBubbleContains(t, r, 0, "Halo kak")
}

func TestAdminReset(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "EAC saya mati")
	r := e.AdminReset("u1")
	if r.Status != StatusOpen {
		t.Fatalf("status = %q, want open", r.Status)
	}
	if got := e.store.FlagString("u1", "active_intent"); got != "" {
		t.Fatalf("active_intent survived reset: %q", got)
	}
}

func TestHandlePublishesSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	e := newTestEngine(t, matiLLM())
	e.Handle(context.Background(), "u1", "EAC saya mati")

	for _, span := range recorder.Ended() {
		if span.Name() == "engine.handle_turn" {
			return
		}
	}
	t.Fatal("no engine.handle_turn span recorded")
}

func TestAdminForcePending(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	r := e.AdminForcePending("u1")
	wantBubbleContains(t, r, 0, "atas nama")
	if !e.store.FlagBool("u1", "sop_pending") {
		t.Fatal("sop_pending not set")
	}
}
