package engine

import (
	"context"
	"sync"
	"testing"
)

func TestIsIncomplete(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"halo", true},
		{"halo kak", true},
		{"alat saya", true},
		{"saya mengalami kendala", true},
		{"mau tanya dong", true},
		{"EAC saya mati", false},
		{"alat saya tidak menyala sejak kemarin", false},
		{"kenapa ya alatnya bunyi terus padahal baru dibersihkan?", false},
	}
	for _, c := range cases {
		if got := isIncomplete(c.text, ""); got != c.want {
			t.Errorf("isIncomplete(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestIsIncompleteSkippedWithActiveIntent(t *testing.T) {
	if isIncomplete("halo", "mati") {
		t.Error("an active intent disables buffering")
	}
}

// The buffer flag must hold plain JSON values only: the store marshals every
// user's flags during persistence, concurrently with other users' turns.
func TestBufferFlagHoldsPlainValues(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	e.Handle(ctx, "u1", "halo")
	e.Handle(ctx, "u1", "alat saya")

	v, ok := e.store.Flag("u1", "message_buffer")
	if !ok {
		t.Fatal("buffer flag missing after two fragments")
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Fatalf("buffer flag stored as %T, want map[string]any", v)
	}

	a := e.loadBuffer("u1")
	if a == nil || len(a.Messages) != 2 || a.Count != 2 {
		t.Fatalf("loaded buffer = %+v", a)
	}
	a.Messages = append(a.Messages, bufferEntry{Text: "x"})
	a.Count = 99

	b := e.loadBuffer("u1")
	if b.Count != 2 || len(b.Messages) != 2 {
		t.Fatalf("mutation of a loaded buffer leaked into the store: %+v", b)
	}
}

func TestBufferingConcurrentWithOtherUserWrites(t *testing.T) {
	e := newTestEngine(t, matiLLM())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			e.Handle(ctx, "u1", "alat saya")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			e.store.SetFlag("u2", "spam_total", i)
		}
	}()
	wg.Wait()

	if got := e.store.FlagInt("u2", "spam_total"); got != 99 {
		t.Fatalf("spam_total = %d, want 99", got)
	}
}

func TestIsGreetingOnly(t *testing.T) {
	for _, text := range []string{"halo", "halo kak", "selamat pagi", "permisi min"} {
		if !isGreetingOnly(text) {
			t.Errorf("isGreetingOnly(%q) = false, want true", text)
		}
	}
	for _, text := range []string{"halo alat saya mati", "alatnya rusak", ""} {
		if isGreetingOnly(text) {
			t.Errorf("isGreetingOnly(%q) = true, want false", text)
		}
	}
}
