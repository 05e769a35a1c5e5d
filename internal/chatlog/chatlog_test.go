package chatlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDailyFileNaming(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l.now = func() time.Time {
		return time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	}
	if got := filepath.Base(l.CurrentPath()); got != "chat-2025-03-14.jsonl" {
		t.Errorf("CurrentPath = %q", got)
	}

	// day rollover without restart
	l.now = func() time.Time {
		return time.Date(2025, 3, 15, 0, 1, 0, 0, time.UTC)
	}
	if got := filepath.Base(l.CurrentPath()); got != "chat-2025-03-15.jsonl" {
		t.Errorf("CurrentPath after rollover = %q", got)
	}
}

func TestLogIncomingOutgoing(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	l.LogIncoming("628111", "alat saya mati", map[string]any{"buffered": false})
	l.LogOutgoing("628111", "Baik kak, kami bantu cek.", "open", map[string]any{"intent": "mati"})

	day := time.Now().UTC().Format("2006-01-02")
	recs, err := l.ReadDay(day)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].Direction != "incoming" || recs[0].Message != "alat saya mati" {
		t.Errorf("incoming record = %+v", recs[0])
	}
	if recs[1].Direction != "outgoing" || recs[1].Status != "open" {
		t.Errorf("outgoing record = %+v", recs[1])
	}
	if recs[1].Metadata["intent"] != "mati" {
		t.Errorf("metadata = %v", recs[1].Metadata)
	}
}

func TestLogFeedback(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	l.LogFeedback("628111", 5, "cepat dan jelas")
	l.LogFeedback("628222", 2, "")

	f, err := os.Open(filepath.Join(dir, "feedback.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []FeedbackRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec FeedbackRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].Rating != 5 || lines[0].Note != "cepat dan jelas" {
		t.Errorf("feedback[0] = %+v", lines[0])
	}
}

func TestReadDayMissingFile(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recs, err := l.ReadDay("1999-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if recs != nil {
		t.Errorf("recs = %v, want nil", recs)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.LogIncoming("u", "pesan", nil)
			}
		}()
	}
	wg.Wait()

	day := time.Now().UTC().Format("2006-01-02")
	recs, err := l.ReadDay(day)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 100 {
		t.Errorf("len(recs) = %d, want 100 (lines must not interleave)", len(recs))
	}
}
