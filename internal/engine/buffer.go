package engine

import (
	"strings"
	"time"
)

// Message buffering: fragment messages from a user are accumulated and run
// through the pipeline once, as one joined utterance.

const (
	bufferMaxAge     = 5 * time.Second
	bufferMaxEntries = 5
	bufferSkipAfter  = 4 // history length at which conversations stop buffering
)

var indonesianVerbs = []string{
	"mati", "nyala", "menyala", "hidup", "rusak", "bunyi", "berbunyi",
	"bau", "berbau", "keluar", "masuk", "jalan", "berhenti", "padam",
	"mau", "bisa", "coba", "pakai", "beli", "datang", "kirim", "tanya",
}

var subjectWords = []string{
	"saya", "aku", "kami", "kita", "alat", "alatnya", "eac", "unit",
	"mesin", "produk", "barang", "filter", "kakak", "bapak", "ibu",
}

var temporalMarkers = []string{
	"kemarin", "tadi", "barusan", "sekarang", "sejak", "sudah", "belum",
	"baru", "lama", "minggu", "hari", "bulan",
}

var greetingWords = []string{
	"halo", "hai", "hallo", "helo", "hello", "assalamualaikum",
	"selamat pagi", "selamat siang", "selamat sore", "selamat malam",
	"pagi", "siang", "sore", "malam", "permisi", "misi",
}

// symptom words only; generic words like "kendala" stay out so vague openers
// still buffer
var complaintKeywords = []string{
	"mati", "nyala", "menyala", "padam", "bau", "bunyi", "berisik", "rusak", "error",
}

var vaguePhrases = []string{
	"saya mengalami kendala", "ada kendala", "ada masalah", "mau lapor",
	"mau komplain", "mau tanya",
}

type bufferEntry struct {
	Text string `json:"text"`
	TS   string `json:"ts"`
}

type messageBuffer struct {
	Messages []bufferEntry `json:"messages"`
	StartTS  string        `json:"start_ts"`
	Count    int           `json:"count"`
}

// isIncomplete scores structural completeness. Only consulted when no intent
// is active.
func isIncomplete(text string, activeIntent string) bool {
	if activeIntent != "" {
		return false
	}
	low := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(low)
	if len(words) == 0 {
		return true
	}

	hasVerb := false
	for _, w := range words {
		if strings.HasPrefix(w, "me") || strings.HasPrefix(w, "ber") || strings.HasPrefix(w, "ter") {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		hasVerb = containsAnyWord(low, indonesianVerbs)
	}
	hasSubject := containsAnyWord(low, subjectWords)
	hasTemporal := containsAnyWord(low, temporalMarkers)
	hasComplaint := containsAnyWord(low, complaintKeywords)
	hasPunctuation := strings.ContainsAny(text, ".!?")

	score := 0.0
	if hasVerb {
		score += 0.3
	}
	if hasSubject {
		score += 0.2
	}
	if hasTemporal {
		score += 0.1
	}
	if len(words) >= 4 {
		score += 0.2
	}
	if len(words) >= 7 {
		score += 0.1
	}
	if hasPunctuation {
		score += 0.1
	}

	if score >= 0.6 {
		return false
	}

	switch {
	case !hasVerb && !hasSubject:
		return true
	case hasSubject && !hasVerb && len(words) <= 3:
		return true
	case isGreetingOnly(low) && !hasComplaint:
		return true
	case isVagueOpener(low) && !hasComplaint:
		return true
	case len(words) <= 2 && !hasComplaint:
		return true
	}
	return false
}

func isGreetingOnly(low string) bool {
	words := strings.Fields(low)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		found := false
		for _, g := range greetingWords {
			if w == g || strings.Contains(g, w) && len(w) > 3 {
				found = true
				break
			}
		}
		if !found && w != "kak" && w != "min" && w != "admin" {
			return false
		}
	}
	return true
}

func isVagueOpener(low string) bool {
	return containsAnyWord(low, vaguePhrases)
}

// bufferGate runs stage (d). It returns (reply, textToProcess): a non-nil
// reply short-circuits the turn, a non-empty text replaces the utterance
// (buffer flush joins fragments).
func (e *Engine) bufferGate(uid, text string, historyLen int) (*Reply, string) {
	buf := e.loadBuffer(uid)
	now := e.now()
	complete := !isIncomplete(text, "")

	// the skip conditions gate starting a buffer, never draining one
	if buf == nil {
		if e.store.FlagString(uid, "active_intent") != "" ||
			e.store.FlagBool(uid, "sop_pending") ||
			historyLen >= bufferSkipAfter {
			return nil, text
		}
	}

	if buf != nil {
		age := time.Duration(0)
		if start, err := time.Parse(time.RFC3339Nano, buf.StartTS); err == nil {
			age = now.Sub(start)
		}
		if complete || age >= bufferMaxAge || buf.Count+1 >= bufferMaxEntries {
			parts := make([]string, 0, len(buf.Messages)+1)
			for _, m := range buf.Messages {
				parts = append(parts, m.Text)
			}
			parts = append(parts, text)
			e.store.ClearFlag(uid, "message_buffer")
			return nil, strings.Join(parts, " ")
		}
		buf.Messages = append(buf.Messages, bufferEntry{Text: text, TS: now.UTC().Format(time.RFC3339Nano)})
		buf.Count++
		e.saveBuffer(uid, buf)
		return e.emit(uid, []string{"Ya kak?"}, StatusOpen, map[string]any{"buffered": true}), ""
	}

	if complete {
		return nil, text
	}

	e.saveBuffer(uid, &messageBuffer{
		Messages: []bufferEntry{{Text: text, TS: now.UTC().Format(time.RFC3339Nano)}},
		StartTS:  now.UTC().Format(time.RFC3339Nano),
		Count:    1,
	})
	return e.emit(uid, []string{"Baik kak, silakan dilanjutkan."}, StatusOpen, map[string]any{"buffered": true}), ""
}

// loadBuffer decodes the buffer flag into a fresh struct. The flag holds only
// plain JSON values: the store marshals flags concurrently with other users'
// turns, so no mutable pointer may live inside it.
func (e *Engine) loadBuffer(uid string) *messageBuffer {
	v, ok := e.store.Flag(uid, "message_buffer")
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	buf := &messageBuffer{}
	if s, ok := m["start_ts"].(string); ok {
		buf.StartTS = s
	}
	switch n := m["count"].(type) {
	case float64:
		buf.Count = int(n)
	case int:
		buf.Count = n
	}
	if list, ok := m["messages"].([]any); ok {
		for _, item := range list {
			if em, ok := item.(map[string]any); ok {
				entry := bufferEntry{}
				entry.Text, _ = em["text"].(string)
				entry.TS, _ = em["ts"].(string)
				buf.Messages = append(buf.Messages, entry)
			}
		}
	}
	return buf
}

func (e *Engine) saveBuffer(uid string, buf *messageBuffer) {
	msgs := make([]any, 0, len(buf.Messages))
	for _, m := range buf.Messages {
		msgs = append(msgs, map[string]any{"text": m.Text, "ts": m.TS})
	}
	e.store.SetFlag(uid, "message_buffer", map[string]any{
		"messages": msgs,
		"start_ts": buf.StartTS,
		"count":    buf.Count,
	})
}
