package engine

import (
	"fmt"
	"strings"
	"time"
)

// Spam and profanity policy. Spam timestamps live in the user's flags so the
// counters survive restarts.

const (
	spamRecentWindow = 5 * time.Minute
	spamBlockPeriod  = time.Hour

	spamSoftThreshold   = 3
	spamMediumThreshold = 5
	spamHardThreshold   = 10
)

var profanityWords = []string{
	"anjing", "bangsat", "babi", "goblok", "tolol", "asu",
	"kampret", "bajingan", "brengsek", "sialan", "kontol", "memek",
}

var nonsenseTokens = map[string]bool{
	"asdf": true, "asdfgh": true, "qwerty": true, "qwe": true,
	"zxc": true, "zzz": true, "xxx": true, "hjkl": true, "test123": true,
}

// shortWordWhitelist: short real words that must not count as spam
var shortWordWhitelist = map[string]bool{
	"ya": true, "ga": true, "gk": true, "ok": true, "eh": true,
	"oi": true, "iya": true, "oke": true, "gak": true, "sip": true, "bisa": true,
	"mau": true, "apa": true, "koq": true, "kok": true, "loh": true, "lho": true,
}

func hasProfanity(text string) bool {
	low := strings.ToLower(text)
	for _, w := range profanityWords {
		if strings.Contains(low, w) {
			return true
		}
	}
	return false
}

// looksLikeSpam flags short no-letter messages, canonical nonsense tokens,
// and very short non-word tokens.
func looksLikeSpam(text string) bool {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return false
	}

	hasLetter := false
	for _, r := range clean {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			hasLetter = true
			break
		}
	}
	if !hasLetter && len([]rune(clean)) <= 5 {
		return true
	}

	low := strings.ToLower(clean)
	if nonsenseTokens[low] {
		return true
	}

	words := strings.Fields(low)
	if len(words) == 1 && len([]rune(words[0])) <= 2 && !shortWordWhitelist[words[0]] {
		return true
	}
	return false
}

type spamLevel int

const (
	spamNone spamLevel = iota
	spamSoft
	spamMedium
	spamHard
)

// recordSpamEvent appends a spam timestamp, trims the recent window, bumps
// the lifetime counter, and returns the resulting level.
func (e *Engine) recordSpamEvent(uid string) spamLevel {
	now := e.now()

	stamps := e.store.FlagStrings(uid, "spam_timestamps")
	kept := make([]string, 0, len(stamps)+1)
	for _, s := range stamps {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			continue
		}
		if now.Sub(t) <= spamRecentWindow {
			kept = append(kept, s)
		}
	}
	kept = append(kept, now.UTC().Format(time.RFC3339))
	total := e.store.FlagInt(uid, "spam_total") + 1

	e.store.SetFlag(uid, "spam_timestamps", kept)
	e.store.SetFlag(uid, "spam_total", total)

	switch {
	case total >= spamHardThreshold:
		return spamHard
	case len(kept) >= spamMediumThreshold:
		return spamMedium
	case len(kept) >= spamSoftThreshold:
		return spamSoft
	}
	return spamNone
}

// blockedRemaining returns the minutes left on a temporary block, or 0.
func (e *Engine) blockedRemaining(uid string) int {
	until := e.store.FlagString(uid, "spam_blocked_until")
	if until == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, until)
	if err != nil {
		return 0
	}
	rem := t.Sub(e.now())
	if rem <= 0 {
		e.store.ClearFlag(uid, "spam_blocked_until")
		return 0
	}
	mins := int(rem.Minutes())
	if mins < 1 {
		mins = 1
	}
	return mins
}

// handleAbuse runs the gate. A non-nil reply short-circuits the turn.
func (e *Engine) handleAbuse(uid, text string) *Reply {
	if mins := e.blockedRemaining(uid); mins > 0 {
		return e.emit(uid, []string{
			fmt.Sprintf("Mohon menunggu %d menit lagi ya kak, setelah itu kami bantu kembali.", mins),
		}, StatusBlocked, map[string]any{"reason": "spam_block_active"})
	}

	if hasProfanity(text) {
		return e.emit(uid, []string{
			"Mohon maaf atas ketidaknyamanannya kak. Ada yang bisa kami bantu terkait produk Honeywell?",
		}, StatusOpen, map[string]any{"reason": "profanity"})
	}

	if !looksLikeSpam(text) {
		return nil
	}

	if e.store.FlagBool(uid, "spam_user") {
		// hard-flagged users get no further replies to spam
		return &Reply{Status: StatusBlocked, Next: NextEnd}
	}

	switch e.recordSpamEvent(uid) {
	case spamHard:
		e.store.SetFlag(uid, "spam_user", true)
		return e.emit(uid, []string{
			"Mohon maaf kak, untuk bantuan lebih lanjut silakan hubungi customer service kami di jam kerja ya.",
		}, StatusBlocked, map[string]any{"reason": "spam_hard"})
	case spamMedium:
		e.store.SetFlag(uid, "spam_blocked_until", e.now().Add(spamBlockPeriod).UTC().Format(time.RFC3339))
		return e.emit(uid, []string{
			"Mohon menunggu 1 jam ke depan ya kak, setelah itu kami bantu kembali.",
		}, StatusBlocked, map[string]any{"reason": "spam_medium"})
	case spamSoft:
		return e.emit(uid, []string{
			"Baik kak, kalau ada kendala dengan alatnya silakan ceritakan ya, supaya kami bisa bantu.",
		}, StatusOpen, map[string]any{"reason": "spam_soft"})
	}
	return e.emit(uid, []string{"Baik kak."}, StatusOpen, map[string]any{"reason": "spam_minimal"})
}
