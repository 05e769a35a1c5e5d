package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Classification is the fixed-field result of the intent classifier.
type Classification struct {
	HasGreeting         bool
	GreetingPart        string
	IssuePart           string
	Intent              string // mati, bau, bunyi, none
	Category            string // domain, chitchat, nonsense
	IsNewComplaint      bool
	AdditionalComplaint string // mati, bau, bunyi, none
}

// Rule-based complaint keyword lists. These override the LLM when they fire.
var complaintKeywordsByIntent = map[string][]string{
	"mati": {
		"mati", "tidak menyala", "gak nyala", "ga nyala", "tidak nyala",
		"padam", "tidak hidup", "gak hidup", "mati total", "tidak mau nyala",
	},
	"bau": {
		"bau", "menyengat", "apek", "amis", "bau aneh", "bau tidak sedap",
	},
	"bunyi": {
		"bunyi", "berisik", "kretek", "suara aneh", "bising", "dengung", "suara berisik",
	},
}

// single-word chitchat messages never carry an additional complaint
var chitchatShortCircuit = map[string]bool{
	"terimakasih": true, "makasih": true, "terima": true, "thanks": true,
	"ok": true, "oke": true, "baik": true, "halo": true, "hai": true,
	"siap": true, "sip": true, "iya": true, "ya": true, "mantap": true,
}

// classify calls the LLM with today's history, the active step, and the
// utterance. Missing fields default conservatively; a failed call degrades to
// "no intent detected".
func (e *Engine) classify(ctx context.Context, uid, message string) Classification {
	activeIntent := e.store.FlagString(uid, "active_intent")

	cls := Classification{
		Intent:              "none",
		Category:            "domain",
		AdditionalComplaint: "none",
	}

	historyBlock := e.todaysHistory(uid)
	stepBlock := "(Tidak ada step aktif)"
	if activeIntent != "" {
		if step := e.activeStep(uid, activeIntent); step != nil {
			if data, err := json.MarshalIndent(step, "", "  "); err == nil {
				stepBlock = string(data)
			}
		}
	}

	active := activeIntent
	if active == "" {
		active = "none"
	}
	prompt := e.prompts.Render("classify_intent", defaultClassifyPrompt, map[string]string{
		"session_header": e.sessionHeader(uid),
		"history":        historyBlock,
		"message":        message,
		"active_intent":  active,
		"intents":        strings.Join(e.catalog.IntentIDs(), ", "),
		"active_step":    stepBlock,
	})

	obj, err := e.llm.GenerateJSON(ctx,
		"Kamu adalah intent classifier Honeywell. Jawab HANYA JSON VALID. DILARANG menambah field.",
		prompt)
	if err != nil || len(obj) == 0 {
		if activeIntent != "" {
			cls.Intent = activeIntent
		}
		return cls
	}

	if b, ok := obj["has_greeting"].(bool); ok {
		cls.HasGreeting = b
	}
	if s, ok := obj["greeting_part"].(string); ok {
		cls.GreetingPart = strings.TrimSpace(s)
	}
	if s, ok := obj["issue_part"].(string); ok {
		cls.IssuePart = strings.TrimSpace(s)
	}
	if s, ok := obj["intent"].(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "none" || e.catalog.Flow(s) != nil {
			cls.Intent = s
		}
	}
	if s, ok := obj["category"].(string); ok {
		switch s {
		case "domain", "chitchat", "nonsense":
			cls.Category = s
		}
	}
	if b, ok := obj["is_new_complaint"].(bool); ok {
		cls.IsNewComplaint = b
	}
	if s, ok := obj["additional_complaint"].(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "none" || e.catalog.Flow(s) != nil {
			cls.AdditionalComplaint = s
		}
	}

	// an active flow never loses its intent to a timid classifier
	if activeIntent != "" && cls.Intent == "none" {
		cls.Intent = activeIntent
	}
	return cls
}

// scanAdditionalComplaint is the rule-based pass over the utterance. It runs
// after the LLM and overrides its additional_complaint when a keyword for a
// different intent fires.
func scanAdditionalComplaint(text, activeIntent string) string {
	low := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(low)

	if len(words) <= 1 {
		w := strings.Trim(low, ".,!?")
		if chitchatShortCircuit[w] {
			return "none"
		}
	}

	for _, intent := range []string{"mati", "bau", "bunyi"} {
		if intent == activeIntent {
			continue
		}
		if containsAnyWord(low, complaintKeywordsByIntent[intent]) {
			return intent
		}
	}
	return "none"
}

func (e *Engine) todaysHistory(uid string) string {
	today := e.now().UTC().Format("2006-01-02")
	var lines []string
	for _, h := range e.store.History(uid) {
		if !strings.HasPrefix(h.TS, today) {
			continue
		}
		role := "User"
		if h.Role == "bot" {
			role = "Bot"
		}
		lines = append(lines, role+": "+h.Text)
	}
	if len(lines) == 0 {
		return "(Tidak ada percakapan hari ini)"
	}
	return strings.Join(lines, "\n")
}

// sessionHeader marks prompts with the user's session token so generator
// context never bleeds across users.
func (e *Engine) sessionHeader(uid string) string {
	token := e.store.Get(uid).SessionToken
	return fmt.Sprintf("[SESSION CONTEXT – USER ID: %s | TOKEN: %s] Jangan gunakan konteks atau percakapan dari pengguna lain.", uid, token)
}

// greetingReply phrases a short hello. Deterministic fallback when the LLM is
// down.
func (e *Engine) greetingReply(ctx context.Context, uid, greeting string) string {
	fallback := "Halo kak! Ada yang bisa kami bantu?"
	if strings.TrimSpace(greeting) == "" {
		return fallback
	}
	msg, err := e.llm.Generate(ctx,
		"Kamu asisten CS Honeywell yang ramah.",
		e.prompts.Render("greeting_reply", defaultGreetingPrompt, map[string]string{"greeting": greeting}),
		0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

// elaborateReply is the terminal fallback: ask the user for details.
func (e *Engine) elaborateReply(ctx context.Context, uid, message string) string {
	fallback := "Boleh dijelaskan lebih detail kendalanya kak? Supaya kami bisa bantu dengan tepat."
	msg, err := e.llm.Generate(ctx,
		"Kamu asisten CS Honeywell yang ramah.",
		e.prompts.Render("elaborate_reply", defaultElaboratePrompt, map[string]string{"message": message}),
		0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

// sessionGap is the silence after which a greeting restarts a pending
// conversation.
const sessionGap = 6 * time.Hour
