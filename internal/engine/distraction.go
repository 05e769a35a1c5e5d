package engine

import (
	"context"
	"strings"
)

// Distraction handling: the user said something mid-flow that is not an
// answer. Acknowledge briefly, then pull them back to the current step.

var competitorBrands = []string{
	"sharp", "panasonic", "daikin", "philips", "xiaomi", "lg",
	"samsung", "coway", "polytron",
}

var questionCues = []string{
	"berapa", "harga", "teknisi", "garansi", "kapan", "bagaimana",
	"gimana", "dimana", "di mana", "apakah bisa", "bisa ga", "bisa gak",
}

var chitchatCues = []string{
	"panas", "terima kasih", "makasih", "hujan", "mantap", "hehe",
	"wkwk", "haha", "cuaca",
}

// classifyDistraction buckets the utterance. "unclear" means fall through to
// the SOP walk.
func classifyDistraction(text string) string {
	low := strings.ToLower(text)
	if containsAnyWord(low, competitorBrands) {
		return "competitor"
	}
	if strings.Contains(low, "?") || containsAnyWord(low, questionCues) {
		return "question"
	}
	if containsAnyWord(low, chitchatCues) {
		return "chitchat"
	}
	return "unclear"
}

// distractionReply composes ack + redirect back to the current step's ask.
func (e *Engine) distractionReply(ctx context.Context, uid, text, dtype, followUp string) string {
	var ack string
	switch dtype {
	case "competitor":
		ack = "Untuk produk merk lain kami kurang bisa bantu ya kak."
	case "question":
		ack = e.shortAnswer(ctx, uid, text)
	case "chitchat":
		ack = e.shortChitchat(ctx, uid, text)
	default:
		return followUp
	}
	return ack + " Balik ke EAC nya ya, " + lowerFirst(followUp)
}

func (e *Engine) shortAnswer(ctx context.Context, uid, text string) string {
	fallback := "Untuk info tersebut nanti tim kami bantu ya kak."
	msg, err := e.llm.Generate(ctx, "CS ramah.",
		e.prompts.Render("short_answer", defaultShortAnswerPrompt, map[string]string{"message": text}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

func (e *Engine) shortChitchat(ctx context.Context, uid, text string) string {
	fallback := "Iya kak."
	msg, err := e.llm.Generate(ctx, "CS ramah.",
		e.prompts.Render("short_chitchat", defaultShortChitchatPrompt, map[string]string{"message": text}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

// ackAndRedirect acknowledges a queued additional complaint and re-asks the
// current troubleshooting question.
func (e *Engine) ackAndRedirect(ctx context.Context, uid, additional, active, question string) string {
	complaintText := map[string]string{
		"mati":  "tidak menyala",
		"bau":   "bau tidak sedap",
		"bunyi": "bunyi tidak normal",
	}
	addText := complaintText[additional]
	if addText == "" {
		addText = additional
	}
	activeText := complaintText[active]
	if activeText == "" {
		activeText = active
	}

	fallback := "Baik kak, untuk " + addText + " nya kami catat ya. Kita selesaikan kendala " +
		activeText + " dulu. " + question

	msg, err := e.llm.Generate(ctx,
		"Kamu adalah CS Honeywell yang ramah dan fokus.",
		e.prompts.Render("ack_redirect", defaultAckRedirectPrompt, map[string]string{
			"additional": addText,
			"active":     activeText,
			"question":   question,
		}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	msg = strings.TrimSpace(msg)
	if !strings.Contains(msg, "?") {
		msg += " " + question
	}
	return msg
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
