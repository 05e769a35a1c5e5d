package engine

import "strings"

// Rule-based answer parsing. The LLM never decides yes/no when a curated
// phrase or keyword can; these tables are the deterministic first pass.

var positivePhrases = []string{
	"sudah menyala", "sudah nyala", "sudah hidup", "sudah berfungsi",
	"sudah normal", "sudah bisa", "sudah jalan", "sudah rapat",
	"nyala normal", "berfungsi normal", "sudah hilang",
}

var negativePhrases = []string{
	"tidak menyala", "tidak nyala", "belum nyala", "belum menyala",
	"masih mati", "tetap mati", "tetap tidak", "masih tidak",
	"belum bisa", "tidak bisa", "masih bau", "masih bunyi", "masih berisik",
}

var positiveWords = map[string]bool{
	"iya": true, "ya": true, "sudah": true, "udah": true, "betul": true,
	"benar": true, "oke": true, "ok": true, "baik": true, "yes": true,
	"yup": true, "siap": true, "bisa": true, "nyala": true, "menyala": true,
	"hidup": true, "rapat": true, "normal": true, "berfungsi": true,
}

var negativeWords = map[string]bool{
	"tidak": true, "belum": true, "gak": true, "ga": true, "nggak": true,
	"ngga": true, "enggak": true, "mati": true, "padam": true, "engga": true,
}

// negative context words near the end of a mixed utterance win
var negativeContextWords = []string{"masih", "belum", "tetap", "tidak"}

var frequentWords = []string{
	"sering", "selalu", "terus", "terus-terusan", "terus menerus",
	"nonstop", "tiap hari", "setiap hari", "konstan", "gak berhenti", "tidak berhenti",
}

var rareWords = []string{
	"jarang", "kadang", "kadang-kadang", "sesekali", "sekali-sekali", "sekali-kali",
}

var positiveHedges = []string{"mungkin", "kayaknya", "lumayan", "agak", "sepertinya"}
var negativeHedges = []string{"gatau", "ga tau", "gak tau", "kurang", "bingung", "tidak tahu"}
var strongFrequencyHedges = []string{"terus-terusan", "terus menerus", "nonstop", "selalu"}
var mildFrequencyHedges = []string{"kadang", "sesekali", "jarang sekali", "jarang-jarang"}
var hesitationWords = []string{"hmm", "ehm", "hmmm", "emm", "eh"}

// device-state words make a positive answer unambiguous
var deviceStateWords = []string{
	"nyala", "menyala", "hidup", "berfungsi", "normal", "mati",
	"bau", "bunyi", "berisik", "hilang", "jalan",
}

var explicitResolutionPhrases = []string{
	"sudah menyala", "sudah nyala", "alat sudah nyala", "sudah hidup",
	"sudah berfungsi", "sudah normal", "sudah bisa nyala", "udah nyala",
	"sudah jalan", "sudah tidak bau", "bau sudah hilang", "baunya sudah hilang",
	"sudah tidak bunyi", "bunyi sudah hilang", "bunyinya sudah hilang",
	"sudah tidak berisik", "sudah hilang",
}

var resolutionNegations = []string{"masih", "belum", "tidak", "gak", "nggak", "ngga", "enggak"}

var acknowledgementWords = map[string]bool{
	"ok": true, "oke": true, "okee": true, "baik": true, "sip": true,
	"siap": true, "makasih": true, "terimakasih": true, "terima": true,
	"kasih": true, "thanks": true, "mantap": true, "iya": true, "ya": true,
	"yaudah": true, "kak": true, "banyak": true, "sama": true,
}

var correctionKeywords = []string{
	"eh bukan", "maksud saya", "maksudku", "tunggu", "salah", "bukan itu",
	"eh salah", "ralat", "eh maksudnya",
}

var selfCorrectionStarters = []string{"eh", "tunggu", "wait", "eits"}

// parseAnswer classifies an utterance against an expected-result set.
// Returns one of "yes", "no", "sering", "jarang", "unclear".
func parseAnswer(text string, expected []string) string {
	low := strings.ToLower(strings.TrimSpace(text))
	if low == "" {
		return "unclear"
	}
	words := strings.Fields(low)

	expectsFrequency := false
	for _, e := range expected {
		if e == "sering" || e == "jarang" {
			expectsFrequency = true
		}
	}

	// "sudah dicoba" without a result word is not an answer
	if strings.Contains(low, "coba") && !containsAnyWord(low, deviceStateWords) {
		return "unclear"
	}

	if expectsFrequency {
		if containsAnyWord(low, frequentWords) {
			return "sering"
		}
		if containsAnyWord(low, rareWords) {
			return "jarang"
		}
	}

	// priority 1: curated phrases
	for _, p := range negativePhrases {
		if strings.Contains(low, p) {
			return "no"
		}
	}
	for _, p := range positivePhrases {
		if strings.Contains(low, p) {
			return "yes"
		}
	}

	// priority 2: single-word matches
	if len(words) == 1 {
		if positiveWords[words[0]] {
			return "yes"
		}
		if negativeWords[words[0]] {
			return "no"
		}
	}

	// priority 3: keyword counting for multi-word utterances
	pos, neg := 0, 0
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	if pos > 0 && neg > 0 {
		// a negative context word in the later half wins
		half := len(words) / 2
		for i := half; i < len(words); i++ {
			for _, ncw := range negativeContextWords {
				if words[i] == ncw {
					return "no"
				}
			}
		}
		return "yes"
	}
	if neg > 0 {
		return "no"
	}
	if pos > 0 {
		return "yes"
	}
	return "unclear"
}

// inferAnswer is the aggressive second tier: hedging cues map an unclear
// utterance to a best guess. Returns "" when nothing applies.
func inferAnswer(text string, expected []string) string {
	low := strings.ToLower(strings.TrimSpace(text))

	expectsFrequency := false
	for _, e := range expected {
		if e == "sering" || e == "jarang" {
			expectsFrequency = true
		}
	}
	if expectsFrequency {
		if containsAnyWord(low, strongFrequencyHedges) {
			return "sering"
		}
		if containsAnyWord(low, mildFrequencyHedges) {
			return "jarang"
		}
	}

	if containsAnyWord(low, negativeHedges) {
		return "no"
	}
	if containsAnyWord(low, positiveHedges) {
		return "yes"
	}

	// hesitation only
	words := strings.Fields(low)
	if len(words) > 0 {
		allHesitation := true
		for _, w := range words {
			if !containsAnyWord(w, hesitationWords) {
				allHesitation = false
				break
			}
		}
		if allHesitation {
			return "no"
		}
	}
	return ""
}

// isAcknowledgement reports whether text is a simple thanks/ok (≤ 3 tokens,
// all from the acknowledgement whitelist).
func isAcknowledgement(text string) bool {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		if !acknowledgementWords[w] {
			return false
		}
	}
	return true
}

// isExplicitResolution reports whether the utterance states the device works
// again, with no negation anywhere.
func isExplicitResolution(text string) bool {
	low := strings.ToLower(text)
	matched := false
	for _, p := range explicitResolutionPhrases {
		if strings.Contains(low, p) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, w := range strings.Fields(low) {
		w = strings.Trim(w, ".,!?")
		for _, n := range resolutionNegations {
			if w == n {
				return false
			}
		}
	}
	return true
}

// hasCorrectionKeyword detects "eh bukan / maksud saya / salah" style intent
// corrections.
func hasCorrectionKeyword(text string) bool {
	return containsAnyWord(strings.ToLower(text), correctionKeywords)
}

// isSelfCorrection detects "eh/tunggu + negative" takebacks of the previous
// answer.
func isSelfCorrection(text string) bool {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) < 2 {
		return false
	}
	starter := false
	for _, s := range selfCorrectionStarters {
		if words[0] == s {
			starter = true
		}
	}
	if !starter {
		return false
	}
	for _, w := range words[1:] {
		if negativeWords[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	rest := strings.Join(words[1:], " ")
	for _, p := range negativePhrases {
		if strings.Contains(rest, p) {
			return true
		}
	}
	return false
}

func containsAnyWord(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
