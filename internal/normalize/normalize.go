// Package normalize maps Indonesian chat slang and common typos to canonical
// forms before intent classification and answer parsing. Dictionaries are
// closed; unknown tokens pass through untouched.
package normalize

import "strings"

var slangMap = map[string]string{
	"udh":      "sudah",
	"udah":     "sudah",
	"dah":      "sudah",
	"blm":      "belum",
	"blum":     "belum",
	"gk":       "gak",
	"ga":       "gak",
	"ngga":     "nggak",
	"tdk":      "tidak",
	"bnr":      "benar",
	"bgt":      "banget",
	"bener":    "benar",
	"gmn":      "gimana",
	"gmna":     "gimana",
	"bgmn":     "bagaimana",
	"bgaimana": "bagaimana",
	"knp":      "kenapa",
	"knapa":    "kenapa",
	"mgkn":     "mungkin",
	"krn":      "karena",
	"karna":    "karena",
	"trs":      "terus",
	"trz":      "terus",
	"hrs":      "harus",
	"jg":       "juga",
	"jgn":      "jangan",
	"msh":      "masih",
	"yg":       "yang",
	"dgn":      "dengan",
	"sm":       "sama",
	"tp":       "tapi",
	"klo":      "kalau",
	"kl":       "kalau",
	"ato":      "atau",
	"atw":      "atau",
	"bs":       "bisa",
	"bsa":      "bisa",
	"emg":      "memang",
	"emang":    "memang",
	"skrg":     "sekarang",
	"skrang":   "sekarang",
	"skg":      "sekarang",
	"kmrn":     "kemarin",
	"kyk":      "kayak",
	"kaya":     "kayak",
	"lg":       "lagi",
	"lgi":      "lagi",
	"pke":      "pakai",
	"spt":      "seperti",
	"ky":       "kayak",
	"mksd":     "maksud",
	"mksdnya":  "maksudnya",
	"bbrp":     "beberapa",
	"krng":     "kurang",
	"jd":       "jadi",
	"jdi":      "jadi",
	"aj":       "aja",
	"sy":       "saya",
	"org":      "orang",
	"nyala":    "menyala",
	"gakbisa":  "gak bisa",
	"gabisa":   "ga bisa",
	"gatau":    "ga tau",
	"gktau":    "gak tau",
}

var typoMap = map[string]string{
	"suadh":    "sudah",
	"sudha":    "sudah",
	"bleum":    "belum",
	"bunyii":   "bunyi",
	"buniy":    "bunyi",
	"bauu":     "bau",
	"bua":      "bau",
	"matii":    "mati",
	"nyalaa":   "nyala",
	"tiadk":    "tidak",
	"tidka":    "tidak",
	"tidaak":   "tidak",
	"berisikk": "berisik",
	"berisiq":  "berisik",
	"berisick": "berisik",
	"brisik":   "berisik",
	"hidupp":   "hidup",
	"idupp":    "hidup",
	"rusaak":   "rusak",
	"normall":  "normal",
	"norml":    "normal",
	"seringg":  "sering",
	"srng":     "sering",
	"jarangg":  "jarang",
	"jarng":    "jarang",
	"kadangg":  "kadang",
	"kdang":    "kadang",
	"kadng":    "kadang",
}

// Word maps a single token to its canonical form. Case is preserved when no
// mapping applies.
func Word(word string) string {
	lower := strings.ToLower(strings.TrimSpace(word))
	if canonical, ok := slangMap[lower]; ok {
		return canonical
	}
	if canonical, ok := typoMap[lower]; ok {
		return canonical
	}
	return word
}

// Text normalizes every whitespace-separated token in text.
func Text(text string) string {
	if text == "" {
		return text
	}
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = Word(w)
	}
	return strings.Join(words, " ")
}

// ForIntent normalizes text for the intent classifier: token mapping plus
// whitespace collapse.
func ForIntent(text string) string {
	return strings.TrimSpace(Text(text))
}
