package engine

import "testing"

func TestParseAnswer(t *testing.T) {
	yesNo := []string{"yes", "no"}
	freq := []string{"sering", "jarang"}

	cases := []struct {
		text     string
		expected []string
		want     string
	}{
		{"iya", yesNo, "yes"},
		{"sudah", yesNo, "yes"},
		{"sudah rapat", yesNo, "yes"},
		{"belum", yesNo, "no"},
		{"tidak menyala", yesNo, "no"},
		{"masih tidak menyala", yesNo, "no"},
		{"MCB sudah ON tapi tetap tidak menyala", yesNo, "no"},
		{"sudah saya nyalakan tapi masih mati", yesNo, "no"},
		{"sudah dicoba", yesNo, "unclear"},
		{"sudah dicoba dan sekarang menyala", yesNo, "yes"},
		{"alatnya warna putih", yesNo, "unclear"},
		{"", yesNo, "unclear"},
		{"bunyinya terus menerus", freq, "sering"},
		{"kadang-kadang aja", freq, "jarang"},
		{"sering banget", freq, "sering"},
		// frequency words are ignored when the step expects yes/no
		{"sering", yesNo, "unclear"},
	}
	for _, c := range cases {
		if got := parseAnswer(c.text, c.expected); got != c.want {
			t.Errorf("parseAnswer(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestParseAnswerLateNegativeWins(t *testing.T) {
	// both polarities present, negative context in the later half
	got := parseAnswer("sudah dipasang tapi tetap belum juga", []string{"yes", "no"})
	if got != "no" {
		t.Errorf("got %q, want no", got)
	}
}

func TestInferAnswer(t *testing.T) {
	cases := []struct {
		text     string
		expected []string
		want     string
	}{
		{"kayaknya sih gitu", []string{"yes", "no"}, "yes"},
		{"kurang paham kak", []string{"yes", "no"}, "no"},
		{"hmm", []string{"yes", "no"}, "no"},
		{"nonstop bunyinya", []string{"sering", "jarang"}, "sering"},
		{"sesekali doang", []string{"sering", "jarang"}, "jarang"},
		{"alatnya warna putih", []string{"yes", "no"}, ""},
	}
	for _, c := range cases {
		if got := inferAnswer(c.text, c.expected); got != c.want {
			t.Errorf("inferAnswer(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestIsAcknowledgement(t *testing.T) {
	for _, text := range []string{"ok", "baik kak", "makasih", "terima kasih banyak", "sip"} {
		if !isAcknowledgement(text) {
			t.Errorf("isAcknowledgement(%q) = false, want true", text)
		}
	}
	for _, text := range []string{"", "ok tapi masih mati", "alatnya gimana", "baik kak tapi ada satu lagi"} {
		if isAcknowledgement(text) {
			t.Errorf("isAcknowledgement(%q) = true, want false", text)
		}
	}
}

func TestIsExplicitResolution(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"sudah menyala", true},
		{"alhamdulillah sudah nyala kak", true},
		{"baunya sudah hilang", true},
		{"belum, masih belum menyala", false},
		{"sudah dicoba tapi masih belum menyala", false},
		{"iya", false},
	}
	for _, c := range cases {
		if got := isExplicitResolution(c.text); got != c.want {
			t.Errorf("isExplicitResolution(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestHasCorrectionKeyword(t *testing.T) {
	if !hasCorrectionKeyword("eh bukan, maksud saya bunyi") {
		t.Error("want true for correction phrase")
	}
	if hasCorrectionKeyword("eh iya alatnya juga bunyi") {
		t.Error("an additional complaint is not a correction")
	}
}

func TestIsSelfCorrection(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"eh belum deng", true},
		{"tunggu ternyata masih mati", true},
		{"eh iya juga ya", false}, // "juga" must not match "ga"
		{"masih mati", false},     // no starter word
		{"eh", false},
	}
	for _, c := range cases {
		if got := isSelfCorrection(c.text); got != c.want {
			t.Errorf("isSelfCorrection(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
