package normalize

import "testing"

func TestWord(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"udh", "sudah"},
		{"UDH", "sudah"},
		{"blm", "belum"},
		{"brisik", "berisik"},
		{"matii", "mati"},
		{"rumah", "rumah"},     // unknown passes through
		{"Jakarta", "Jakarta"}, // case preserved when unmapped
	}
	for _, tt := range tests {
		if got := Word(tt.in); got != tt.want {
			t.Errorf("Word(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	got := Text("alatnya blm nyala msh matii")
	want := "alatnya belum menyala masih mati"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestForIntent(t *testing.T) {
	if got := ForIntent("  udh   dicoba  "); got != "sudah dicoba" {
		t.Errorf("ForIntent() = %q", got)
	}
	if got := ForIntent(""); got != "" {
		t.Errorf("ForIntent(empty) = %q", got)
	}
}
