package textutil

import "testing"

func TestNormalize(t *testing.T) {
	decomposed := "José  da   Silva "
	if got := Normalize(decomposed); got != "José da Silva" {
		t.Fatalf("unexpected normalisation %q", got)
	}
	if got := Normalize("   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ana.Souza@Example.COM "); got != "ana.souza@example.com" {
		t.Fatalf("unexpected email key %q", got)
	}
	if NormalizeEmail("A@X.com") != NormalizeEmail("a@x.COM") {
		t.Fatal("expected case-insensitive keys to match")
	}
}

func TestSanitizeRichText(t *testing.T) {
	input := `<p>Participou do <strong>Go Meetup</strong><script>alert(1)</script> <a href="javascript:x">aqui</a></p>`
	got := SanitizeRichText(input)
	want := `<p>Participou do <strong>Go Meetup</strong> aqui</p>`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
