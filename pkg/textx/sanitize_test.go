// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("uno dos tres", 12, "jeje"); got != "uno dos tres" {
		t.Fatalf("short input must pass through, got %q", got)
	}
	if got := TruncateWords("a b c d", 2, "jeje"); got != "a b jeje" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := TruncateWords("a b c d", 2, ""); got != "a b" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("me encanta Instagram!!", "instagram") {
		t.Fatal("expected match")
	}
	if ContainsFold("hola", "adios") {
		t.Fatal("unexpected match")
	}
}
