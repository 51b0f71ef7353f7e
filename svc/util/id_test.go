package util

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenSlugAlphabetAndLength(t *testing.T) {
	for _, n := range []int{1, 8, 12, 64} {
		slug, err := GenSlug(n)
		if err != nil {
			t.Fatalf("GenSlug(%d): %v", n, err)
		}
		if len(slug) != n {
			t.Errorf("GenSlug(%d) returned %d chars", n, len(slug))
		}
		for _, c := range slug {
			if !strings.ContainsRune(base62Chars, c) {
				t.Errorf("slug %q contains %q outside base62", slug, c)
			}
		}
		if !ValidSlug(slug) {
			t.Errorf("generated slug %q rejected by ValidSlug", slug)
		}
	}
}

func TestGenSlugRejectsBadLength(t *testing.T) {
	if _, err := GenSlug(0); err == nil {
		t.Error("expected error for zero length")
	}
	if _, err := GenSlug(65); err == nil {
		t.Error("expected error for oversized slug")
	}
}

func TestGenSlugUnique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		s, err := GenSlug(DefaultSlugLen)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate slug after %d draws: %s", i, s)
		}
		seen[s] = struct{}{}
	}
}

func TestGenSecretToken(t *testing.T) {
	tok, err := GenSecretToken(MinTokenBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(tok))
	}
	if _, err := hex.DecodeString(tok); err != nil {
		t.Errorf("token is not hex: %v", err)
	}
	other, _ := GenSecretToken(MinTokenBytes)
	if tok == other {
		t.Error("two tokens collided")
	}
	if _, err := GenSecretToken(16); err == nil {
		t.Error("expected error for short token")
	}
}

func TestValidSlug(t *testing.T) {
	tests := map[string]bool{
		"aB3dE6gH":                 true,
		"":                         false,
		"abc-def":                  false,
		"../etc":                   false,
		"a b":                      false,
		strings.Repeat("a", 64):    true,
		strings.Repeat("a", 65):    false,
		"été":                      false,
		"'; DROP TABLE pastes; --": false,
	}
	for in, want := range tests {
		if got := ValidSlug(in); got != want {
			t.Errorf("ValidSlug(%q) = %v, want %v", in, got, want)
		}
	}
}
