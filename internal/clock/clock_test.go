package clock

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestNowIsMillisecondTruncatedUTC(t *testing.T) {
	got := Now()

	if got.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", got.Location())
	}
	if got.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Now() = %v, want truncated to millisecond precision", got)
	}
}

func TestRandomTokenIsUniqueAndURLSafe(t *testing.T) {
	a := RandomToken()
	b := RandomToken()

	if a == b {
		t.Fatal("RandomToken() returned the same value twice")
	}
	for _, tok := range []string{a, b} {
		if strings.ContainsAny(tok, "+/=") {
			t.Errorf("RandomToken() = %q, want base64url without padding", tok)
		}
	}
}

func TestRandomTokenBytesLength(t *testing.T) {
	tests := []struct {
		n int
	}{
		{8}, {16}, {32},
	}
	seen := make(map[string]bool)
	for _, tt := range tests {
		tok := RandomTokenBytes(tt.n)
		if tok == "" {
			t.Errorf("RandomTokenBytes(%d) returned empty string", tt.n)
		}
		if want := base64.RawURLEncoding.EncodedLen(tt.n); len(tok) != want {
			t.Errorf("len(RandomTokenBytes(%d)) = %d, want %d", tt.n, len(tok), want)
		}
		if seen[tok] {
			t.Errorf("RandomTokenBytes(%d) collided with a previous call", tt.n)
		}
		seen[tok] = true
	}
}

func TestSHA256HexIsDeterministicAndLowercase(t *testing.T) {
	got := SHA256Hex("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	if got != want {
		t.Errorf("SHA256Hex(%q) = %q, want %q", "hello", got, want)
	}
	if got != strings.ToLower(got) {
		t.Errorf("SHA256Hex(%q) = %q, want lowercase", "hello", got)
	}
	if SHA256Hex("hello") != SHA256Hex("hello") {
		t.Error("SHA256Hex is not deterministic")
	}
}

func TestSHA256Base64URLIsDeterministicAndURLSafe(t *testing.T) {
	got := SHA256Base64URL([]byte("hello"))

	if got != SHA256Base64URL([]byte("hello")) {
		t.Error("SHA256Base64URL is not deterministic")
	}
	if len(got) != 43 { // 32 digest bytes, base64url without padding
		t.Errorf("len(SHA256Base64URL) = %d, want 43", len(got))
	}
	if strings.ContainsAny(got, "+/=") {
		t.Errorf("SHA256Base64URL(%q) = %q, want base64url without padding", "hello", got)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "secret-token", "secret-token", true},
		{"different same length", "secret-tokenA", "secret-tokenB", false},
		{"different length", "short", "much-longer-value", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConstantTimeEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ConstantTimeEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
