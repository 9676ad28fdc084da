package crypto

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func mustSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(testKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestRoundtrip(t *testing.T) {
	s := mustSealer(t)

	inputs := []string{"", "invite-token", "with spaces and ünïcödé", strings.Repeat("x", 1000)}
	for _, in := range inputs {
		sealed, err := s.Seal("pending_invite", in)
		if err != nil {
			t.Fatalf("Seal(%q): %v", in, err)
		}
		got, err := s.Open("pending_invite", sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != in {
			t.Errorf("roundtrip mismatch: got %q, want %q", got, in)
		}
	}
}

func TestSealIsCookieSafe(t *testing.T) {
	s := mustSealer(t)
	sealed, err := s.Seal("pending_invite", "token")
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(sealed, "+/=;, ") {
		t.Errorf("sealed value contains cookie-unsafe characters: %q", sealed)
	}
}

func TestDifferentCiphertexts(t *testing.T) {
	s := mustSealer(t)
	a, _ := s.Seal("p", "same")
	b, _ := s.Seal("p", "same")
	if a == b {
		t.Error("two seals of the same value should differ (random nonce)")
	}
}

func TestPurposeBinding(t *testing.T) {
	s := mustSealer(t)
	sealed, _ := s.Seal("pending_invite", "token")
	if _, err := s.Open("session", sealed); !errors.Is(err, ErrInvalidSeal) {
		t.Errorf("expected ErrInvalidSeal for wrong purpose, got %v", err)
	}
}

func TestOpenTampered(t *testing.T) {
	s := mustSealer(t)
	sealed, _ := s.Seal("p", "token")

	b := []byte(sealed)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	if _, err := s.Open("p", string(b)); !errors.Is(err, ErrInvalidSeal) {
		t.Errorf("expected ErrInvalidSeal for tampered value, got %v", err)
	}
}

func TestOpenInvalidData(t *testing.T) {
	s := mustSealer(t)
	for _, in := range []string{"!!!not-base64!!!", "AAAA", ""} {
		if _, err := s.Open("p", in); !errors.Is(err, ErrInvalidSeal) {
			t.Errorf("Open(%q): expected ErrInvalidSeal, got %v", in, err)
		}
	}
}

func TestOtherKeyCannotOpen(t *testing.T) {
	s := mustSealer(t)
	sealed, _ := s.Seal("p", "token")

	otherKey, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewSealer(otherKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Open("p", sealed); !errors.Is(err, ErrInvalidSeal) {
		t.Errorf("expected ErrInvalidSeal under another key, got %v", err)
	}
}

func TestNilSealerPassthrough(t *testing.T) {
	var s *Sealer
	sealed, err := s.Seal("p", "plain")
	if err != nil || sealed != "plain" {
		t.Fatalf("nil Seal: %q, %v", sealed, err)
	}
	opened, err := s.Open("p", "plain")
	if err != nil || opened != "plain" {
		t.Fatalf("nil Open: %q, %v", opened, err)
	}
}

func TestEmptyKeyReturnsNil(t *testing.T) {
	s, err := NewSealer("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil sealer for empty key")
	}
}

func TestInvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"too short", "0001020304"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too long", testKey + "00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSealer(tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(k) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(k))
	}
	if _, err := NewSealer(k); err != nil {
		t.Errorf("generated key rejected: %v", err)
	}
}
