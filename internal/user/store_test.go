package user

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateUserInput
		wantErr error
	}{
		{
			name:    "valid input",
			input:   CreateUserInput{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"},
			wantErr: nil,
		},
		{
			name:    "mixed case email is accepted",
			input:   CreateUserInput{Name: "Ada", Email: "  Ada@Example.COM ", Password: "correct-horse"},
			wantErr: nil,
		},
		{
			name:    "blank name",
			input:   CreateUserInput{Name: "   ", Email: "ada@example.com", Password: "correct-horse"},
			wantErr: ErrNameRequired,
		},
		{
			name:    "missing at sign",
			input:   CreateUserInput{Name: "Ada", Email: "ada.example.com", Password: "correct-horse"},
			wantErr: ErrEmailInvalid,
		},
		{
			name:    "display name form is rejected",
			input:   CreateUserInput{Name: "Ada", Email: "Ada <ada@example.com>", Password: "correct-horse"},
			wantErr: ErrEmailInvalid,
		},
		{
			name:    "short password",
			input:   CreateUserInput{Name: "Ada", Email: "ada@example.com", Password: "short"},
			wantErr: ErrPasswordTooWeak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreate(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCreate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Bob@Example.ORG\n"); got != "bob@example.org" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	u := &User{PasswordHash: string(hash)}

	if !CheckPassword(u, "correct-horse") {
		t.Error("expected matching password to verify")
	}
	if CheckPassword(u, "battery-staple") {
		t.Error("expected wrong password to fail")
	}
	if CheckPassword(&User{PasswordHash: "correct-horse"}, "correct-horse") {
		t.Error("a raw stored value must never verify")
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != HashToken("token-a") {
		t.Error("hash must be deterministic")
	}
	if a == HashToken("token-b") {
		t.Error("different tokens must hash differently")
	}
}

func TestNewStoreDefaultsSessionTTL(t *testing.T) {
	s := NewStore(nil, 0)
	if s.sessionTTL != DefaultSessionDuration {
		t.Errorf("expected default ttl, got %v", s.sessionTTL)
	}
}
