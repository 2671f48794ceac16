package hub

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("shared-secret", time.Minute)

	token, err := m.Generate("ingest")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	process, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if process != "ingest" {
		t.Errorf("process = %q, want %q", process, "ingest")
	}
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", time.Minute)
	verifier := NewTokenManager("secret-b", time.Minute)

	token, err := issuer.Generate("engine")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := verifier.Validate(token); err != ErrInvalidToken {
		t.Errorf("Validate with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	m := NewTokenManager("shared-secret", time.Minute)
	if _, err := m.Validate("not-a-token"); err != ErrInvalidToken {
		t.Errorf("Validate(garbage) = %v, want ErrInvalidToken", err)
	}
}
