package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestIssueVerifyRoundtrip(t *testing.T) {
	s := NewSigner("test-secret", 15*time.Minute)

	tok, expiry := s.Issue("abc123", "file:///data/2026/08/25/abc123/v.mp4")
	if time.Until(expiry) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiry)
	}

	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.JobID != "abc123" {
		t.Errorf("expected job id abc123, got %s", claims.JobID)
	}
	if claims.Locator != "file:///data/2026/08/25/abc123/v.mp4" {
		t.Errorf("unexpected locator %s", claims.Locator)
	}
	if !claims.ExpiresAt.Equal(expiry.Truncate(time.Second)) {
		t.Errorf("expected expiry %v, got %v", expiry.Truncate(time.Second), claims.ExpiresAt)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	s := NewSigner("test-secret", time.Minute)
	issued := time.Now()
	s.now = func() time.Time { return issued }

	tok, _ := s.Issue("abc123", "file:///tmp/v.mp4")

	// Just before expiry: valid.
	s.now = func() time.Time { return issued.Add(time.Minute - time.Second) }
	if _, err := s.Verify(tok); err != nil {
		t.Fatalf("expected valid token before expiry, got %v", err)
	}

	// Just after expiry: rejected with ErrExpired.
	s.now = func() time.Time { return issued.Add(time.Minute + time.Second) }
	if _, err := s.Verify(tok); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	s := NewSigner("test-secret", time.Minute)
	tok, _ := s.Issue("abc123", "file:///tmp/v.mp4")

	parts := strings.SplitN(tok, ".", 2)
	payload, _ := base64.RawURLEncoding.DecodeString(parts[0])
	payload[0] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(payload) + "." + parts[1]

	if _, err := s.Verify(tampered); err != ErrSignatureMismatch {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, _ := NewSigner("secret-a", time.Minute).Issue("abc123", "file:///tmp/v.mp4")
	if _, err := NewSigner("secret-b", time.Minute).Verify(tok); err != ErrSignatureMismatch {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	s := NewSigner("test-secret", time.Minute)
	for _, tok := range []string{
		"",
		"no-separator",
		"not!base64.also!not",
		base64.RawURLEncoding.EncodeToString([]byte("too|few|fields")) + ".c2ln",
	} {
		if _, err := s.Verify(tok); err != ErrMalformed && err != ErrSignatureMismatch {
			t.Errorf("token %q: expected malformed/signature error, got %v", tok, err)
		}
	}
	// A structurally broken payload with a valid signature is still malformed.
	payload := []byte("only|two")
	sig := s.sign(payload)
	tok := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
	if _, err := s.Verify(tok); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
