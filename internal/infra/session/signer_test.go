package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestComputeHmacSha256(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	// Hex: f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8
	expected := "97yD9DBThCSxMpjmqm-xQ-9NWaFJRhdZl0edvC0aPNg"
	result := computeHmacSha256("The quick brown fox jumps over the lazy dog", []byte("key"))

	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSigner("secret")
	s.now = func() time.Time { return now }

	token := s.Issue("alice@example.com", time.Hour)
	user, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user != "alice@example.com" {
		t.Errorf("expected alice@example.com, got %s", user)
	}

	now = now.Add(time.Hour)
	if _, err := s.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner("secret")
	token := s.Issue("alice", time.Hour)
	parts := strings.Split(token, ".")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"other secret", NewSigner("other").Issue("alice", time.Hour), ErrBadSignature},
		{"swapped user", "Ym9i." + parts[1] + "." + parts[2], ErrBadSignature},
		{"extended expiry", parts[0] + ".99999999999999." + parts[2], ErrBadSignature},
		{"missing parts", parts[0] + "." + parts[1], ErrMalformedToken},
		{"empty", "", ErrMalformedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
