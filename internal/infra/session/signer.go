package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedToken = errors.New("session: malformed token")
	ErrBadSignature   = errors.New("session: bad signature")
	ErrExpiredToken   = errors.New("session: token expired")
)

// Signer issues and verifies session tokens that bind a user id to an expiry.
//
// Token format: base64url(userID) "." expiryUnixMilli "." base64url(HMAC-SHA256)
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Issue returns a token for userID valid for ttl.
func (s *Signer) Issue(userID string, ttl time.Duration) string {
	user := base64.RawURLEncoding.EncodeToString([]byte(userID))
	expiry := strconv.FormatInt(s.now().Add(ttl).UnixMilli(), 10)
	payload := user + "." + expiry
	return payload + "." + computeHmacSha256(payload, s.secret)
}

// Verify checks the signature and expiry of token and returns its user id.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	payload := parts[0] + "." + parts[1]
	expected := computeHmacSha256(payload, s.secret)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return "", ErrBadSignature
	}

	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrMalformedToken
	}
	if s.now().UnixMilli() >= expiry {
		return "", ErrExpiredToken
	}

	user, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(user) == 0 {
		return "", ErrMalformedToken
	}
	return string(user), nil
}

func computeHmacSha256(message string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
