package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed         = errors.New("token malformed")
	ErrExpired           = errors.New("token expired")
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

// Claims are the fields embedded in a signed download token.
type Claims struct {
	JobID     string
	Locator   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and verifies stateless HMAC-signed download tokens.
// Tokens carry their own expiry; no server-side token table exists.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a token binding jobID and the result locator to an expiry.
func (s *Signer) Issue(jobID, locator string) (string, time.Time) {
	issued := s.now()
	expiry := issued.Add(s.ttl)
	// Locator goes last so it may contain the delimiter.
	payload := fmt.Sprintf("%s|%d|%d|%s", jobID, expiry.Unix(), issued.Unix(), locator)
	sig := s.sign([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig), expiry
}

// Verify checks signature and expiry and returns the embedded claims.
// The caller must still cross-check the claims against the job record.
func (s *Signer) Verify(token string) (Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Claims{}, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformed
	}

	if !hmac.Equal(sig, s.sign(payload)) {
		return Claims{}, ErrSignatureMismatch
	}

	fields := strings.SplitN(string(payload), "|", 4)
	if len(fields) != 4 {
		return Claims{}, ErrMalformed
	}
	expiryUnix, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	issuedUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	claims := Claims{
		JobID:     fields[0],
		Locator:   fields[3],
		IssuedAt:  time.Unix(issuedUnix, 0),
		ExpiresAt: time.Unix(expiryUnix, 0),
	}
	if s.now().After(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func (s *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
