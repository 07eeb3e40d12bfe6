// Package recording signs and checks the short-lived tokens carried by
// emailed recording links.
package recording

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience marks a token as a recording link rather than an admin session.
const Audience = "recording"

const DefaultLinkTTL = 72 * time.Hour

// ErrInvalidToken covers every rejected link token.
var ErrInvalidToken = errors.New("recording: invalid link token")

// LinkSigner mints per-conversation tokens for the audio proxy.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner returns nil when secret is empty, which leaves links unsigned.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the signing time. Used by tests.
func (s *LinkSigner) WithClock(now func() time.Time) *LinkSigner {
	if s != nil && now != nil {
		s.now = now
	}
	return s
}

// Sign returns an HS256 token whose subject is conversationID.
func (s *LinkSigner) Sign(conversationID string) (string, error) {
	if s == nil {
		return "", errors.New("recording: link signer not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("recording: conversation id is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   conversationID,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("recording: sign link: %w", err)
	}
	return signed, nil
}

// SignedURL appends a link token for conversationID to rawURL.
func (s *LinkSigner) SignedURL(rawURL, conversationID string) (string, error) {
	token, err := s.Sign(conversationID)
	if err != nil {
		return "", err
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "token=" + token, nil
}

// VerifyLink checks that tokenString is an unexpired recording token for
// exactly conversationID.
func VerifyLink(secret, tokenString, conversationID string) error {
	if secret == "" || tokenString == "" || conversationID == "" {
		return ErrInvalidToken
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	},
		jwt.WithAudience(Audience),
		jwt.WithSubject(conversationID),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
