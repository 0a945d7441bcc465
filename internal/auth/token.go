package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Leeway tolerated on expiry checks so tokens are not spuriously rejected at
// the boundary when clocks drift slightly.
const clockSkewLeeway = 5 * time.Second

const csrfNonceBytes = 32

// Identity is the verified result of a session token.
type Identity struct {
	Subject string
	Role    string
	CSRF    string
}

type sessionClaims struct {
	Role string `json:"role"`
	CSRF string `json:"csrf"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens. It is pure: no storage, no
// clock state beyond time.Now at call time.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec builds a codec around an HMAC-SHA256 signing secret.
func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	return &TokenCodec{secret: []byte(secret)}, nil
}

// Issue mints a signed token for the subject, valid for ttl, carrying a fresh
// CSRF nonce bound to the token. The nonce is returned separately so the
// caller can deliver it in a script-readable cookie.
func (c *TokenCodec) Issue(subject, role string, ttl time.Duration) (token, csrf string, err error) {
	csrf, err = NewNonce()
	if err != nil {
		return "", "", fmt.Errorf("mint csrf nonce: %w", err)
	}

	now := time.Now()
	claims := sessionClaims{
		Role: role,
		CSRF: csrf,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return token, csrf, nil
}

// Verify checks signature and expiry. Any failure yields ErrAuthInvalid and a
// zero Identity; no partial identity ever escapes.
func (c *TokenCodec) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrAuthInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(clockSkewLeeway), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, ErrAuthInvalid
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrAuthInvalid
	}

	return Identity{Subject: claims.Subject, Role: claims.Role, CSRF: claims.CSRF}, nil
}

// NewNonce produces a random URL-safe value for the CSRF double-submit pair.
func NewNonce() (string, error) {
	buf := make([]byte, csrfNonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
