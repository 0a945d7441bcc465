package auth

import (
	"crypto/subtle"
	"net/http"
)

// Cookie and header names for the session/CSRF pair. The session cookie is
// HttpOnly; the CSRF cookie must stay script-readable so the client can echo
// its value in the header.
const (
	SessionCookieName = "access_token"
	CSRFCookieName    = "csrf_token"
	CSRFHeaderName    = "X-CSRF-Token"
)

// Credentials is the request metadata the gateway decides on. It is extracted
// once per request so verification is a pure function of (credentials, config)
// rather than of ambient transport state.
type Credentials struct {
	SessionToken string
	CSRFCookie   string
	CSRFHeader   string
}

// CredentialsFromRequest pulls the cookie pair and CSRF header off a request.
// Missing values are empty strings; validation happens later.
func CredentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{CSRFHeader: r.Header.Get(CSRFHeaderName)}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		creds.SessionToken = c.Value
	}
	if c, err := r.Cookie(CSRFCookieName); err == nil {
		creds.CSRFCookie = c.Value
	}
	return creds
}

// CheckPair enforces the double-submit half of the CSRF contract: cookie
// and header present and byte-for-byte equal. It needs no verified token,
// so it can run before any signature work.
func (c Credentials) CheckPair() error {
	if c.CSRFCookie == "" || c.CSRFHeader == "" {
		return ErrCsrfMismatch
	}
	if subtle.ConstantTimeCompare([]byte(c.CSRFCookie), []byte(c.CSRFHeader)) != 1 {
		return ErrCsrfMismatch
	}
	return nil
}

// CheckCSRF enforces the full contract: the double-submit pair plus the
// nonce embedded in the verified session token.
func (c Credentials) CheckCSRF(id Identity) error {
	if err := c.CheckPair(); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(c.CSRFCookie), []byte(id.CSRF)) != 1 {
		return ErrCsrfMismatch
	}
	return nil
}
