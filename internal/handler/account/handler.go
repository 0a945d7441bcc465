package account

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/internal/config"
	"github.com/atlas-erp/advisor/backend/internal/middleware"
	"github.com/atlas-erp/advisor/backend/internal/store"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 8
)

// Handler serves login, registration and session lifecycle endpoints.
type Handler struct {
	store        store.Store
	codec        *auth.TokenCodec
	cfg          config.AuthConfig
	registration bool
}

// New creates the account handler.
func New(st store.Store, codec *auth.TokenCodec, cfg config.AuthConfig, registration bool) *Handler {
	return &Handler{store: st, codec: codec, cfg: cfg, registration: registration}
}

// RegisterRoutes mounts the public account endpoints. limit wraps a route
// with the admission budget of the named endpoint class.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(class string) func(http.Handler) http.Handler) {
	r.With(limit("login")).Post("/token", h.handleLogin)
	r.With(limit("register")).Post("/register", h.handleRegister)
	r.With(limit("logout")).Post("/logout", h.handleLogout)
}

// RegisterAuthenticatedRoutes mounts endpoints that require a verified
// session. secured wraps a route with the admission budget of the named
// class plus the authentication and CSRF checks.
func (h *Handler) RegisterAuthenticatedRoutes(r chi.Router, secured func(class string) func(http.Handler) http.Handler) {
	r.With(secured("me")).Get("/me", h.handleMe)
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		// Same response as a wrong password so usernames cannot be probed.
		utils.RespondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	if !auth.VerifyPassword(payload.Password, user.PasswordHash) {
		utils.RespondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	token, csrf, err := h.codec.Issue(user.Username, user.Role, h.cfg.TokenTTL)
	if err != nil {
		log.Printf("[account] token issue failed for user=%s: %v", user.Username, err)
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "could not establish session")
		return
	}

	h.setSessionCookies(w, token, csrf)
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"username": user.Username,
		"role":     user.Role,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.registration {
		utils.RespondError(w, http.StatusForbidden, "registration_disabled", "registration is disabled")
		return
	}

	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	username := strings.TrimSpace(payload.Username)
	if msg, ok := validateCredentials(username, payload.Password); !ok {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	hash, err := auth.HashPassword(payload.Password)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "could not register user")
		return
	}

	user, err := h.store.CreateUser(r.Context(), username, hash, "user")
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			utils.RespondError(w, http.StatusConflict, "user_exists", "username is already taken")
			return
		}
		log.Printf("[account] register failed for user=%s: %v", username, err)
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "could not register user")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"username": user.Username,
		"role":     user.Role,
	})
}

// handleLogout clears both cookies. Any session or CSRF material still on
// the request must form a matching double-submit pair, but an expired
// session token is fine: repeated logouts land in the same cookie-free
// state. A fully bare request has nothing to forge and succeeds outright.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	creds := auth.CredentialsFromRequest(r)
	if creds.SessionToken != "" || creds.CSRFCookie != "" || creds.CSRFHeader != "" {
		if err := creds.CheckPair(); err != nil {
			utils.RespondError(w, http.StatusForbidden, "csrf_mismatch", "csrf token missing or mismatched")
			return
		}
	}

	h.clearSessionCookies(w)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "auth_invalid", "authentication required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"username": identity.Subject,
		"role":     identity.Role,
	})
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, token, csrf string) {
	maxAge := int(h.cfg.TokenTTL.Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})

	// The CSRF cookie is intentionally script-readable: the client reads it
	// and echoes the value back in the X-CSRF-Token header.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookieName,
		Value:    csrf,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{auth.SessionCookieName, auth.CSRFCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   h.cfg.CookieDomain,
			MaxAge:   -1,
			HttpOnly: name == auth.SessionCookieName,
			Secure:   h.cfg.CookieSecure,
			SameSite: h.cfg.CookieSameSite,
		})
	}
}

func validateCredentials(username, password string) (string, bool) {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return "username must be between 3 and 64 characters", false
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return "username may only contain letters, digits, dots, dashes and underscores", false
		}
	}
	if len(password) < minPasswordLen {
		return "password must be at least 8 characters", false
	}
	return "", true
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == '_':
		return true
	}
	return false
}
