package middleware

import (
	"context"
	"net/http"

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the authenticated identity attached by Protect.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// Protect guards a route: on mutating methods the CSRF double-submit pair is
// checked before any signature work, then the session token is verified and
// the identity attached to the context, and finally the pair is correlated
// with the nonce inside the token. A missing or invalid token always yields
// the same 401 so token state cannot be probed.
func Protect(codec *auth.TokenCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := auth.CredentialsFromRequest(r)
			mutating := isMutating(r.Method)

			if mutating {
				if err := creds.CheckPair(); err != nil {
					utils.RespondError(w, http.StatusForbidden, "csrf_mismatch", "csrf token missing or mismatched")
					return
				}
			}

			identity, err := codec.Verify(creds.SessionToken)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "auth_invalid", "authentication required")
				return
			}

			if mutating {
				if err := creds.CheckCSRF(identity); err != nil {
					utils.RespondError(w, http.StatusForbidden, "csrf_mismatch", "csrf token missing or mismatched")
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
