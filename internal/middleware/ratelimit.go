package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/atlas-erp/advisor/backend/internal/ratelimit"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

// RateLimit admits requests against the named endpoint class, keyed by
// client address. Every response carries the usual X-RateLimit headers;
// rejected requests additionally get Retry-After.
func RateLimit(limiter *ratelimit.Limiter, class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Admit(class, clientAddr(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				seconds := int(result.RetryAfter().Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				utils.RespondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr relies on the RealIP middleware having rewritten RemoteAddr
// when the service sits behind a proxy.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
