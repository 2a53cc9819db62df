package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the rate-limit key from a request. Empty keys bypass the
// limiter.
type KeyFunc func(*http.Request) string

// ByRemoteAddr keys on the client's remote address.
func ByRemoteAddr(r *http.Request) string {
	return r.RemoteAddr
}

// Middleware enforces the limiter on every request, answering 429 with
// standard RateLimit headers when the window is exhausted. Store errors fail
// open: a broken counting backend must not take the billing API down.
func Middleware(limiter *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), k)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(result.ResetAt).Seconds())+1, 10))
				http.Error(w, ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
