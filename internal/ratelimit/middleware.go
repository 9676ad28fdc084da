package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/alecgard/teamspace/internal/auth"
)

// KeyFunc derives the bucket key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the first X-Forwarded-For hop, falling back to
// the connection's remote address.
func ByClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// ByUser keys requests by the authenticated user set by
// auth.MemberAuthMiddleware. Anonymous requests are not limited.
func ByUser(r *http.Request) string {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		return ""
	}
	return "user:" + u.ID
}

// Middleware returns an HTTP middleware that enforces rate limits using the
// provided Limiter, with buckets chosen by key.
//
// Rate-limit headers are always set on limited responses:
//
//	X-RateLimit-Limit: maximum requests allowed in the window
//	X-RateLimit-Remaining: tokens remaining in the current window
//	X-RateLimit-Reset: Unix timestamp when the bucket is fully replenished
//
// When the limit is exceeded the middleware responds with HTTP 429 and a JSON
// error body.
func Middleware(limiter *Limiter, key KeyFunc, onReject ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || limiter.Rate() <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(k) {
				setHeaders(w, limiter, k)
				for _, fn := range onReject {
					fn()
				}
				WriteLimited(w)
				return
			}

			setHeaders(w, limiter, k)
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, limiter *Limiter, key string) {
	limit, remaining, resetAt := limiter.Status(key)
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

// WriteLimited writes the standard 429 response.
func WriteLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    "rate_limited",
			"message": "Rate limit exceeded. Try again later.",
		},
	})
}
