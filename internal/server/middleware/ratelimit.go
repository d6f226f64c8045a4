package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/Smart-Samurai/Krapi-sub010/internal/handler"
)

// LoginRateLimit limits login attempts per client IP to requestsPerMinute.
// A non-positive limit disables it.
func LoginRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByHeader limits requests by the value of headerName, such as
// X-API-Key. Requests without the header share the IP bucket.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return "h:" + v, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	handler.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
}

func passthrough(next http.Handler) http.Handler { return next }
