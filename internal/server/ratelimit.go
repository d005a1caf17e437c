package server

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

// Normalized rate limit response headers.
const (
	headerLimitRequests     = "x-ratelimit-limit-requests"
	headerRemainingRequests = "x-ratelimit-remaining-requests"
)

// RateLimitMiddleware admits at most rps requests per second with bursts of
// burst, process-wide. Rejected requests get 429 with Retry-After. A
// non-positive rps disables limiting.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = int(math.Max(1, math.Ceil(rps)))
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)
		retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := limiter.Allow()

			h := w.Header()
			h.Set(headerLimitRequests, strconv.Itoa(burst))
			h.Set(headerRemainingRequests, strconv.Itoa(int(math.Max(0, limiter.Tokens()))))

			if !allowed {
				h.Set("Retry-After", retryAfter)
				writeError(w, r, domain.ErrRateLimit("too many prediction requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
