package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/kuitang/shastra/internal/errs"
)

// KeyFunc picks the bucket for a request. An empty key is not limited.
type KeyFunc func(r *http.Request) (key string, class Class)

// RateLimitMiddleware answers 429 resource_exhausted once key's bucket is
// empty. Every response carries X-RateLimit-Remaining; rejections also carry
// Retry-After, the seconds until one token refills.
func RateLimitMiddleware(limiter *RateLimiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, class := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			b := limiter.GetLimiter(key, class)
			if !b.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(limiter.config.RuleFor(class))))
				w.Header().Set("X-RateLimit-Remaining", "0")
				errs.Write(w, errs.New(errs.ResourceExhausted, "too many requests"))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(b.Tokens()), 0)))
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(rule Rule) int {
	if rule.RPS <= 0 {
		return 1
	}
	return max(int(math.Ceil(1/rule.RPS)), 1)
}
