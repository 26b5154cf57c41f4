package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
)

// RateLimitConfig holds the limit of one endpoint family.
type RateLimitConfig struct {
	Name     string
	Requests int
	Window   time.Duration
}

// RateLimit creates an IP-based limiter answering 429 with the standard error body.
// A non-positive Requests disables limiting.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		return NoRateLimit()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if logger, ok := platformlogging.FromContext(r.Context()); ok {
				logger.Warn("rate limit exceeded",
					zap.String("limiter", cfg.Name),
					zap.String("ip", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()),
				)
			}
			httpx.WriteProblem(w, httpx.RateLimited())
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}
