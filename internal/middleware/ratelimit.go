package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ohmvision/camconnect/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  RateLimitConfig
}

type RateLimitConfig struct {
	GlobalIP ratelimit.LimitConfig `yaml:"global_ip"`
	// Detection endpoints launch real probes against cameras, so they get
	// a much tighter budget than plain reads.
	Probe ratelimit.LimitConfig `yaml:"probe"`
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// isProbePath matches endpoints whose handler probes camera networks.
func isProbePath(path string) bool {
	if strings.HasSuffix(path, "/auto-detect") || strings.HasSuffix(path, "/batch-test") {
		return true
	}
	return strings.HasSuffix(path, "/check-now") || strings.HasSuffix(path, "/reconnect")
}

func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipHash := m.limiter.HashIP(clientIP(r))

		key := fmt.Sprintf("rl:ip:%s", ipHash)
		cfg := m.config.GlobalIP
		if isProbePath(r.URL.Path) && m.config.Probe.Rate > 0 {
			key = fmt.Sprintf("rl:probe:%s", ipHash)
			cfg = m.config.Probe
		}

		decision, err := m.limiter.Check(r.Context(), key, cfg)
		if err != nil {
			// Fail open: losing Redis must not take detection down
			log.Printf("RateLimit: redis error, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
