package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ipLimiter is a per-IP token bucket rate limiter.
type ipLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	rate        float64
	burst       float64
	lastCleanup time.Time
}

type tokenBucket struct {
	tokens    float64
	maxTokens float64
	lastTime  time.Time
}

func (b *tokenBucket) allow(rate float64) bool {
	now := time.Now()
	elapsed := now.Sub(b.lastTime).Seconds()
	b.lastTime = now
	b.tokens += elapsed * rate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// cleanupLocked drops buckets idle for ten minutes. It runs at most every
// five minutes, piggybacking on requests.
func (l *ipLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = now
	cutoff := now.Add(-10 * time.Minute)
	for ip, bucket := range l.buckets {
		if bucket.lastTime.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// rateLimitMiddleware limits each client IP to requestsPerMinute with a
// burst of a tenth of that. Zero disables limiting.
func rateLimitMiddleware(next http.Handler, requestsPerMinute int) http.Handler {
	if requestsPerMinute <= 0 {
		return next
	}
	burst := float64(requestsPerMinute) / 10
	if burst < 1 {
		burst = 1
	}
	limiter := &ipLimiter{
		buckets:     make(map[string]*tokenBucket),
		rate:        float64(requestsPerMinute) / 60,
		burst:       burst,
		lastCleanup: time.Now(),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip rate limiting for health checks
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ip := r.RemoteAddr
		if idx := strings.LastIndex(ip, ":"); idx != -1 {
			ip = ip[:idx]
		}

		now := time.Now()
		limiter.mu.Lock()
		limiter.cleanupLocked(now)
		bucket, exists := limiter.buckets[ip]
		if !exists {
			bucket = &tokenBucket{
				tokens:    limiter.burst,
				maxTokens: limiter.burst,
				lastTime:  now,
			}
			limiter.buckets[ip] = bucket
		}
		allowed := bucket.allow(limiter.rate)
		limiter.mu.Unlock()

		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware reads the allowed origins per request so a config reload
// applies without a restart. No origins means no CORS headers.
func corsMiddleware(next http.Handler, origins func() []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := origins()
		origin := r.Header.Get("Origin")
		allowed := ""
		wildcard := false
		for _, o := range allowedOrigins {
			if o == "*" {
				allowed = "*"
				wildcard = true
				break
			}
			if o == origin && origin != "" {
				allowed = origin
				break
			}
		}
		if allowed == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor")
		if !wildcard {
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
