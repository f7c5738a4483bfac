package api

import (
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func recoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("PANIC serving %s %s: %v\n%s", r.Method, r.URL.Path, err, debug.Stack())
					writeError(w, http.StatusInternalServerError, codeInternal, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("%s %s - %d - %v - %s - %d bytes",
				r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), r.RemoteAddr, wrapped.written)
		})
	}
}

// rateLimitMiddleware sheds requests once the shared token bucket is empty.
func rateLimitMiddleware(limiter *safety.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.GetStats())))
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds is the whole seconds until the bucket holds one token again.
func retryAfterSeconds(stats safety.RateLimiterStats) int {
	if stats.RefillRate <= 0 {
		return 1
	}
	secs := int(math.Ceil((1 - stats.Tokens) / stats.RefillRate))
	if secs < 1 {
		return 1
	}
	return secs
}
