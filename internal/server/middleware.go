// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for the chat ledger.
package server

import (
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// RESPONSE WRITER WRAPPER
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

// Chain composes middlewares so they execute in the order given.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RecoveryMiddleware turns handler panics into 500 responses instead of
// dropped connections.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
						r.Method, r.URL.Path, err, debug.Stack())
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request with status and duration.
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			logger.Printf("HTTP | %s %s | %d | %.3fs",
				r.Method, r.URL.Path, wrapped.statusCode, time.Since(start).Seconds())
		})
	}
}

// ============================================================================
// RATE LIMITING
// ============================================================================

// RateLimiter enforces a per-client-IP request rate using token buckets.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst per client IP.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients:  make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		lastSeen: make(map[string]time.Time),
	}
}

// DefaultRateLimiter allows 10 requests/second with a burst of 20.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(10, 20)
}

// Allow reports whether the client identified by ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.clients[ip]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[ip] = limiter
	}
	rl.lastSeen[ip] = time.Now()

	// Drop entries idle for an hour so the map cannot grow unbounded.
	if len(rl.clients) > 1024 {
		cutoff := time.Now().Add(-time.Hour)
		for addr, seen := range rl.lastSeen {
			if seen.Before(cutoff) {
				delete(rl.clients, addr)
				delete(rl.lastSeen, addr)
			}
		}
	}

	return limiter.Allow()
}

// RateLimitMiddleware returns 429 when a client exceeds the limit.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !rl.Allow(ip) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
