// Package http exposes the ledger as a JSON API. Identity is the explicit
// X-Owner-ID header; a protected sheet's PIN travels in X-Sheet-Pin.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gridbook/internal/cache"
	"gridbook/internal/core"
	"gridbook/internal/grid"
	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

const (
	headerOwnerID  = "X-Owner-ID"
	headerSheetPIN = "X-Sheet-Pin"
)

type Server struct {
	http.Server
	svc         *ledger.Service
	controller  *grid.Controller
	rateLimiter *rateLimiter
	log         *applog.Logger

	// Analytics responses are cached per (sheet, month) and invalidated
	// on every write to the sheet; singleflight collapses concurrent
	// recomputes of the same key.
	analyticsCache *cache.Cache[core.Analytics]
	analyticsGroup singleflight.Group

	shutdownOnce sync.Once
}

// Options tune the server's cache; zero values get defaults.
type Options struct {
	AnalyticsCacheSize int
	AnalyticsCacheTTL  time.Duration
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc *ledger.Service, controller *grid.Controller, logger *applog.Logger, opts Options) *Server {
	if opts.AnalyticsCacheSize <= 0 {
		opts.AnalyticsCacheSize = 128
	}
	if opts.AnalyticsCacheTTL <= 0 {
		opts.AnalyticsCacheTTL = 2 * time.Minute
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		svc:            svc,
		controller:     controller,
		rateLimiter:    newRateLimiter(),
		log:            logger.WithComponent(applog.ComponentHTTP),
		analyticsCache: cache.New[core.Analytics](opts.AnalyticsCacheSize, opts.AnalyticsCacheTTL),
	}

	mux.HandleFunc("POST /api/sheets", s.withMiddleware(s.handleCreateSheet))
	mux.HandleFunc("GET /api/sheets", s.withMiddleware(s.handleListSheets))
	mux.HandleFunc("DELETE /api/sheets/{sheetID}", s.withMiddleware(s.handleDeleteSheet))
	mux.HandleFunc("POST /api/sheets/{sheetID}/access", s.withMiddleware(s.handleCheckAccess))

	mux.HandleFunc("GET /api/sheets/{sheetID}/categories", s.withMiddleware(s.handleListCategories))
	mux.HandleFunc("POST /api/sheets/{sheetID}/categories", s.withMiddleware(s.handleCreateCategory))
	mux.HandleFunc("PUT /api/sheets/{sheetID}/categories", s.withMiddleware(s.handleRenameCategory))
	mux.HandleFunc("DELETE /api/sheets/{sheetID}/categories/{name}", s.withMiddleware(s.handleDeleteCategory))

	mux.HandleFunc("PUT /api/sheets/{sheetID}/cells", s.withMiddleware(s.handleEditCell))
	mux.HandleFunc("GET /api/sheets/{sheetID}/entries", s.withMiddleware(s.handleListEntries))
	mux.HandleFunc("GET /api/sheets/{sheetID}/analytics", s.withMiddleware(s.handleAnalytics))
	mux.HandleFunc("POST /api/sheets/{sheetID}/maintenance/dedup", s.withMiddleware(s.handleDedup))

	mux.HandleFunc("GET /api/entries/{entryID}", s.withMiddleware(s.handleGetEntry))
	mux.HandleFunc("DELETE /api/entries/{entryID}", s.withMiddleware(s.handleDeleteEntry))
	mux.HandleFunc("PUT /api/entries/{entryID}/annotations/{column}", s.withMiddleware(s.handleSetAnnotation))
	mux.HandleFunc("DELETE /api/entries/{entryID}/annotations/{column}", s.withMiddleware(s.handleClearAnnotation))
	mux.HandleFunc("GET /api/entries/{entryID}/annotations", s.withMiddleware(s.handleListAnnotations))

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	return s
}

// Shutdown stops the listener and the rate limiter's cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// withMiddleware adds security headers, rate limiting, request IDs and
// request logging around a handler.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		// Write traffic is rate limited per client; reads are not.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			s.log.WarnContext(ctx, "rate limit exceeded",
				applog.FieldRequestID, requestID,
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, retry later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.log.InfoContext(ctx, "request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Simple in-memory rate limiter: 60 non-GET requests per client per minute.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries idle for over 10 minutes.
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}

// ownerID extracts the caller identity header.
func ownerID(r *http.Request) string {
	return r.Header.Get(headerOwnerID)
}

// sheetPIN extracts the per-request PIN header; empty for open sheets.
func sheetPIN(r *http.Request) string {
	return r.Header.Get(headerSheetPIN)
}
