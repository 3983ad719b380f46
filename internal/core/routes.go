package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"regionwatch/internal/types"
)

const defaultRequestTimeout = 29 * time.Second

// MountRoutes registers the middleware chain and all routes.
//
// Ordering:
//  1. Recoverer       - outermost so every panic is caught.
//  2. ContextTimeout  - soft deadline for every handler.
//  3. RequestID       - correlation ID for logs and error bodies.
//  4. Observe         - request log line and API metrics.
//
// Only /v1 is behind TokenAuth; load balancers probe /health anonymously.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.Observe)

	s.router.Get("/health", s.HandleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.TokenAuth)
		r.Get("/jobs/{jobId}", s.HandleGetJob)
		r.Get("/regions/{regionId}/jobs", s.HandleListRegionJobs)
		r.Get("/regions/{regionId}/schedule", s.HandleGetSchedule)
	})
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses the X-Request-Id header or generates a new ID,
// stores it in the context and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
