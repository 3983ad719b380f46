package core

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"regionwatch/internal/types"
)

// logParams maps route parameters onto the log keys used by the workers, so a
// job can be followed from dispatch to the API with one query.
var logParams = map[string]string{
	"jobId":    "job_id",
	"regionId": "region_id",
}

// Recoverer turns a panic into a 500 error envelope. It must wrap every other
// middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			s.Logger.ErrorContext(r.Context(), "panic recovered",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(rvr),
				"stack", string(debug.Stack()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		}()
		next.ServeHTTP(w, r)
	})
}

// Observe logs each request and records its count and latency against the
// route pattern, which keeps IDs out of metric dimensions.
func (s *Server) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.Int("bytes", ww.BytesWritten()),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
			for i, key := range rctx.URLParams.Keys {
				if logKey, ok := logParams[key]; ok && i < len(rctx.URLParams.Values) {
					attrs = append(attrs, slog.String(logKey, rctx.URLParams.Values[i]))
				}
			}
		}
		if id := types.GetRequestID(r.Context()); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		s.Logger.LogAttrs(r.Context(), level, "request completed", attrs...)

		if s.Metrics != nil {
			s.Metrics.RecordRequest(r.Context(), r.Method, route, strconv.Itoa(status), elapsed)
		}
	})
}

// TokenAuth requires "Authorization: Bearer <token>" matching the configured
// API token. Without a configured token every request passes.
func (s *Server) TokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "missing or invalid bearer token", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
