// Package server provides shared middleware for the HTTP front-end.
package server

import (
	"net/http"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/FocuswithJustin/parseweb/internal/logging"
)

// SlowRequestThreshold is the duration above which TimingMiddleware logs a
// request at warn level. Parser round trips routinely take longer than a
// static file, so the threshold is generous.
var SlowRequestThreshold = 5 * time.Second

// AbsPath returns the absolute path of a file, or the original path if it fails.
func AbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// TimingMiddleware logs request duration for profiling.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		if duration > SlowRequestThreshold {
			logging.WarnContext(r.Context(), "slow_request",
				"method", r.Method, "path", r.URL.Path, "duration_ms", duration.Milliseconds())
		} else {
			logging.DebugContext(r.Context(), "request_timing",
				"method", r.Method, "path", r.URL.Path, "duration_ms", duration.Milliseconds())
		}
	})
}

// RecoverMiddleware turns a panic in any downstream handler into a generic
// 500 response. The panic value and stack are logged and never sent to the
// client.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.ErrorContext(r.Context(), "handler_panic",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(http.StatusText(http.StatusInternalServerError) + "\n"))
		}()
		next.ServeHTTP(w, r)
	})
}
