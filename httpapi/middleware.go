package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/operator/internal/kit"
)

type contextKey string

// loggerKey holds the per-request logger.
const loggerKey contextKey = "httpapi_logger"

// requestLog tags each request with a random id, exposes it as X-Request-ID
// and logs the request with its status and duration once served.
func requestLog(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			reqID := hex.EncodeToString(id)
			w.Header().Set("X-Request-ID", reqID)

			logger := base.With("request_id", reqID, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			ctx := kit.WithRequestID(r.Context(), reqID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = context.WithValue(ctx, loggerKey, logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			logger.Info("httpapi: request", "status", ww.Status(), "duration", time.Since(start))
		})
	}
}

// loggerFrom returns the per-request logger, or slog.Default.
func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// securityHeaders sets the headers every API response carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// maxBody caps request bodies.
func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
