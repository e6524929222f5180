package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"cifleet/internal/logger"
)

// Logging copies chi's request id into the context logger and logs every
// completed request. Server errors log at error level, client errors at warn.
func Logging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := chimw.GetReqID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}
			ctx := logger.WithRequestID(r.Context(), requestID)
			reqLogger := logger.FromContext(ctx, base).With("method", r.Method, "path", r.URL.Path)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			defer func() {
				attrs := []any{
					"status", wrapped.statusCode,
					"duration_ms", time.Since(start).Milliseconds(),
					"bytes_written", wrapped.bytesWritten,
				}
				switch {
				case wrapped.statusCode >= 500:
					reqLogger.Error("request completed", attrs...)
				case wrapped.statusCode >= 400:
					reqLogger.Warn("request completed", attrs...)
				default:
					reqLogger.Info("request completed", attrs...)
				}
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

// responseWriter captures the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}
