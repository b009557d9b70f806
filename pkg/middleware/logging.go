package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/logging"
)

// RequestLogger returns middleware that logs HTTP requests at INFO level.
// Pass nil logger to disable logging (makes it optional/injectable).
// Query strings are sanitized before logging: search queries routinely
// contain names, emails, and phone numbers.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int("bytes", wrapped.bytesWritten),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if q := r.URL.Query().Get("q"); q != "" {
				fields = append(fields, zap.String("query", logging.SanitizeIdentifier(q)))
			}
			logger.Info("HTTP request", fields...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

// WriteHeader records the first status code and ignores later calls, so a
// handler bug cannot trigger net/http's superfluous-WriteHeader warning.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.headerWritten {
		return
	}
	rw.statusCode = code
	rw.headerWritten = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}
