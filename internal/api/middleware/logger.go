package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger logs every request through the global zap logger. Probe endpoints
// are logged at debug level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := zapcore.InfoLevel
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			level = zapcore.DebugLevel
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if ce := zap.L().Check(level, "request"); ce != nil {
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r)),
			)
		}
	})
}
