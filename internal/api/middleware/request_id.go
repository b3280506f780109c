package middleware

import (
	"context"
	"net/http"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

const RequestIDHeader = "X-Request-ID"

type ctxKeyRequestID struct{}

// RequestID propagates the caller's request ID or mints a UUID v7 when absent.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = core.NewID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyRequestID{}).(string); ok {
		return id
	}
	return r.Header.Get(RequestIDHeader)
}
