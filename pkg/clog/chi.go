package clog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlogChiMiddleware opens a log scope per request and logs its outcome at a
// level derived from the response status.
func SlogChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := WithAttributes(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"proto":  r.Proto,
			})
			next.ServeHTTP(ww, r.WithContext(ctx))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			AddAttributes(ctx, map[string]any{
				"status":        status,
				"bytes_written": ww.BytesWritten(),
				"duration":      time.Since(start),
			})
			HTTPStatusToLevel(status).Log(ctx, http.StatusText(status))
		})
	}
}
