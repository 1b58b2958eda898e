// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware attaches a request-scoped logger to the context and writes one
// access log line per request once the handler returns.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			l := WithContext(r.Context(), Base()).With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ctx := l.WithContext(r.Context())

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := l.Info()
			if status >= http.StatusInternalServerError {
				evt = l.Error()
			} else if status >= http.StatusBadRequest {
				evt = l.Warn()
			}
			evt.Str(FieldEvent, "request.handled").
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request handled")
		})
	}
}
