// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/loopcast/internal/api/problem"
	"github.com/ManuGH/loopcast/internal/log"
)

const maxRequestIDLen = 128

// RequestID keeps a client supplied X-Request-ID or mints a new one, echoes
// it on the response and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(problem.HeaderRequestID)
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.New().String()
		}
		w.Header().Set(problem.HeaderRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), reqID)))
	})
}
