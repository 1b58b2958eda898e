// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"

	"github.com/ManuGH/loopcast/internal/auth"
	"github.com/ManuGH/loopcast/internal/log"
)

type userKey struct{}

// authenticate resolves the bearer token to a user id and stores it in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r, s.opts.AllowQueryToken)
		user, err := s.deps.Auth.Validate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="loopcast"`)
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = log.ContextWithUserID(ctx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}
