// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth validates bearer tokens against the configured token table.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ManuGH/loopcast/internal/config"
	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/playback"
)

// ExtractToken returns the caller's token:
// 1. Authorization: Bearer <token>
// 2. Header: X-API-Token
// 3. Query: ?token= (if allowQuery; HLS players cannot set headers on segment fetches)
func ExtractToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if t := r.Header.Get("X-API-Token"); t != "" {
		return t
	}
	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			return t
		}
	}
	return ""
}

// AuthorizeToken reports whether got matches expected in constant time.
// Empty tokens never match.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

type entry struct {
	token string
	user  string
}

// Validator checks tokens against a static table. The table can be swapped
// on config reload.
type Validator struct {
	entries atomic.Pointer[[]entry]
}

// NewValidator builds a Validator from the configured tokens.
func NewValidator(tokens []config.TokenConfig) *Validator {
	v := &Validator{}
	v.SetTokens(tokens)
	return v
}

// SetTokens replaces the token table.
func (v *Validator) SetTokens(tokens []config.TokenConfig) {
	next := make([]entry, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t.Token) == "" {
			continue
		}
		next = append(next, entry{token: t.Token, user: t.User})
	}
	v.entries.Store(&next)
}

// Len returns the number of active tokens.
func (v *Validator) Len() int { return len(*v.entries.Load()) }

// Validate resolves token to a user id. Every entry is compared so the
// time taken does not reveal which one matched.
func (v *Validator) Validate(ctx context.Context, token string) (string, error) {
	var match *entry
	entries := *v.entries.Load()
	for i := range entries {
		if AuthorizeToken(token, entries[i].token) && match == nil {
			match = &entries[i]
		}
	}
	if match == nil {
		logger := xglog.WithComponentFromContext(ctx, "auth")
		logger.Debug().
			Str(xglog.FieldEvent, "auth.rejected").
			Bool("token_present", token != "").
			Msg("token rejected")
		return "", playback.E(playback.ErrUnauthorized, "auth.validate", "", nil)
	}
	return NewPrincipal(match.token, match.user).ID, nil
}
