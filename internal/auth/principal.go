// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// Principal is the authenticated caller.
type Principal struct {
	// ID is the user the token is bound to. Tokens configured without a
	// user get a stable id derived from the token hash.
	ID string
}

// NewPrincipal builds a Principal for token. user may be empty.
func NewPrincipal(token, user string) Principal {
	if user != "" {
		return Principal{ID: user}
	}
	// "t_" keeps derived ids apart from configured user names
	sum := sha256.Sum256([]byte(token))
	return Principal{ID: "t_" + hex.EncodeToString(sum[:])[:16]}
}
