// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/loopcast/internal/log"
)

const (
	// HeaderRequestID carries the correlation id on requests and responses.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID is the problem body member holding the correlation id.
	JSONKeyRequestID = "request_id"
	// ContentType of every problem response.
	ContentType = "application/problem+json"
)

var reserved = map[string]bool{
	"type": true, "title": true, "status": true, "detail": true,
	"instance": true, "code": true, JSONKeyRequestID: true,
}

// Write writes a problem response.
//
//   - problemType: machine identifier, e.g. "stream/probe_failed"
//   - title: short human label, e.g. "Probe Failed"
//   - code: stable upper-case code, e.g. "PROBE_FAILED"
//   - detail: explanation of this occurrence, may be empty
//
// extra members are added at the top level; reserved names are dropped.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	reqID := ""
	instance := ""
	if r != nil {
		reqID = log.RequestIDFromContext(r.Context())
		instance = r.URL.EscapedPath()
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":   problemType,
		"title":  title,
		"status": status,
		"code":   code,
	}
	if reqID != "" {
		res[JSONKeyRequestID] = reqID
		w.Header().Set(HeaderRequestID, reqID)
	}
	if detail != "" {
		res["detail"] = detail
	}
	if instance != "" {
		res["instance"] = instance
	}
	for k, v := range extra {
		if reserved[k] {
			log.L().Warn().Str("key", k).Str("problem_type", problemType).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().Err(err).Str("type", problemType).Int("status", status).Msg("failed to encode problem response")
	}
}
