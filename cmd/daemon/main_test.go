// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loopcast/internal/persistence/sqlite"
)

func TestStorageVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopcast.db")
	s, err := sqlite.New(path, sqlite.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runStorageVerify([]string{"--path", path, "--mode", "full"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "Integrity verified")

	stdout.Reset()
	stderr.Reset()
	assert.Equal(t, 2, runStorageVerify([]string{"--path", path, "--mode", "deep"}, &stdout, &stderr))
	assert.Equal(t, 2, runStorageVerify(nil, &stdout, &stderr))
	assert.Equal(t, 1, runStorageVerify([]string{"--path", filepath.Join(t.TempDir(), "missing.db")}, &stdout, &stderr))
}

func TestCheckHealth(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" && !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.Equal(t, 0, checkHealth(srv.URL, "live", time.Second))
	assert.Equal(t, 1, checkHealth(srv.URL, "ready", time.Second))
	ready.Store(true)
	assert.Equal(t, 0, checkHealth(srv.URL, "ready", time.Second))
}
