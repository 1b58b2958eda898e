// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Transcode.IdleGrace)
	assert.Equal(t, AnchorPreserve, cfg.Channels.AnchorStrategy)
	assert.Equal(t, filepath.Join(cfg.DataDir, "transcode"), cfg.Transcode.OutputRoot)
	assert.Equal(t, filepath.Join(cfg.DataDir, "loopcast.db"), cfg.Database.Path)
	assert.Equal(t, "ffprobe", cfg.FFmpeg.FFprobeBin)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
dataDir: `+dir+`
logLevel: debug
transcode:
  hwaccel: nvenc
  maxJobs: 2
  idleGrace: 45s
channels:
  anchorStrategy: rebase
planner:
  platforms:
    roku: [h264]
auth:
  tokens:
    - token: abcdefghijklmnopqrstuvwxyz
      user: alice
`)

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nvenc", cfg.Transcode.HWAccel)
	assert.Equal(t, 2, cfg.Transcode.MaxJobs)
	assert.Equal(t, 45*time.Second, cfg.Transcode.IdleGrace)
	assert.Equal(t, AnchorRebase, cfg.Channels.AnchorStrategy)
	assert.Equal(t, []string{"h264"}, cfg.Planner.Platforms["roku"])
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "alice", cfg.Auth.Tokens[0].User)
	// untouched defaults survive
	assert.Equal(t, 5*time.Second, cfg.Transcode.KillGrace)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "dataDir: "+dir+"\ntranscode:\n  maxJobs: 2\n")

	t.Setenv(EnvMaxJobs, "7")
	t.Setenv(EnvAnchorStrategy, "REBASE")
	t.Setenv(EnvAPIToken, "env-token-0123456789")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Transcode.MaxJobs)
	assert.Equal(t, AnchorRebase, cfg.Channels.AnchorStrategy)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "admin", cfg.Auth.Tokens[0].User)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvMaxJobs, "lots")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Transcode.MaxJobs)
}

func TestLoad_StrictRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nbouquet: legacy\n")

	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\n---\ndataDir: /var\n")

	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	path := writeConfig(t, "")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Transcode.MaxJobs)
}

func TestResolveFFprobeBin(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(ffprobe, nil, 0o755))

	assert.Equal(t, "/opt/ffprobe", ResolveFFprobeBin("/opt/ffprobe", ffmpeg))
	assert.Equal(t, ffprobe, ResolveFFprobeBin("", ffmpeg))
	assert.Equal(t, "ffprobe", ResolveFFprobeBin("", "ffmpeg"))
	assert.Equal(t, "ffprobe", ResolveFFprobeBin("", filepath.Join(t.TempDir(), "ffmpeg")))
}
