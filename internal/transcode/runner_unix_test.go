// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package transcode

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellRunner(t *testing.T) *ExecRunner {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return NewExecRunner(sh, "")
}

func TestExecRunner_PreflightMissingBinary(t *testing.T) {
	r := NewExecRunner("/nonexistent/ffmpeg-loopcast", "")
	err := r.Preflight(context.Background(), HWNone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryMissing))

	// cached
	assert.Equal(t, err, r.Preflight(context.Background(), HWNone))
}

func TestExecRunner_PreflightSoftware(t *testing.T) {
	r := shellRunner(t)
	require.NoError(t, r.Preflight(context.Background(), HWNone))
}

func TestExecRunner_StartCapturesStderrTail(t *testing.T) {
	r := shellRunner(t)
	p, err := r.Start(context.Background(), t.TempDir(), []string{"-c", "echo 'Invalid data found' >&2; exit 3"})
	require.NoError(t, err)
	assert.Positive(t, p.PID())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.Error(t, p.ExitErr())
	assert.Contains(t, p.ExitErr().Error(), "Invalid data found")
}

func TestExecRunner_StartRunsInDir(t *testing.T) {
	r := shellRunner(t)
	dir := t.TempDir()
	p, err := r.Start(context.Background(), dir, []string{"-c", "echo '#EXTM3U' > " + manifestName})
	require.NoError(t, err)
	<-p.Done()
	require.NoError(t, p.ExitErr())
	assert.FileExists(t, dir+"/"+manifestName)
}

func TestExecRunner_Terminate(t *testing.T) {
	r := shellRunner(t)
	p, err := r.Start(context.Background(), t.TempDir(), []string{"-c", "sleep 30"})
	require.NoError(t, err)

	_ = p.Terminate(2 * time.Second)
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("terminate did not stop the process")
	}
	// second call on an exited process returns immediately
	_ = p.Terminate(time.Second)
}

func TestExecRunner_RunError(t *testing.T) {
	r := shellRunner(t)
	err := r.Run(context.Background(), []string{"-c", "echo nope; exit 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestTail(t *testing.T) {
	tl := newTail(2)
	tl.add("a")
	tl.add("b")
	tl.add("c")
	assert.Equal(t, "b\nc", tl.String())
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
