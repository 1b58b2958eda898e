// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns encoder processes in their own process group so
// that the whole tree can be signalled at once.
package procgroup

import (
	"os/exec"
	"time"

	"github.com/ManuGH/loopcast/internal/metrics"
)

// Set configures the command to start in a new process group.
// Must be called before cmd.Start for Signal to reach child processes.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate stops a process group: a polite signal first, a kill after grace.
// waitCh must deliver the result of cmd.Wait; Terminate consumes it and
// returns that result. Nil commands are a no-op.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	record("sigterm", signalTerm(cmd))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		record("sigkill", signalKill(cmd))
		return <-waitCh
	}
}

func record(signal string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTerminate(signal, "sent")
	case isGone(err):
		metrics.IncProcTerminate(signal, "esrch")
	default:
		metrics.IncProcTerminate(signal, "error")
	}
}
