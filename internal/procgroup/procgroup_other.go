// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

func set(cmd *exec.Cmd) {}

// Only the root process can be reached on this platform.
func signalTerm(cmd *exec.Cmd) error { return cmd.Process.Signal(os.Interrupt) }
func signalKill(cmd *exec.Cmd) error { return cmd.Process.Kill() }

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
