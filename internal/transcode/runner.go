// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/procgroup"
)

// Process is a running encoder. Done closes once the process has exited;
// ExitErr is valid after that.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitErr() error
	Terminate(grace time.Duration) error
}

// Runner spawns encoder processes.
type Runner interface {
	// Preflight reports whether accel can be used at all.
	Preflight(ctx context.Context, accel HWAccel) error
	// Start launches a long-running encoder inside dir. The process is not
	// bound to ctx; it lives until it exits or is terminated.
	Start(ctx context.Context, dir string, args []string) (Process, error)
	// Run executes a short-lived command to completion.
	Run(ctx context.Context, args []string) error
}

// ErrBinaryMissing is returned by Preflight when ffmpeg cannot be found.
var ErrBinaryMissing = errors.New("encoder binary not found")

// ExecRunner runs ffmpeg as a subprocess in its own process group.
type ExecRunner struct {
	Bin         string
	VAAPIDevice string
	Logger      zerolog.Logger

	mu       sync.Mutex
	resolved string
	encoders string
	checked  map[HWAccel]error
}

// NewExecRunner returns a runner for the given ffmpeg binary.
func NewExecRunner(bin, vaapiDevice string) *ExecRunner {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ExecRunner{
		Bin:         bin,
		VAAPIDevice: vaapiDevice,
		Logger:      xglog.WithComponent("ffmpeg"),
		checked:     make(map[HWAccel]error),
	}
}

// Preflight resolves the binary and, for hardware encoders, verifies the
// encoder is compiled in. VAAPI additionally runs a 5-frame test encode.
// Results are cached for the life of the runner.
func (r *ExecRunner) Preflight(ctx context.Context, accel HWAccel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.checked[accel]; ok {
		return err
	}
	err := r.preflightLocked(ctx, accel)
	r.checked[accel] = err
	if err != nil {
		r.Logger.Warn().Err(err).Str(xglog.FieldHWAccel, string(accel)).Msg("encoder preflight failed")
	} else {
		r.Logger.Info().Str(xglog.FieldHWAccel, string(accel)).Msg("encoder preflight passed")
	}
	return err
}

func (r *ExecRunner) preflightLocked(ctx context.Context, accel HWAccel) error {
	if r.resolved == "" {
		path, err := exec.LookPath(r.Bin)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBinaryMissing, r.Bin, err)
		}
		r.resolved = path
	}
	if !accel.Hardware() {
		return nil
	}

	if r.encoders == "" {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		// #nosec G204 -- binary is trusted from config
		out, err := exec.CommandContext(ctx, r.resolved, "-hide_banner", "-encoders").Output()
		if err != nil {
			return fmt.Errorf("ffmpeg -encoders failed: %w", err)
		}
		r.encoders = string(out)
	}
	if !strings.Contains(r.encoders, accel.Encoder()) {
		return fmt.Errorf("encoder %s not in ffmpeg build", accel.Encoder())
	}
	if accel == HWVAAPI {
		return r.testVAAPI(ctx)
	}
	return nil
}

func (r *ExecRunner) testVAAPI(ctx context.Context) error {
	if r.VAAPIDevice == "" {
		return errors.New("vaapi device not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// #nosec G204 -- binary and device are trusted from config
	cmd := exec.CommandContext(ctx, r.resolved,
		"-hide_banner",
		"-vaapi_device", r.VAAPIDevice,
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=1280x720:rate=25",
		"-vf", "format=nv12,hwupload",
		"-c:v", HWVAAPI.Encoder(),
		"-frames:v", "5",
		"-f", "null", "-",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("vaapi test encode failed: %w (output: %s)", err, truncate(string(out), 512))
	}
	return nil
}

func (r *ExecRunner) bin() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved != "" {
		return r.resolved
	}
	return r.Bin
}

func (r *ExecRunner) Start(_ context.Context, dir string, args []string) (Process, error) {
	// #nosec G204 -- binary is trusted from config; args are built by BuildArgs
	cmd := exec.Command(r.bin(), args...)
	cmd.Dir = dir
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start failed: %w", err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{}), tail: newTail(20)}
	logger := r.Logger.With().Int(xglog.FieldPID, cmd.Process.Pid).Str(xglog.FieldOutputDir, dir).Logger()
	go p.wait(stderr, logger)
	return p, nil
}

func (r *ExecRunner) Run(ctx context.Context, args []string) error {
	// #nosec G204 -- binary is trusted from config; args are built by this package
	cmd := exec.CommandContext(ctx, r.bin(), args...)
	procgroup.Set(cmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, truncate(string(out), 512))
	}
	return nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	tail *tail
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) ExitErr() error        { return p.err }

func (p *execProcess) wait(stderr io.Reader, logger zerolog.Logger) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		p.tail.add(line)
		logger.Debug().Str("line", line).Msg("ffmpeg")
	}
	err := p.cmd.Wait()
	if err != nil {
		if last := p.tail.String(); last != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, truncate(last, 1024))
		}
	}
	p.err = err
	close(p.done)
}

// Terminate signals the process group and waits for exit.
func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return p.err
	default:
	}
	waitCh := make(chan error, 1)
	go func() {
		<-p.done
		waitCh <- p.err
	}()
	return procgroup.Terminate(p.cmd, waitCh, grace)
}

// tail keeps the last n stderr lines for error reports.
type tail struct {
	mu    sync.Mutex
	lines []string
	n     int
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
