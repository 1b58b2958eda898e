// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fakeProc struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	mu         sync.Mutex
	err        error
	terminated bool
	hold       chan struct{} // when set, Terminate blocks until it is closed
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, done: make(chan struct{})}
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProc) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProc) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated = true
	hold := p.hold
	p.mu.Unlock()
	if hold != nil {
		<-hold
	}
	p.exit(errors.New("signal: terminated"))
	return p.ExitErr()
}

func (p *fakeProc) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// behavior decides what a spawned fake encoder does on start.
type behavior func(accel HWAccel, dir string, p *fakeProc)

func produceSegment(_ HWAccel, dir string, _ *fakeProc) {
	writeSegments(dir, 1)
}

func crashImmediately(_ HWAccel, _ string, p *fakeProc) {
	p.exit(errors.New("exit status 1"))
}

func hardwareCrashes(accel HWAccel, dir string, p *fakeProc) {
	if accel.Hardware() {
		crashImmediately(accel, dir, p)
		return
	}
	produceSegment(accel, dir, p)
}

func silent(HWAccel, string, *fakeProc) {}

func writeSegments(dir string, n int) {
	body := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n"
	for i := 0; i < n; i++ {
		_ = os.WriteFile(filepath.Join(dir, SegmentName(i)), []byte("ts"), 0o644)
		body += "#EXTINF:4.000000,\n" + SegmentName(i) + "\n"
	}
	_ = os.WriteFile(filepath.Join(dir, manifestName), []byte(body), 0o644)
}

type startCall struct {
	accel HWAccel
	dir   string
	args  []string
}

type fakeRunner struct {
	mu           sync.Mutex
	behave       behavior
	preflightErr map[HWAccel]error
	startErr     map[HWAccel]error
	starts       []startCall
	procs        []*fakeProc
	nextPID      int
	runs         int
	runFn        func(args []string) error
}

func newFakeRunner(b behavior) *fakeRunner {
	return &fakeRunner{behave: b, nextPID: 1000}
}

func (f *fakeRunner) Preflight(_ context.Context, accel HWAccel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preflightErr[accel]
}

func (f *fakeRunner) Start(_ context.Context, dir string, args []string) (Process, error) {
	accel := accelFromArgs(args)
	f.mu.Lock()
	f.starts = append(f.starts, startCall{accel: accel, dir: dir, args: args})
	if err := f.startErr[accel]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.nextPID++
	p := newFakeProc(f.nextPID)
	f.procs = append(f.procs, p)
	b := f.behave
	f.mu.Unlock()

	b(accel, dir, p)
	return p, nil
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.mu.Lock()
	f.runs++
	fn := f.runFn
	f.mu.Unlock()
	if fn != nil {
		return fn(args)
	}
	return os.WriteFile(args[len(args)-1], []byte("output"), 0o644)
}

func (f *fakeRunner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeRunner) accels() []HWAccel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HWAccel, 0, len(f.starts))
	for _, s := range f.starts {
		out = append(out, s.accel)
	}
	return out
}

func (f *fakeRunner) proc(i int) *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func accelFromArgs(args []string) HWAccel {
	enc := argValue(args, "-c:v")
	for _, a := range []HWAccel{HWVideoToolbox, HWNVENC, HWQSV, HWVAAPI} {
		if a.Encoder() == enc {
			return a
		}
	}
	return HWNone
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
