// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode owns encoder processes: one per (media, profile), shared
// by every viewer, evicted after an idle grace period.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/loopcast/internal/admission"
	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
	"github.com/ManuGH/loopcast/internal/profiles"
	"github.com/ManuGH/loopcast/internal/telemetry"
)

var (
	errStopped   = errors.New("stop requested")
	errExited    = errors.New("encoder exited")
	errNoSegment = errors.New("no segment produced")
)

// Options configures an Engine. Zero durations take defaults.
type Options struct {
	OutputRoot      string
	HWAccel         HWAccel
	VAAPIDevice     string
	SegmentSeconds  int
	IdleGrace       time.Duration
	KillGrace       time.Duration
	ReadyTimeout    time.Duration
	JanitorInterval time.Duration
	PollInterval    time.Duration
	AuxTimeout      time.Duration
}

func (o *Options) defaults() {
	if o.HWAccel == "" {
		o.HWAccel = HWNone
	}
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = 4
	}
	if o.IdleGrace <= 0 {
		o.IdleGrace = 30 * time.Second
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 5 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 30 * time.Second
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.AuxTimeout <= 0 {
		o.AuxTimeout = 2 * time.Minute
	}
}

// Engine is the job registry. The zero value is not usable; call NewEngine.
type Engine struct {
	opts      Options
	runner    Runner
	admission *admission.Controller
	instance  string
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	jobs     map[Key]*Job
	retiring map[Key]*Job // newest unregistered job per key whose directory is still being removed
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	aux singleflight.Group
}

// NewEngine prepares the output root, removes job directories left behind by
// a previous process and starts the idle janitor.
func NewEngine(opts Options, runner Runner, adm *admission.Controller) (*Engine, error) {
	opts.defaults()
	if opts.OutputRoot == "" {
		return nil, errors.New("transcode: output root is required")
	}
	if err := os.MkdirAll(opts.OutputRoot, 0o755); err != nil {
		return nil, playback.E(playback.ErrDiskWrite, "transcode.init", opts.OutputRoot, err)
	}
	if adm == nil {
		adm = admission.New(admission.Options{MaxJobs: 4})
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:      opts,
		runner:    runner,
		admission: adm,
		instance:  uuid.NewString(),
		logger:    xglog.WithComponent("transcode"),
		now:       time.Now,
		jobs:      make(map[Key]*Job),
		retiring:  make(map[Key]*Job),
		ctx:       ctx,
		cancel:    cancel,
	}

	removed, err := sweepStale(opts.OutputRoot, e.instance, e.logger)
	if err != nil {
		e.logger.Warn().Err(err).Msg("stale job sweep failed")
	} else if removed > 0 {
		e.logger.Info().Int("removed", removed).Msg("removed stale job directories")
	}

	e.wg.Add(1)
	go e.janitor()
	return e, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safeName keeps a media id usable as a single path element.
func safeName(id string) string {
	s := unsafeChars.ReplaceAllString(id, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func (e *Engine) mediaDir(mediaID string) string {
	return filepath.Join(e.opts.OutputRoot, safeName(mediaID))
}

func (e *Engine) jobDir(k Key) string {
	return filepath.Join(e.mediaDir(k.MediaID), k.Profile)
}

// accelOrder is the configured accelerator followed by the software
// fallback, so a hardware failure is retried in software exactly once.
func (e *Engine) accelOrder() []HWAccel {
	if e.opts.HWAccel.Hardware() {
		return []HWAccel{e.opts.HWAccel, HWNone}
	}
	return []HWAccel{HWNone}
}

// AcquireOptions shape the encoder of a job created by Acquire. A caller
// joining an existing job gets that job as it was started.
type AcquireOptions struct {
	AudioOnly bool
}

// AcquireOption adjusts AcquireOptions.
type AcquireOption func(*AcquireOptions)

// AudioOnly encodes just the first audio stream, for sources without video.
// Hardware acceleration does not apply.
func AudioOnly() AcquireOption {
	return func(o *AcquireOptions) { o.AudioOnly = true }
}

// Acquire returns a handle to the job for (mediaID, profile), creating and
// starting it when none exists, and waits until it is Ready. Unknown profile
// names fall back to the default profile.
func (e *Engine) Acquire(ctx context.Context, mediaID, sourcePath, profile string, opts ...AcquireOption) (h *Handle, err error) {
	var ao AcquireOptions
	for _, o := range opts {
		o(&ao)
	}
	prof, ok := profiles.Lookup(profile)
	if !ok {
		prof = profiles.MustLookup(profiles.Default)
	}
	key := Key{MediaID: mediaID, Profile: prof.Name}

	ctx, span := telemetry.StartSpan(ctx, "transcode.acquire",
		trace.WithAttributes(telemetry.TranscodeAttributes(mediaID, prof.Name)...))
	defer func() { telemetry.EndSpan(span, err) }()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		metrics.IncAcquire("rejected")
		return nil, playback.E(playback.ErrEncoderUnavailable, "transcode.acquire", key.String(), errors.New("engine closed"))
	}
	j, exists := e.jobs[key]
	if !exists {
		j = newJob(key, e.jobDir(key), e.now())
		j.prev = e.retiring[key]
		e.jobs[key] = j
		metrics.SetActiveJobs(len(e.jobs))
	}
	j.viewers.Add(1)
	j.touch(e.now())
	if !exists {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(j, sourcePath, prof, ao)
		}()
	}
	e.mu.Unlock()

	logger := xglog.WithContext(ctx, j.logger)
	logger.Debug().Bool("created", !exists).Int32(xglog.FieldViewers, j.viewers.Load()).Msg("acquire")

	select {
	case <-j.ready:
	case <-j.done:
	case <-ctx.Done():
		e.drop(j)
		metrics.IncAcquire("canceled")
		return nil, ctx.Err()
	}

	if ferr := j.failure(); ferr != nil {
		e.drop(j)
		metrics.IncAcquire("error")
		return nil, ferr
	}
	select {
	case <-j.ready:
	default:
		e.drop(j)
		metrics.IncAcquire("error")
		return nil, playback.E(playback.ErrEncoderUnavailable, "transcode.acquire", key.String(), errors.New("job stopped before ready"))
	}

	if exists {
		metrics.IncAcquire("joined")
	} else {
		metrics.IncAcquire("created")
	}
	return &Handle{engine: e, job: j}, nil
}

// drop removes one viewer and stamps the activity clock the idle grace
// period is measured from.
func (e *Engine) drop(j *Job) {
	if n := j.viewers.Add(-1); n < 0 {
		j.viewers.Store(0)
	}
	j.touch(e.now())
}

// run drives a job from Requested until it is Ready (then hands the process
// to monitor) or terminal. A retiring predecessor for the same key must have
// removed its directory before this job writes into it.
func (e *Engine) run(j *Job, source string, prof profiles.Profile, ao AcquireOptions) {
	slot, err := e.admission.TryAdmit(e.ctx)
	if err != nil {
		e.fail(j, err)
		return
	}
	j.mu.Lock()
	j.slot = slot
	j.mu.Unlock()

	if prev := j.predecessor(); prev != nil {
		select {
		case <-prev.cleaned:
			j.forgetPredecessor()
		case <-j.stopReq:
		case <-e.ctx.Done():
		}
	}

	if j.stopRequested() || !j.transition(playback.JobStarting) {
		j.finish(playback.JobStopped, nil)
		return
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		e.fail(j, playback.E(playback.ErrDiskWrite, "transcode.start", j.key.String(), err))
		return
	}

	accels := e.accelOrder()
	if ao.AudioOnly {
		accels = []HWAccel{HWNone}
	}
	var lastErr error
	for i, accel := range accels {
		if j.stopRequested() {
			j.finish(playback.JobStopped, nil)
			return
		}
		err := e.attempt(j, source, prof, accel, ao.AudioOnly)
		switch {
		case err == nil:
			return
		case errors.Is(err, errStopped):
			j.finish(playback.JobStopped, nil)
			return
		case errors.Is(err, playback.ErrDiskWrite):
			e.fail(j, err)
			return
		}
		lastErr = err
		if i < len(accels)-1 {
			metrics.IncHWFallback(string(accel))
			j.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "job.fallback").
				Str(xglog.FieldHWAccel, string(accel)).
				Msg("hardware encoder failed, falling back to software")
			clearDir(j.dir)
		}
	}

	kind := playback.ErrEncoderUnavailable
	if len(accels) == 1 && errors.Is(lastErr, errExited) {
		kind = playback.ErrEncoderCrashed
	}
	e.fail(j, playback.E(kind, "transcode.start", j.key.String(), lastErr))
}

// attempt spawns one encoder and waits for the first segment. A nil return
// means the job is Ready and owned by monitor.
func (e *Engine) attempt(j *Job, source string, prof profiles.Profile, accel HWAccel, audioOnly bool) error {
	if err := e.runner.Preflight(e.ctx, accel); err != nil {
		metrics.IncJobStart(string(accel), "error")
		return fmt.Errorf("preflight %s: %w", accel, err)
	}

	started := e.now()
	if err := writeMarker(j.dir, marker{
		Instance:   e.instance,
		Generation: j.generation,
		MediaID:    j.key.MediaID,
		Profile:    j.key.Profile,
		HWAccel:    string(accel),
		StartedAt:  started,
	}); err != nil {
		return playback.E(playback.ErrDiskWrite, "transcode.start", j.key.String(), err)
	}

	args := BuildArgs(ArgSpec{
		Source:         source,
		Profile:        prof,
		HWAccel:        accel,
		VAAPIDevice:    e.opts.VAAPIDevice,
		SegmentSeconds: e.opts.SegmentSeconds,
		AudioOnly:      audioOnly,
	})
	proc, err := e.runner.Start(e.ctx, j.dir, args)
	if err != nil {
		metrics.IncJobStart(string(accel), "error")
		return fmt.Errorf("spawn %s: %w", accel, err)
	}
	metrics.IncJobStart(string(accel), "ok")

	if !j.attach(proc, accel) {
		_ = proc.Terminate(e.opts.KillGrace)
		return errStopped
	}
	j.transition(playback.JobRunning)
	j.logger.Info().
		Str(xglog.FieldEvent, "job.start").
		Int(xglog.FieldPID, proc.PID()).
		Str(xglog.FieldHWAccel, string(accel)).
		Str(xglog.FieldEncoder, accel.Encoder()).
		Msg("encoder started")

	watchCtx, cancel := context.WithCancel(e.ctx)
	ready, stopped := watchManifest(watchCtx, j.dir, j.manifest, e.opts.PollInterval, j.logger)
	defer func() {
		cancel()
		<-stopped
	}()
	timer := time.NewTimer(e.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-proc.Done():
		if !manifestReady(j.manifest) {
			return fmt.Errorf("%w before first segment: %v", errExited, exitDesc(proc.ExitErr()))
		}
	case <-j.stopReq:
		_ = proc.Terminate(e.opts.KillGrace)
		return errStopped
	case <-timer.C:
		_ = proc.Terminate(e.opts.KillGrace)
		return fmt.Errorf("%w within %s", errNoSegment, e.opts.ReadyTimeout)
	}

	if !j.markReady(e.now()) {
		_ = proc.Terminate(e.opts.KillGrace)
		return errStopped
	}
	elapsed := e.now().Sub(started)
	metrics.ObserveReady(string(accel), elapsed.Seconds())
	j.logger.Info().
		Str(xglog.FieldEvent, "job.ready").
		Str(xglog.FieldManifestPath, j.manifest).
		Dur("elapsed", elapsed).
		Msg("first segment available")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor(j, proc)
	}()
	return nil
}

// monitor owns a Ready job's process until it exits.
func (e *Engine) monitor(j *Job, proc Process) {
	select {
	case <-proc.Done():
	case <-j.stopReq:
		_ = proc.Terminate(e.opts.KillGrace)
	}

	exitErr := proc.ExitErr()
	switch {
	case j.stopRequested():
		j.finish(playback.JobStopped, nil)
	case exitErr == nil:
		j.finish(playback.JobStopped, nil)
		j.logger.Info().Str(xglog.FieldEvent, "job.completed").Msg("encoder finished, output kept until idle")
	default:
		e.fail(j, playback.E(playback.ErrEncoderCrashed, "transcode.run", j.key.String(), exitErr))
	}
}

// fail evicts j immediately so the next Acquire starts a fresh job. The
// directory is removed here only if j was still registered; otherwise the
// path that unregistered it owns the cleanup.
func (e *Engine) fail(j *Job, err error) {
	owned := e.remove(j, "failed")
	j.finish(playback.JobFailed, err)
	j.logger.Warn().Err(err).Str(xglog.FieldEvent, "job.failed").Msg("transcode job failed")
	if !owned {
		return
	}
	e.awaitPredecessor(j)
	clearDir(j.dir)
	_ = os.Remove(j.dir)
	e.cleaned(j)
}

// awaitPredecessor blocks until the job j replaced has removed its
// directory. Cleanups for one key therefore complete in registration order,
// and the newest retiring job being cleaned implies all older ones are.
func (e *Engine) awaitPredecessor(j *Job) {
	prev := j.predecessor()
	if prev == nil {
		return
	}
	select {
	case <-prev.cleaned:
		j.forgetPredecessor()
	case <-e.ctx.Done():
	}
}

// remove deletes j from the registry if it is still the registered job for
// its key.
func (e *Engine) remove(j *Job, cause string) bool {
	e.mu.Lock()
	cur, ok := e.jobs[j.key]
	removed := ok && cur == j
	if removed {
		delete(e.jobs, j.key)
		e.retiring[j.key] = j
	}
	n := len(e.jobs)
	e.mu.Unlock()

	j.mu.Lock()
	j.evicted = true
	j.mu.Unlock()
	if removed {
		metrics.IncEviction(cause)
		metrics.SetActiveJobs(n)
	}
	return removed
}

// stopAndClean stops an already unregistered job and deletes its output.
func (e *Engine) stopAndClean(j *Job, cause string) {
	j.requestStop()
	<-j.done
	e.awaitPredecessor(j)
	if err := os.RemoveAll(j.dir); err != nil {
		j.logger.Warn().Err(err).Msg("failed to remove job directory")
	}
	_ = os.Remove(filepath.Dir(j.dir)) // media dir, only if now empty
	e.cleaned(j)
	j.logger.Info().
		Str(xglog.FieldEvent, "job.evicted").
		Str("cause", cause).
		Msg("transcode job evicted")
}

// Stop terminates the job for (mediaID, profile) regardless of viewers.
func (e *Engine) Stop(mediaID, profile string) error {
	key := Key{MediaID: mediaID, Profile: normalizeProfile(profile)}
	e.mu.Lock()
	j, ok := e.jobs[key]
	e.mu.Unlock()
	if !ok {
		return playback.E(playback.ErrJobNotFound, "transcode.stop", key.String(), nil)
	}
	if e.remove(j, "stopped") {
		e.stopAndClean(j, "stopped")
	}
	return nil
}

// cleaned wakes a successor waiting for j's directory to disappear.
func (e *Engine) cleaned(j *Job) {
	e.mu.Lock()
	if e.retiring[j.key] == j {
		delete(e.retiring, j.key)
	}
	e.mu.Unlock()
	j.markCleaned()
}

func normalizeProfile(p string) string {
	if n := profiles.Normalize(p); n != "" {
		return n
	}
	return profiles.Default
}

func (e *Engine) janitor() {
	defer e.wg.Done()
	t := time.NewTicker(e.opts.JanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.evictIdle()
		}
	}
}

// evictIdle removes jobs with no viewers whose last activity is older than
// the idle grace. Selection and removal happen under one lock so a viewer
// joining concurrently either keeps the job or gets a fresh one.
func (e *Engine) evictIdle() int {
	now := e.now()
	e.mu.Lock()
	var idle []*Job
	for k, j := range e.jobs {
		if j.viewers.Load() > 0 || now.Sub(j.idleSince()) < e.opts.IdleGrace {
			continue
		}
		delete(e.jobs, k)
		e.retiring[k] = j
		idle = append(idle, j)
	}
	n := len(e.jobs)
	for _, j := range idle {
		e.wg.Add(1)
		go func(j *Job) {
			defer e.wg.Done()
			e.stopAndClean(j, "idle")
		}(j)
	}
	e.mu.Unlock()

	for _, j := range idle {
		j.mu.Lock()
		j.evicted = true
		j.mu.Unlock()
		metrics.IncEviction("idle")
	}
	if len(idle) > 0 {
		metrics.SetActiveJobs(n)
	}
	return len(idle)
}

// Segment resolves segment n of a registered job and counts as activity.
func (e *Engine) Segment(mediaID, profile string, n int) (string, error) {
	key := Key{MediaID: mediaID, Profile: normalizeProfile(profile)}
	e.mu.Lock()
	j, ok := e.jobs[key]
	e.mu.Unlock()
	if !ok {
		return "", playback.E(playback.ErrJobNotFound, "transcode.segment", key.String(), nil)
	}
	j.touch(e.now())
	return segmentPath(j, n)
}

func segmentPath(j *Job, n int) (string, error) {
	if n < 0 {
		return "", playback.E(playback.ErrJobNotFound, "transcode.segment", j.key.String(), fmt.Errorf("segment %d", n))
	}
	path := filepath.Join(j.dir, SegmentName(n))
	if _, err := os.Stat(path); err != nil {
		return "", playback.E(playback.ErrJobNotFound, "transcode.segment", j.key.String(), err)
	}
	return path, nil
}

// Jobs returns a snapshot of the registry, with encoder process stats when
// the process is alive.
func (e *Engine) Jobs(ctx context.Context) []JobInfo {
	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := j.info()
		if data, err := os.ReadFile(j.manifest); err == nil {
			info.Segments = len(manifestSegments(data))
		}
		if info.PID > 0 && !info.State.Terminal() {
			if st, err := sampleProcess(ctx, info.PID); err == nil {
				info.CPUPercent, info.RSSBytes = st.CPUPercent, st.RSSBytes
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].MediaID != out[b].MediaID {
			return out[a].MediaID < out[b].MediaID
		}
		return out[a].Profile < out[b].Profile
	})
	return out
}

// Close stops every job and waits for all engine goroutines, bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.jobs = make(map[Key]*Job)
	for _, j := range jobs {
		e.wg.Add(1)
		go func(j *Job) {
			defer e.wg.Done()
			e.stopAndClean(j, "shutdown")
		}(j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		j.evicted = true
		j.mu.Unlock()
		metrics.IncEviction("shutdown")
	}
	metrics.SetActiveJobs(0)
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		_ = os.RemoveAll(filepath.Join(dir, ent.Name()))
	}
}

func exitDesc(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// Handle is a viewer's reference to a job.
type Handle struct {
	engine *Engine
	job    *Job
	once   sync.Once
}

// Release gives the viewer slot back. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() { h.engine.drop(h.job) })
}

func (h *Handle) Key() Key                 { return h.job.key }
func (h *Handle) Generation() string       { return h.job.generation }
func (h *Handle) State() playback.JobState { return h.job.State() }
func (h *Handle) Dir() string              { return h.job.dir }

// Done is closed when the job has stopped or failed.
func (h *Handle) Done() <-chan struct{} { return h.job.done }

// Err reports a crash after Ready; nil while running or after a clean stop.
func (h *Handle) Err() error { return h.job.failure() }

// HWAccel is the accelerator actually in use.
func (h *Handle) HWAccel() HWAccel {
	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	return h.job.hwaccel
}

// PID of the encoder process; it identifies the job's process generation.
func (h *Handle) PID() int {
	if p := h.job.process(); p != nil {
		return p.PID()
	}
	return 0
}

// Manifest returns the playlist path, or ErrJobNotFound after eviction.
func (h *Handle) Manifest() (string, error) {
	if h.job.isEvicted() {
		return "", playback.E(playback.ErrJobNotFound, "transcode.manifest", h.job.key.String(), nil)
	}
	return h.job.manifest, nil
}

// Segment returns the path of segment n, or ErrJobNotFound after eviction or
// when the segment does not exist yet.
func (h *Handle) Segment(n int) (string, error) {
	if h.job.isEvicted() {
		return "", playback.E(playback.ErrJobNotFound, "transcode.segment", h.job.key.String(), nil)
	}
	h.job.touch(h.engine.now())
	return segmentPath(h.job, n)
}
