// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/loopcast/internal/admission"
	xglog "github.com/ManuGH/loopcast/internal/log"
	"github.com/ManuGH/loopcast/internal/metrics"
	"github.com/ManuGH/loopcast/internal/playback"
)

// Key is the dedupe identity of a job.
type Key struct {
	MediaID string
	Profile string
}

func (k Key) String() string { return k.MediaID + "/" + k.Profile }

// transitions lists the legal successor states.
var transitions = map[playback.JobState][]playback.JobState{
	playback.JobRequested: {playback.JobStarting, playback.JobStopping, playback.JobFailed},
	playback.JobStarting:  {playback.JobRunning, playback.JobStopping, playback.JobFailed},
	playback.JobRunning:   {playback.JobReady, playback.JobStopping, playback.JobStopped, playback.JobFailed},
	playback.JobReady:     {playback.JobStopping, playback.JobStopped, playback.JobFailed},
	playback.JobStopping:  {playback.JobStopped},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to playback.JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is owned by the Engine; callers only see it through a Handle.
type Job struct {
	key        Key
	generation string
	dir        string
	manifest   string
	createdAt  time.Time
	logger     zerolog.Logger

	viewers    atomic.Int32
	lastActive atomic.Int64 // unix nanos

	mu       sync.Mutex
	state    playback.JobState
	hwaccel  HWAccel
	proc     Process
	err      error
	readyAt  time.Time
	slot     *admission.Slot
	evicted  bool
	stopping bool
	prev     *Job // retiring job for the same key, nil once its directory is gone

	ready   chan struct{} // closed on Ready
	done    chan struct{} // closed on Stopped or Failed
	stopReq chan struct{} // closed when a stop is requested
	cleaned chan struct{} // closed once the output directory is gone
	once    struct{ ready, done, stop, clean sync.Once }
}

func newJob(key Key, dir string, now time.Time) *Job {
	gen := uuid.NewString()
	j := &Job{
		key:        key,
		generation: gen,
		dir:        dir,
		manifest:   filepath.Join(dir, manifestName),
		createdAt:  now,
		state:      playback.JobRequested,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		stopReq:    make(chan struct{}),
		cleaned:    make(chan struct{}),
	}
	j.logger = xglog.Derive(func(c *zerolog.Context) {
		*c = c.Str(xglog.FieldComponent, "transcode").
			Str(xglog.FieldJobID, gen).
			Str(xglog.FieldMediaID, key.MediaID).
			Str(xglog.FieldProfile, key.Profile)
	})
	j.touch(now)
	metrics.IncJobTransition(string(playback.JobRequested))
	return j
}

func (j *Job) predecessor() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.prev
}

func (j *Job) forgetPredecessor() {
	j.mu.Lock()
	j.prev = nil
	j.mu.Unlock()
}

// State returns the current lifecycle state.
func (j *Job) State() playback.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) touch(now time.Time) { j.lastActive.Store(now.UnixNano()) }

func (j *Job) idleSince() time.Time { return time.Unix(0, j.lastActive.Load()) }

// transition applies to if the table allows it. Illegal edges are logged and
// ignored.
func (j *Job) transition(to playback.JobState) bool {
	j.mu.Lock()
	from := j.state
	ok := CanTransition(from, to)
	if ok {
		j.state = to
	}
	j.mu.Unlock()

	if !ok {
		j.logger.Warn().
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Msg("rejected illegal job transition")
		return false
	}
	metrics.IncJobTransition(string(to))
	j.logger.Debug().
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Msg("job transition")
	return true
}

// attach records the spawned process unless a stop already started; the
// caller terminates the process itself when attach returns false.
func (j *Job) attach(p Process, accel HWAccel) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopping {
		return false
	}
	j.proc = p
	j.hwaccel = accel
	return true
}

func (j *Job) process() Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.proc
}

func (j *Job) markReady(now time.Time) bool {
	if !j.transition(playback.JobReady) {
		return false
	}
	j.mu.Lock()
	j.readyAt = now
	j.mu.Unlock()
	j.once.ready.Do(func() { close(j.ready) })
	return true
}

// finish moves the job to a terminal state exactly once, releases its
// admission slot and wakes every waiter.
func (j *Job) finish(state playback.JobState, err error) {
	j.once.done.Do(func() {
		j.mu.Lock()
		if j.stopping {
			state, err = playback.JobStopped, nil
		}
		j.mu.Unlock()
		j.transition(state)

		j.mu.Lock()
		if err != nil && j.err == nil {
			j.err = err
		}
		slot := j.slot
		j.slot = nil
		j.mu.Unlock()
		slot.Release()
		close(j.done)
	})
}

// requestStop marks the job as stopping. The goroutine that owns the
// process notices stopReq, terminates it and finishes the job.
func (j *Job) requestStop() {
	j.once.stop.Do(func() { close(j.stopReq) })
	j.mu.Lock()
	already := j.stopping
	j.stopping = true
	j.mu.Unlock()
	if !already && !j.State().Terminal() {
		j.transition(playback.JobStopping)
	}
}

func (j *Job) markCleaned() { j.once.clean.Do(func() { close(j.cleaned) }) }

func (j *Job) stopRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopping
}

func (j *Job) failure() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) isEvicted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.evicted
}

// JobInfo is a diagnostic snapshot of one job.
type JobInfo struct {
	MediaID    string            `json:"media_id"`
	Profile    string            `json:"profile"`
	Generation string            `json:"generation"`
	State      playback.JobState `json:"state"`
	HWAccel    string            `json:"hwaccel,omitempty"`
	Viewers    int               `json:"viewers"`
	PID        int               `json:"pid,omitempty"`
	Dir        string            `json:"dir"`
	Segments   int               `json:"segments"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadyAt    *time.Time        `json:"ready_at,omitempty"`
	LastActive time.Time         `json:"last_active"`
	CPUPercent float64           `json:"cpu_percent,omitempty"`
	RSSBytes   uint64            `json:"rss_bytes,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (j *Job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	ji := JobInfo{
		MediaID:    j.key.MediaID,
		Profile:    j.key.Profile,
		Generation: j.generation,
		State:      j.state,
		HWAccel:    string(j.hwaccel),
		Viewers:    int(j.viewers.Load()),
		Dir:        j.dir,
		CreatedAt:  j.createdAt,
		LastActive: time.Unix(0, j.lastActive.Load()),
	}
	if j.proc != nil {
		ji.PID = j.proc.PID()
	}
	if !j.readyAt.IsZero() {
		t := j.readyAt
		ji.ReadyAt = &t
	}
	if j.err != nil {
		ji.Error = j.err.Error()
	}
	return ji
}
