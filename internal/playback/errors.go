// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Callers match with errors.Is.
var (
	ErrProbeFailed         = errors.New("probe failed")
	ErrUnsupportedSource   = errors.New("unsupported source")
	ErrEncoderUnavailable  = errors.New("encoder unavailable")
	ErrEncoderCrashed      = errors.New("encoder crashed")
	ErrDiskWrite           = errors.New("disk write error")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrMediaNotFound       = errors.New("media not found")
	ErrInvalidSchedule     = errors.New("invalid schedule")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrSubtitleUnavailable = errors.New("subtitle track unavailable")
)

// Error carries the failing operation alongside a sentinel kind.
type Error struct {
	Kind error  // one of the sentinels above
	Op   string // e.g. "probe", "transcode.start"
	Key  string // media id, channel id or job key, when known
	Err  error  // underlying cause, may be nil
}

// E builds an *Error. cause may be nil.
func E(kind error, op, key string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Key != "" {
		msg = fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind.Error(), e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel kind so errors.Is(err, ErrProbeFailed) works.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the sentinel kind of err, or nil when err is not classified.
func KindOf(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, k := range []error{
		ErrProbeFailed, ErrUnsupportedSource, ErrEncoderUnavailable, ErrEncoderCrashed,
		ErrDiskWrite, ErrChannelNotFound, ErrJobNotFound, ErrMediaNotFound,
		ErrInvalidSchedule, ErrUnauthorized, ErrForbidden, ErrSubtitleUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
