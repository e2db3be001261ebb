package player

import (
	"errors"
	"strings"
)

var (
	ErrNotPlaying       = errors.New("nothing is playing")
	ErrNothingToSkip    = errors.New("nothing to skip")
	ErrNoHistory        = errors.New("no previous track")
	ErrNothingToShuffle = errors.New("nothing to shuffle")
	ErrNothingToClear   = errors.New("nothing to clear")
	ErrSeekUnavailable  = errors.New("seeking is not available for this track")
	ErrNotInVoice       = errors.New("not connected to a voice channel")
	ErrUserNotInVoice   = errors.New("requester is not in a voice channel")
	ErrAlreadyJoined    = errors.New("already in that voice channel")
	ErrBusy             = errors.New("player is busy")
	ErrRoomClosed       = errors.New("room closed")

	// ErrPrematureClose marks a stream that stopped early after it had
	// already produced audio. Rooms treat it as a normal end.
	ErrPrematureClose = errors.New("premature close")
)

type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassRestricted
)

var restrictedMarkers = []string{
	"sign in to confirm your age",
	"unrecoverableerror",
	"age-restricted",
	"private video",
	"video unavailable",
	"drm",
	"members-only",
}

// Classify decides whether a stream failure is caused by the content itself
// or by a transient problem.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())
	for _, m := range restrictedMarkers {
		if strings.Contains(msg, m) {
			return ClassRestricted
		}
	}
	return ClassTransient
}
