package playback

import (
	"errors"
	"fmt"
)

// Common errors for playback operations.
var (
	// ErrTrackNotFound is returned for track ids not in the loaded queue.
	ErrTrackNotFound = errors.New("track not found")

	// ErrNoTracklist is returned when no timeline has been loaded.
	ErrNoTracklist = errors.New("no tracklist loaded")

	// ErrInvalidState is returned for operations that don't apply to the
	// current status, such as pausing while idle.
	ErrInvalidState = errors.New("invalid state for operation")
)

// PlaybackError reports an audio transport failure for a track.
type PlaybackError struct {
	TrackID string
	Op      string
	Err     error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s %s: %v", e.Op, e.TrackID, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
