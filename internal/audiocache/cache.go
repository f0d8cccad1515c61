// Package audiocache stores synthesized narration audio keyed by the text
// and voice it was synthesized from. Entries are inserted lazily, upserted
// idempotently and never deleted by the synthesis path.
package audiocache

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// FormatMP3 is the only audio format produced by the synthesis providers.
const FormatMP3 = "mp3"

// Common errors for cache operations.
var (
	// ErrItemTooLarge is returned when an entry exceeds a store's capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCorrupted is returned when a stored entry can't be decoded.
	ErrCorrupted = errors.New("cache data corrupted")
)

// Key returns the content address of a (text, voice) pair: the hex MD5 of
// text + "_" + voiceID. MD5 is used for addressing only.
func Key(text, voiceID string) string {
	sum := md5.Sum([]byte(text + "_" + voiceID)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Entry is one cached piece of audio.
type Entry struct {
	Key       string
	VoiceID   string
	Audio     []byte
	Format    string
	CreatedAt time.Time
}

// Store is a key/value store for audio entries. Lookup reports a miss with
// ok == false and a nil error; Upsert replaces any existing entry.
type Store interface {
	Lookup(ctx context.Context, key string) (entry Entry, ok bool, err error)
	Upsert(ctx context.Context, entry Entry) error
}

// Stats holds cache performance metrics.
type Stats struct {
	Backend   string
	Capacity  int64
	Size      int64
	ItemCount int64
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// StatsReporter is implemented by stores that track usage.
type StatsReporter interface {
	Stats() Stats
}

func (s *Stats) computeHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// ReadError wraps a failed lookup. Callers treat it as a miss.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("audio cache read %s: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failed upsert. It is logged and never returned to
// whoever requested the audio.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audio cache write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// normalize fills the fields every store relies on.
func normalize(e Entry) Entry {
	if e.Format == "" {
		e.Format = FormatMP3
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return e
}
