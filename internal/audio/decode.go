package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16-bit little endian stereo.
const (
	outputChannels = 2
	bytesPerFrame  = outputChannels * 2
)

// fallbackBitrate is used to estimate the length of clips that can't be
// decoded, in bytes per second (128 kbit/s).
const fallbackBitrate = 128_000 / 8

// ErrEmptyAudio is returned when asked to load an empty clip.
var ErrEmptyAudio = errors.New("audio data is empty")

// clip is a decoded clip. The PCM buffer is owned by the clip and stays
// referenced until playback is stopped.
type clip struct {
	pcm        []byte
	sampleRate int
	duration   time.Duration
}

type decodeFunc func([]byte) (*clip, error)

// decodeMP3 decodes a whole MP3 clip into PCM.
func decodeMP3(data []byte) (*clip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("failed to decode mp3: %w", ErrEmptyAudio)
	}
	return &clip{
		pcm:        pcm,
		sampleRate: dec.SampleRate(),
		duration:   pcmDuration(len(pcm), dec.SampleRate()),
	}, nil
}

// estimateClip decodes data when possible and otherwise estimates its length
// from a nominal bitrate. It never fails on non-empty input.
func estimateClip(data []byte) (*clip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if c, err := decodeMP3(data); err == nil {
		return c, nil
	}
	return &clip{
		duration: time.Duration(len(data)) * time.Second / fallbackBitrate,
	}, nil
}

func pcmDuration(size, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	frames := size / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
