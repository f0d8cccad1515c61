// Package synth turns narration text into MP3 audio exactly once per
// (text, voice) pair: it consults the audio cache, falls back to a speech
// provider and populates the cache in the background.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Source tells where a piece of audio came from.
type Source string

const (
	// SourceCache means the audio was found in the cache.
	SourceCache Source = "cache"
	// SourceSynthesized means a provider produced the audio for this request.
	SourceSynthesized Source = "synthesized"
)

// Common errors.
var (
	// ErrEmptyText rejects requests whose text is empty or whitespace.
	ErrEmptyText = errors.New("text is required")

	// ErrEmptyAudio is reported when a provider returns no audio bytes.
	ErrEmptyAudio = errors.New("provider returned no audio")
)

// VoiceSettings are the quality parameters sent with every synthesis
// request. They are static configuration and are not part of the cache key.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns the settings used when none are configured.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0,
		UseSpeakerBoost: true,
	}
}

// Provider is a remote speech synthesis service.
type Provider interface {
	// Name identifies the provider in errors and logs.
	Name() string

	// Stream starts synthesizing text with the given voice and returns the
	// MP3 byte stream. The stream must be closed by the caller.
	Stream(ctx context.Context, text, voiceID string, settings VoiceSettings) (io.ReadCloser, error)
}

// Request asks for the audio of a piece of text.
type Request struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voiceId,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// Result is the audio for a request.
type Result struct {
	Audio   []byte
	Format  string
	Key     string
	VoiceID string
	Source  Source
}

// SynthesisError reports a provider failure, carrying the provider's
// message.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s synthesis failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
