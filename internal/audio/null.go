package audio

import "io"

// NewNullPlayer returns a player that keeps time without a sound device.
// Clips that can't be decoded are timed from their size, so it also works
// with placeholder audio.
func NewNullPlayer(cb Callbacks) *Player {
	p := newPlayer(nullDevice{}, estimateClip, cb)
	p.start()
	return p
}

type nullDevice struct{}

func (nullDevice) NewPlayer(io.Reader) sink { return &nullSink{} }

// nullSink never drains on its own; the player's clock ends the clip.
type nullSink struct {
	playing bool
}

func (s *nullSink) Play()             { s.playing = true }
func (s *nullSink) Pause()            { s.playing = false }
func (s *nullSink) IsPlaying() bool   { return s.playing }
func (s *nullSink) SetVolume(float64) {}
func (s *nullSink) Err() error        { return nil }

func (s *nullSink) Close() error {
	s.playing = false
	return nil
}
