package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// device creates sinks for PCM streams. *oto.Context backs the real one.
type device interface {
	NewPlayer(r io.Reader) sink
}

// sink is one playing stream. *oto.Player satisfies it.
type sink interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Err() error
	Close() error
}

type otoDevice struct {
	ctx *oto.Context
}

func (d otoDevice) NewPlayer(r io.Reader) sink {
	return d.ctx.NewPlayer(r)
}

type openFunc func(*oto.NewContextOptions) (device, chan struct{}, error)

func openOto(op *oto.NewContextOptions) (device, chan struct{}, error) {
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, nil, err
	}
	return otoDevice{ctx: ctx}, ready, nil
}

// SessionManager owns the audio context. oto allows a single context per
// process, so it is created at most once and shared by every Player.
type SessionManager struct {
	cfg  Config
	open openFunc

	mu     sync.Mutex
	dev    device
	ready  chan struct{}
	err    error
	opened bool
}

// NewSessionManager returns a manager that opens the device lazily.
func NewSessionManager(cfg Config) (*SessionManager, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SessionManager{cfg: cfg, open: openOto}, nil
}

// EnsureReady opens the audio context on first use and waits until it is
// ready. A failed open is remembered and returned on every later call.
// Cancelling ctx abandons the wait but not the context being opened.
func (m *SessionManager) EnsureReady(ctx context.Context) (device, error) {
	m.mu.Lock()
	if !m.opened {
		m.opened = true
		m.dev, m.ready, m.err = m.open(&oto.NewContextOptions{
			SampleRate:   m.cfg.SampleRate,
			ChannelCount: outputChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   m.cfg.BufferSize,
		})
		if m.err != nil {
			m.err = fmt.Errorf("failed to create audio context: %w", m.err)
			log.Warn("audio unavailable", "error", m.err)
		}
	}
	dev, ready, err := m.dev, m.ready, m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	select {
	case <-ready:
		return dev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SampleRate is the rate every clip must be encoded at.
func (m *SessionManager) SampleRate() int {
	return m.cfg.SampleRate
}

// Config contains configuration for audio playback.
type Config struct {
	SampleRate int           // 44100 or 48000 Hz only
	BufferSize time.Duration // device buffer; 0 lets oto choose
	// TickInterval is how often progress is reported while playing.
	TickInterval time.Duration
}

// DefaultConfig returns the default playback configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		BufferSize:   100 * time.Millisecond,
		TickInterval: 250 * time.Millisecond,
	}
}

func validateConfig(cfg Config) error {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.BufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative, got %s", cfg.BufferSize)
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", cfg.TickInterval)
	}
	return nil
}
