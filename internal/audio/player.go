package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Common player errors.
var (
	ErrClosed   = errors.New("player is closed")
	ErrNoClip   = errors.New("no clip loaded")
	ErrMismatch = errors.New("clip sample rate does not match the audio context")
)

// PlayerState represents the current state of the player.
type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

// String returns the string representation of the state.
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks receive playback events for the clip numbered clip (see
// Player.Clip). They are invoked from the player's monitor goroutine, never
// while the player's lock is held, so an event may arrive after its clip was
// replaced.
type Callbacks struct {
	OnProgress func(clip uint64, current, duration time.Duration)
	OnEnded    func(clip uint64)
	OnError    func(clip uint64, err error)
}

// Player plays one clip at a time through a device. It satisfies
// playback.Transport.
type Player struct {
	mu sync.Mutex

	dev        device
	sampleRate int // 0 accepts any rate
	decode     decodeFunc
	cb         Callbacks
	now        func() time.Time
	interval   time.Duration

	clip   *clip
	clipID uint64 // bumped by Load and Stop
	sink   sink
	state  PlayerState
	volume float64

	// wall clock position tracking
	startTime  time.Time
	pausedAt   time.Duration
	pauseStart time.Time
	totalPause time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPlayer waits for the session's audio context and returns a player
// bound to it.
func NewPlayer(ctx context.Context, session *SessionManager, cb Callbacks) (*Player, error) {
	dev, err := session.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	p := newPlayer(dev, decodeMP3, cb)
	p.sampleRate = session.SampleRate()
	p.interval = session.cfg.TickInterval
	p.start()
	return p, nil
}

func newPlayer(dev device, decode decodeFunc, cb Callbacks) *Player {
	return &Player{
		dev:      dev,
		decode:   decode,
		cb:       cb,
		now:      time.Now,
		interval: DefaultConfig().TickInterval,
		volume:   1,
		done:     make(chan struct{}),
	}
}

func (p *Player) start() {
	p.wg.Add(1)
	go p.monitor()
}

// Load decodes a clip and makes it current, stopping whatever was playing.
func (p *Player) Load(audio []byte) error {
	c, err := p.decode(audio)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return ErrClosed
	}
	if p.sampleRate != 0 && c.sampleRate != 0 && c.sampleRate != p.sampleRate {
		return fmt.Errorf("%w: %d Hz, want %d Hz", ErrMismatch, c.sampleRate, p.sampleRate)
	}
	p.stopLocked()
	p.clip = c
	p.clipID++
	return nil
}

// Play starts the loaded clip from the beginning, or resumes it when
// paused.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		return ErrClosed
	case StatePlaying:
		return nil
	case StatePaused:
		p.sink.Play()
		p.totalPause += p.now().Sub(p.pauseStart)
		p.state = StatePlaying
		return nil
	}

	if p.clip == nil {
		return ErrNoClip
	}
	p.sink = p.dev.NewPlayer(bytes.NewReader(p.clip.pcm))
	p.sink.SetVolume(p.volume)
	p.sink.Play()

	p.startTime = p.now()
	p.pausedAt = 0
	p.totalPause = 0
	p.state = StatePlaying
	return nil
}

// Pause suspends playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", p.state)
	}
	p.sink.Pause()
	p.pausedAt = p.positionLocked()
	p.pauseStart = p.now()
	p.state = StatePaused
	return nil
}

// Stop halts playback and rewinds. The clip stays loaded.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return nil
	}
	p.stopLocked()
	p.clipID++
	return nil
}

func (p *Player) stopLocked() {
	if p.sink != nil {
		p.sink.Pause()
		if err := p.sink.Close(); err != nil {
			log.Debug("closing audio stream failed", "error", err)
		}
		p.sink = nil
	}
	p.pausedAt = 0
	p.totalPause = 0
	if p.state != StateClosed {
		p.state = StateStopped
	}
}

// SetVolume sets the output level, clamped to [0, 1].
func (p *Player) SetVolume(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	if p.sink != nil {
		p.sink.SetVolume(v)
	}
}

// Position returns the playback position and the clip duration.
func (p *Player) Position() (current, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked(), p.durationLocked()
}

// Clip numbers the clip events are currently reported for. It changes on
// every Load and Stop.
func (p *Player) Clip() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clipID
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close stops playback and the monitor goroutine.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.stopLocked()
	p.clip = nil
	p.state = StateClosed
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Player) positionLocked() time.Duration {
	switch p.state {
	case StatePlaying:
		elapsed := p.now().Sub(p.startTime) - p.totalPause
		if d := p.durationLocked(); elapsed > d {
			elapsed = d
		}
		return elapsed
	case StatePaused:
		return p.pausedAt
	default:
		return 0
	}
}

func (p *Player) durationLocked() time.Duration {
	if p.clip == nil {
		return 0
	}
	return p.clip.duration
}

func (p *Player) monitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll reports progress, the end of the clip or a device error for the
// playing clip.
func (p *Player) poll() {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}

	id := p.clipID
	current, duration := p.positionLocked(), p.durationLocked()
	if err := p.sink.Err(); err != nil {
		p.stopLocked()
		p.mu.Unlock()
		if p.cb.OnError != nil {
			p.cb.OnError(id, err)
		}
		return
	}

	ended := current >= duration || !p.sink.IsPlaying()
	if ended {
		p.stopLocked()
	}
	p.mu.Unlock()

	if p.cb.OnProgress != nil {
		p.cb.OnProgress(id, current, duration)
	}
	if ended && p.cb.OnEnded != nil {
		p.cb.OnEnded(id)
	}
}
