// Package playback drives narration of a track queue: one current track at
// a time, loaded from an audio source and played through a transport.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/internal/tracks"
)

// AudioSource resolves the audio for a piece of narration text.
// *synth.Service and the remote narrator client both satisfy it.
type AudioSource interface {
	GetOrSynthesize(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// Transport plays one clip at a time. It reports progress, completion and
// failures back through SetProgress, TrackEnded and TransportFailed (or
// their Clip variants for a ClipTransport), always from its own goroutines.
type Transport interface {
	Load(audio []byte) error
	Play() error
	Pause() error
	// Stop halts playback and rewinds to the start.
	Stop() error
	// SetVolume sets the effective output level in [0, 1].
	SetVolume(v float64)
}

// ClipTransport is a Transport that numbers the clips it plays. Events
// reported through the Clip methods for a number the transport has since
// retired are ignored.
type ClipTransport interface {
	Transport
	Clip() uint64
}

// State is a snapshot of the playback state.
type State struct {
	CurrentTrackID string
	Status         Status
	IsPlaying      bool
	IsLoading      bool
	CurrentTime    time.Duration
	Duration       time.Duration
	Progress       float64 // 0-100
	Volume         float64
	IsMuted        bool
	IsAutoPlayMode bool
	Source         synth.Source
	Err            error
}

// Options configures an Orchestrator.
type Options struct {
	// VoiceID and LanguageCode are sent with every audio request.
	VoiceID      string
	LanguageCode string

	Volume   float64
	AutoPlay bool

	// StaleAfter is how long authoritative progress may be missing before
	// the fallback time source is consulted.
	StaleAfter time.Duration
}

// Orchestrator is the playback state machine. All methods are safe for
// concurrent use and return without waiting for I/O.
type Orchestrator struct {
	mu sync.Mutex

	source    AudioSource
	transport Transport
	sm        *StateMachine
	queue     *tracks.Queue
	state     State
	opts      Options

	// token identifies the current request; results carrying an older
	// token are discarded
	token  uint64
	cancel context.CancelFunc
	fetch  sync.WaitGroup

	fallback     TimeSource
	lastProgress time.Time
	now          func() time.Time

	listeners map[int]func(State)
	nextID    int
}

// New returns an Orchestrator with an empty queue.
func New(source AudioSource, transport Transport, opts Options) *Orchestrator {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Second
	}
	o := &Orchestrator{
		source:    source,
		transport: transport,
		sm:        NewStateMachine(),
		opts:      opts,
		now:       time.Now,
		listeners: make(map[int]func(State)),
	}
	o.state = State{
		Volume:         clamp(opts.Volume),
		IsAutoPlayMode: opts.AutoPlay,
	}
	for _, s := range []Status{StatusIdle, StatusLoading, StatusPaused, StatusError} {
		o.sm.OnEnter(s, o.syncLocked)
	}
	o.sm.OnEnter(StatusPlaying, func() {
		// progress from before a pause or a previous clip is stale
		o.lastProgress = time.Time{}
		o.syncLocked()
	})
	transport.SetVolume(o.effectiveVolume())
	return o
}

// LoadTracklist builds the queue for a timeline and resets playback. Volume,
// mute and auto-play preferences are kept. Playback is not started.
func (o *Orchestrator) LoadTracklist(t *timeline.Timeline) error {
	if t == nil {
		return ErrNoTracklist
	}
	q := tracks.NewQueue(tracks.Build(t))

	o.mu.Lock()
	o.invalidateLocked()
	o.stopTransportLocked()
	o.sm.Reset()
	o.queue = q
	o.state = State{
		Volume:         o.state.Volume,
		IsMuted:        o.state.IsMuted,
		IsAutoPlayMode: o.state.IsAutoPlayMode,
	}
	o.syncLocked()
	o.mu.Unlock()

	log.Debug("tracklist loaded", "timeline", t.ID, "tracks", q.Len())
	o.notify()
	return nil
}

// PlayTrack makes id the current track and starts loading its audio. Asking
// for the current track while it is paused resumes it instead.
func (o *Orchestrator) PlayTrack(id string) error {
	o.mu.Lock()
	err := o.playLocked(id)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.notify()
	return nil
}

// must be called with the lock held
func (o *Orchestrator) playLocked(id string) error {
	track, ok := o.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	if id == o.state.CurrentTrackID && o.sm.Current() == StatusPaused {
		return o.resumeLocked()
	}

	o.invalidateLocked()
	o.stopTransportLocked()
	o.sm.Reset()
	o.sm.Transition(StatusLoading)

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	token := o.token

	o.state.CurrentTrackID = id
	o.state.CurrentTime = 0
	o.state.Duration = 0
	o.state.Progress = 0
	o.state.Source = ""
	o.state.Err = nil

	o.fetch.Add(1)
	go o.load(ctx, token, track)
	return nil
}

func (o *Orchestrator) load(ctx context.Context, token uint64, t tracks.Track) {
	defer o.fetch.Done()

	res, err := o.source.GetOrSynthesize(ctx, synth.Request{
		Text:         t.Text,
		VoiceID:      o.opts.VoiceID,
		LanguageCode: o.opts.LanguageCode,
	})

	o.mu.Lock()
	if token != o.token {
		o.mu.Unlock()
		log.Debug("discarding stale audio", "track", t.ID)
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	switch {
	case err != nil:
		o.failLocked(err)
	default:
		if lerr := o.transport.Load(res.Audio); lerr != nil {
			o.failLocked(&PlaybackError{TrackID: t.ID, Op: "load", Err: lerr})
			break
		}
		o.transport.SetVolume(o.effectiveVolume())
		if perr := o.transport.Play(); perr != nil {
			o.failLocked(&PlaybackError{TrackID: t.ID, Op: "play", Err: perr})
			break
		}
		o.state.Source = res.Source
		o.sm.Transition(StatusPlaying)
		log.Debug("playing track", "track", t.ID, "source", res.Source, "bytes", len(res.Audio))
	}
	o.mu.Unlock()
	o.notify()
}

// PauseTrack pauses the current track. It is only valid while playing.
func (o *Orchestrator) PauseTrack() error {
	o.mu.Lock()
	if o.sm.Current() != StatusPlaying {
		o.mu.Unlock()
		return ErrInvalidState
	}
	if err := o.transport.Pause(); err != nil {
		o.failLocked(&PlaybackError{TrackID: o.state.CurrentTrackID, Op: "pause", Err: err})
	} else {
		o.sm.Transition(StatusPaused)
	}
	o.mu.Unlock()
	o.notify()
	return nil
}

// Resume continues a paused track.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	err := o.resumeLocked()
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.notify()
	return nil
}

// must be called with the lock held
func (o *Orchestrator) resumeLocked() error {
	if o.sm.Current() != StatusPaused {
		return ErrInvalidState
	}
	if err := o.transport.Play(); err != nil {
		o.failLocked(&PlaybackError{TrackID: o.state.CurrentTrackID, Op: "resume", Err: err})
		return nil
	}
	o.sm.Transition(StatusPlaying)
	return nil
}

// TogglePause pauses while playing and resumes while paused.
func (o *Orchestrator) TogglePause() error {
	o.mu.Lock()
	status := o.sm.Current()
	o.mu.Unlock()

	if status == StatusPaused {
		return o.Resume()
	}
	return o.PauseTrack()
}

// StopTrack rewinds the current track and goes idle. The current track id
// is kept so playback can restart from the beginning.
func (o *Orchestrator) StopTrack() {
	o.mu.Lock()
	o.invalidateLocked()
	o.stopTransportLocked()
	o.sm.Reset()
	o.state.CurrentTime = 0
	o.state.Progress = 0
	o.state.Err = nil
	o.syncLocked()
	o.mu.Unlock()
	o.notify()
}

// SetProgress records the transport's position. It is the authoritative
// time source and is applied in call order.
func (o *Orchestrator) SetProgress(current, duration time.Duration) {
	o.mu.Lock()
	o.lastProgress = o.now()
	o.setProgressLocked(current, duration)
	o.mu.Unlock()
	o.notify()
}

// ClipProgress is SetProgress for an event the transport tagged with clip.
func (o *Orchestrator) ClipProgress(clip uint64, current, duration time.Duration) {
	o.mu.Lock()
	if !o.currentClipLocked(clip) {
		o.mu.Unlock()
		return
	}
	o.lastProgress = o.now()
	o.setProgressLocked(current, duration)
	o.mu.Unlock()
	o.notify()
}

// must be called with the lock held
func (o *Orchestrator) currentClipLocked(clip uint64) bool {
	ct, ok := o.transport.(ClipTransport)
	return !ok || ct.Clip() == clip
}

// must be called with the lock held
func (o *Orchestrator) setProgressLocked(current, duration time.Duration) {
	o.state.CurrentTime = current
	o.state.Duration = duration
	if duration > 0 {
		o.state.Progress = float64(current) / float64(duration) * 100
	} else {
		o.state.Progress = 0
	}
}

// NextTrack moves the selection to the track after the current one (the
// first track when nothing is selected). It returns false, leaving the state
// untouched, at the end of the queue.
func (o *Orchestrator) NextTrack() bool {
	return o.step(func(q *tracks.Queue, id string) (tracks.Track, bool) {
		if id == "" {
			return q.At(0)
		}
		return q.Next(id)
	})
}

// PreviousTrack moves the selection to the track before the current one.
func (o *Orchestrator) PreviousTrack() bool {
	return o.step(func(q *tracks.Queue, id string) (tracks.Track, bool) {
		return q.Previous(id)
	})
}

func (o *Orchestrator) step(pick func(*tracks.Queue, string) (tracks.Track, bool)) bool {
	o.mu.Lock()
	t, ok := pick(o.queue, o.state.CurrentTrackID)
	if !ok {
		o.mu.Unlock()
		return false
	}
	o.selectLocked(t.ID)
	o.mu.Unlock()
	o.notify()
	return true
}

// must be called with the lock held
func (o *Orchestrator) selectLocked(id string) {
	o.invalidateLocked()
	o.stopTransportLocked()
	o.sm.Reset()
	o.state.CurrentTrackID = id
	o.state.CurrentTime = 0
	o.state.Duration = 0
	o.state.Progress = 0
	o.state.Source = ""
	o.state.Err = nil
	o.syncLocked()
}

// TrackEnded is called by the transport when the current clip finished. In
// auto-play mode the next track starts; otherwise, or at the end of the
// queue, playback goes idle.
func (o *Orchestrator) TrackEnded() {
	o.mu.Lock()
	changed := o.endedLocked()
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

// ClipEnded is TrackEnded for the clip numbered clip. A clip that was
// replaced or stopped before the event arrived is ignored.
func (o *Orchestrator) ClipEnded(clip uint64) {
	o.mu.Lock()
	changed := o.currentClipLocked(clip) && o.endedLocked()
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

// must be called with the lock held
func (o *Orchestrator) endedLocked() bool {
	if o.sm.Current() != StatusPlaying {
		return false
	}

	if o.state.IsAutoPlayMode {
		if next, ok := o.queue.Next(o.state.CurrentTrackID); ok {
			_ = o.playLocked(next.ID)
			return true
		}
	}

	o.sm.Reset()
	o.setProgressLocked(o.state.Duration, o.state.Duration)
	o.syncLocked()
	return true
}

// TransportFailed is called by the transport when playback broke down.
func (o *Orchestrator) TransportFailed(err error) {
	o.mu.Lock()
	changed := o.transportFailedLocked(err)
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

// ClipFailed is TransportFailed for the clip numbered clip.
func (o *Orchestrator) ClipFailed(clip uint64, err error) {
	o.mu.Lock()
	changed := o.currentClipLocked(clip) && o.transportFailedLocked(err)
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

// must be called with the lock held
func (o *Orchestrator) transportFailedLocked(err error) bool {
	switch o.sm.Current() {
	case StatusPlaying, StatusPaused:
	default:
		return false
	}
	var perr *PlaybackError
	if !errors.As(err, &perr) {
		err = &PlaybackError{TrackID: o.state.CurrentTrackID, Op: "play", Err: err}
	}
	o.failLocked(err)
	return true
}

// GetTrackByProgressID resolves a visual anchor into its track.
func (o *Orchestrator) GetTrackByProgressID(progressID string) (tracks.Track, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.ByProgressID(progressID)
}

// SetVolume sets the volume, clamped to [0, 1]. Muting is unaffected.
func (o *Orchestrator) SetVolume(v float64) {
	o.mu.Lock()
	o.state.Volume = clamp(v)
	o.transport.SetVolume(o.effectiveVolume())
	o.mu.Unlock()
	o.notify()
}

// SetMuted mutes or unmutes without touching the stored volume.
func (o *Orchestrator) SetMuted(muted bool) {
	o.mu.Lock()
	o.state.IsMuted = muted
	o.transport.SetVolume(o.effectiveVolume())
	o.mu.Unlock()
	o.notify()
}

// SetAutoPlay turns auto-advance on or off.
func (o *Orchestrator) SetAutoPlay(on bool) {
	o.mu.Lock()
	o.state.IsAutoPlayMode = on
	o.mu.Unlock()
	o.notify()
}

// State returns a snapshot of the playback state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Queue returns the loaded queue, nil before LoadTracklist.
func (o *Orchestrator) Queue() *tracks.Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue
}

// CurrentTrack returns the current track, if any.
func (o *Orchestrator) CurrentTrack() (tracks.Track, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Get(o.state.CurrentTrackID)
}

// OnChange registers fn to receive a snapshot after every state change. The
// returned function unregisters it. Listeners run on the goroutine that
// caused the change and must not block.
func (o *Orchestrator) OnChange(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// Wait blocks until every in-flight audio request has returned.
func (o *Orchestrator) Wait() {
	o.fetch.Wait()
}

// Close abandons any in-flight request, stops the transport and waits for
// pending requests to return.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.invalidateLocked()
	o.stopTransportLocked()
	o.sm.Reset()
	o.syncLocked()
	o.mu.Unlock()
	o.fetch.Wait()
}

// must be called with the lock held
func (o *Orchestrator) invalidateLocked() {
	o.token++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// must be called with the lock held
func (o *Orchestrator) stopTransportLocked() {
	if err := o.transport.Stop(); err != nil {
		log.Debug("transport stop failed", "error", err)
	}
}

// must be called with the lock held
func (o *Orchestrator) failLocked(err error) {
	log.Warn("narration failed", "track", o.state.CurrentTrackID, "error", err)
	o.stopTransportLocked()
	o.state.Err = err
	o.sm.Transition(StatusError)
}

// syncLocked derives the status flags from the state machine. It runs on
// every transition.
func (o *Orchestrator) syncLocked() {
	s := o.sm.Current()
	o.state.Status = s
	o.state.IsLoading = s == StatusLoading
	o.state.IsPlaying = s == StatusPlaying
}

func (o *Orchestrator) effectiveVolume() float64 {
	if o.state.IsMuted {
		return 0
	}
	return o.state.Volume
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	snapshot := o.state
	fns := make([]func(State), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
