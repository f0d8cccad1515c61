package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/speech"
)

// Defaults for Service.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

var errNoProvider = &SynthesisError{Provider: "none", Err: errors.New("no speech provider configured")}

// Service resolves narration audio: cache first, provider on a miss.
type Service struct {
	store    audiocache.Store
	provider Provider

	defaultVoice  string
	voices        VoiceTable
	settings      VoiceSettings
	timeout       time.Duration
	writeTimeout  time.Duration
	stripMarkdown bool
	onWriteError  func(error)

	group   singleflight.Group
	pending sync.WaitGroup
	stats   counters
}

type counters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	synthesized   atomic.Int64
	readFailures  atomic.Int64
	writeFailures atomic.Int64
}

// Stats summarises what a Service has done since it was created.
type Stats struct {
	CacheHits     int64
	CacheMisses   int64
	Synthesized   int64
	ReadFailures  int64
	WriteFailures int64
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultVoice sets the voice used when a request names neither a
// voice nor a mapped language.
func WithDefaultVoice(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.defaultVoice = id
		}
	}
}

// WithVoiceTable replaces the language to voice mapping.
func WithVoiceTable(t VoiceTable) Option {
	return func(s *Service) { s.voices = t }
}

// WithVoiceSettings sets the quality parameters sent to the provider.
func WithVoiceSettings(v VoiceSettings) Option {
	return func(s *Service) { s.settings = v }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithWriteTimeout bounds each background cache write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithStripMarkdown removes markdown markup before text is sent to the
// provider. The cache key is always computed on the request text.
func WithStripMarkdown(on bool) Option {
	return func(s *Service) { s.stripMarkdown = on }
}

// WithWriteErrorHandler receives every *audiocache.WriteError. It is called
// from the goroutine performing the write.
func WithWriteErrorHandler(fn func(error)) Option {
	return func(s *Service) { s.onWriteError = fn }
}

// New returns a Service. A nil store disables persistence by using an
// unbounded in-memory store.
func New(store audiocache.Store, provider Provider, opts ...Option) *Service {
	if store == nil {
		store = audiocache.NewMemoryStore(1 << 62)
	}
	s := &Service{
		store:        store,
		provider:     provider,
		defaultVoice: DefaultVoiceID,
		voices:       DefaultVoiceTable(),
		settings:     DefaultVoiceSettings(),
		timeout:      DefaultTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveVoice returns the voice id a request will be synthesized with.
func (s *Service) ResolveVoice(req Request) string {
	return ResolveVoice(req, s.voices, s.defaultVoice)
}

// GetOrSynthesize returns the audio for req. Cache read failures are logged
// and treated as misses; cache write failures never reach the caller.
// Concurrent misses for the same key share one provider call.
func (s *Service) GetOrSynthesize(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	voiceID := s.ResolveVoice(req)
	key := audiocache.Key(req.Text, voiceID)

	if res, ok := s.lookup(ctx, key); ok {
		return res, nil
	}

	// the shared call outlives any one caller so a cancelled request never
	// fails the others waiting on the same key; its own timeout still applies
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.synthesize(shared, req.Text, voiceID, key)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	case <-ctx.Done():
		return nil, s.wrap(ctx.Err())
	}
}

// Stream is audio being delivered to a caller.
type Stream struct {
	io.ReadCloser
	Key     string
	VoiceID string
	Source  Source
}

// Open returns the audio for req as a stream. Cached audio is served from
// memory. On a miss the provider stream is passed through as it arrives and
// the cache is populated once the caller has read it to the end.
func (s *Service) Open(ctx context.Context, req Request) (*Stream, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	voiceID := s.ResolveVoice(req)
	key := audiocache.Key(req.Text, voiceID)

	if res, ok := s.lookup(ctx, key); ok {
		return &Stream{
			ReadCloser: io.NopCloser(bytes.NewReader(res.Audio)),
			Key:        key,
			VoiceID:    voiceID,
			Source:     SourceCache,
		}, nil
	}

	if s.provider == nil {
		return nil, errNoProvider
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	rc, err := s.provider.Stream(sctx, s.speakable(req.Text), voiceID, s.settings)
	if err != nil {
		cancel()
		return nil, s.wrap(err)
	}

	t := &teeStream{
		src:    rc,
		cancel: cancel,
		onEOF: func(audio []byte) {
			if len(audio) == 0 {
				return
			}
			s.stats.synthesized.Add(1)
			s.scheduleWrite(audiocache.Entry{Key: key, VoiceID: voiceID, Audio: audio, Format: audiocache.FormatMP3})
		},
	}
	return &Stream{ReadCloser: t, Key: key, VoiceID: voiceID, Source: SourceSynthesized}, nil
}

// Wait blocks until every scheduled cache write has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		CacheHits:     s.stats.hits.Load(),
		CacheMisses:   s.stats.misses.Load(),
		Synthesized:   s.stats.synthesized.Load(),
		ReadFailures:  s.stats.readFailures.Load(),
		WriteFailures: s.stats.writeFailures.Load(),
	}
}

// ProviderName returns the configured provider's name.
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

func (s *Service) lookup(ctx context.Context, key string) (*Result, bool) {
	e, ok, err := s.store.Lookup(ctx, key)
	if err != nil {
		s.stats.readFailures.Add(1)
		log.Warn("audio cache lookup failed, synthesizing instead", "error", &audiocache.ReadError{Key: key, Err: err})
		return nil, false
	}
	if !ok || len(e.Audio) == 0 {
		s.stats.misses.Add(1)
		return nil, false
	}

	s.stats.hits.Add(1)
	log.Debug("audio cache hit", "key", key, "bytes", len(e.Audio))
	return &Result{
		Audio:   e.Audio,
		Format:  e.Format,
		Key:     key,
		VoiceID: e.VoiceID,
		Source:  SourceCache,
	}, true
}

func (s *Service) synthesize(ctx context.Context, text, voiceID, key string) (*Result, error) {
	if s.provider == nil {
		return nil, errNoProvider
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rc, err := s.provider.Stream(ctx, s.speakable(text), voiceID, s.settings)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rc.Close() //nolint:errcheck

	audio, err := io.ReadAll(rc)
	if err != nil {
		return nil, s.wrap(err)
	}
	if len(audio) == 0 {
		return nil, s.wrap(ErrEmptyAudio)
	}

	s.stats.synthesized.Add(1)
	log.Debug("synthesized narration",
		"provider", s.provider.Name(),
		"voice", voiceID,
		"bytes", len(audio),
		"took", time.Since(start))

	s.scheduleWrite(audiocache.Entry{Key: key, VoiceID: voiceID, Audio: audio, Format: audiocache.FormatMP3})

	return &Result{
		Audio:   audio,
		Format:  audiocache.FormatMP3,
		Key:     key,
		VoiceID: voiceID,
		Source:  SourceSynthesized,
	}, nil
}

// scheduleWrite upserts an entry on a detached goroutine with its own
// deadline, so the write outlives the request that produced it.
func (s *Service) scheduleWrite(e audiocache.Entry) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		if err := s.store.Upsert(ctx, e); err != nil {
			s.stats.writeFailures.Add(1)
			werr := &audiocache.WriteError{Key: e.Key, Err: err}
			log.Warn("audio cache write failed", "error", werr)
			if s.onWriteError != nil {
				s.onWriteError(werr)
			}
		}
	}()
}

func (s *Service) speakable(text string) string {
	if !s.stripMarkdown {
		return text
	}
	if plain := speech.Plain(text); plain != "" {
		return plain
	}
	return text
}

func (s *Service) wrap(err error) error {
	var serr *SynthesisError
	if errors.As(err, &serr) {
		return err
	}
	name := "none"
	if s.provider != nil {
		name = s.provider.Name()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", s.timeout, err)
	}
	return &SynthesisError{Provider: name, Err: err}
}

// teeStream buffers everything read through it and hands the buffer to
// onEOF once the source is exhausted.
type teeStream struct {
	src    io.ReadCloser
	cancel context.CancelFunc
	buf    bytes.Buffer
	onEOF  func([]byte)
	done   bool
}

func (t *teeStream) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.buf.Write(p[:n])
	}
	if errors.Is(err, io.EOF) && !t.done {
		t.done = true
		t.onEOF(bytes.Clone(t.buf.Bytes()))
	}
	return n, err
}

func (t *teeStream) Close() error {
	defer t.cancel()
	return t.src.Close()
}
