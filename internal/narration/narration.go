// Package narration assembles the synthesis and playback components from
// configuration and manages their lifetime.
package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/internal/audio"
	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/config"
	"github.com/dgnsrekt/narrator/internal/playback"
	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/synth/engines"
	"github.com/dgnsrekt/narrator/internal/synth/engines/mock"
)

// NewProvider returns the configured speech provider. The returned closer
// is nil for providers without resources to release.
func NewProvider(ctx context.Context, cfg config.SynthesisConfig) (synth.Provider, io.Closer, error) {
	switch cfg.Provider {
	case config.ProviderElevenLabs:
		p, err := engines.NewElevenLabs(engines.ElevenLabsConfig{
			APIKey:            cfg.ElevenLabs.APIKey,
			BaseURL:           cfg.ElevenLabs.BaseURL,
			ModelID:           cfg.ElevenLabs.ModelID,
			OutputFormat:      cfg.ElevenLabs.OutputFormat,
			RequestsPerSecond: cfg.ElevenLabs.RequestsPerSecond,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case config.ProviderGoogle:
		p, err := engines.NewGoogle(ctx, cfg.Google.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case config.ProviderRemote:
		return engines.NewRemote(cfg.Remote.URL, nil), nil, nil
	case config.ProviderMock:
		return mock.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Synthesis is a synth.Service together with the resources backing it.
type Synthesis struct {
	*synth.Service

	Store audiocache.Store

	closers []io.Closer
}

// NewSynthesis opens the audio cache and the provider and returns the
// service combining them. cacheDir is used when the configuration doesn't
// name a cache directory.
func NewSynthesis(ctx context.Context, cfg config.Config, cacheDir string) (*Synthesis, error) {
	store, err := audiocache.Open(cfg.Cache.CacheOptions(cacheDir))
	if err != nil {
		return nil, fmt.Errorf("unable to open audio cache: %w", err)
	}
	s := &Synthesis{Store: store}
	if c, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	provider, closer, err := NewProvider(ctx, cfg.Synthesis)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	s.Service = synth.New(store, provider,
		synth.WithDefaultVoice(cfg.Voice.ID),
		synth.WithVoiceSettings(cfg.Voice.Settings),
		synth.WithTimeout(cfg.Synthesis.Timeout),
		synth.WithWriteTimeout(cfg.Synthesis.WriteTimeout),
		synth.WithStripMarkdown(cfg.Synthesis.StripMarkdown),
	)
	log.Debug("synthesis ready",
		"provider", provider.Name(),
		"cache", cfg.Cache.Backend,
		"voice", cfg.Voice.ID)
	return s, nil
}

// CacheStats reports the audio cache's usage, when its backend tracks it.
func (s *Synthesis) CacheStats() (audiocache.Stats, bool) {
	r, ok := s.Store.(audiocache.StatsReporter)
	if !ok {
		return audiocache.Stats{}, false
	}
	return r.Stats(), true
}

// Close waits for pending cache writes, then releases the cache and the
// provider.
func (s *Synthesis) Close() error {
	if s.Service != nil {
		s.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Session is a ready-to-use narration pipeline: synthesis, an audio player
// and the orchestrator driving it.
type Session struct {
	Synthesis    *Synthesis
	Player       *audio.Player
	Orchestrator *playback.Orchestrator

	closeOnce sync.Once
}

// Open builds a Session. With audio.device disabled the player keeps time
// without producing sound.
func Open(ctx context.Context, cfg config.Config, cacheDir string) (*Session, error) {
	syn, err := NewSynthesis(ctx, cfg, cacheDir)
	if err != nil {
		return nil, err
	}

	s := &Session{Synthesis: syn}

	// the player reports into the orchestrator, which is created after it
	var orch *playback.Orchestrator
	cb := audio.Callbacks{
		OnProgress: func(clip uint64, current, duration time.Duration) { orch.ClipProgress(clip, current, duration) },
		OnEnded:    func(clip uint64) { orch.ClipEnded(clip) },
		OnError:    func(clip uint64, err error) { orch.ClipFailed(clip, err) },
	}

	if cfg.Audio.Device {
		acfg := audio.DefaultConfig()
		acfg.SampleRate = cfg.Audio.SampleRate
		acfg.BufferSize = cfg.Audio.BufferSize

		session, err := audio.NewSessionManager(acfg)
		if err != nil {
			_ = syn.Close()
			return nil, err
		}
		s.Player, err = audio.NewPlayer(ctx, session, cb)
		if err != nil {
			_ = syn.Close()
			return nil, fmt.Errorf("unable to open audio device: %w", err)
		}
	} else {
		s.Player = audio.NewNullPlayer(cb)
	}

	orch = playback.New(syn, s.Player, playback.Options{
		VoiceID:      cfg.Voice.ID,
		LanguageCode: cfg.Voice.Language,
		Volume:       cfg.Playback.Volume,
		AutoPlay:     cfg.Playback.AutoPlay,
		StaleAfter:   cfg.Playback.StaleAfter,
	})
	orch.SetFallbackTimeSource(playback.TimeSourceFunc(func() (time.Duration, time.Duration, bool) {
		current, duration := s.Player.Position()
		return current, duration, duration > 0
	}))
	s.Orchestrator = orch
	return s, nil
}

// Close stops playback and releases every resource. It is safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Orchestrator.Close()
		err = errors.Join(s.Player.Close(), s.Synthesis.Close())
	})
	return err
}
