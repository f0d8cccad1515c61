package narration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/config"
	"github.com/dgnsrekt/narrator/internal/playback"
	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/timeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Synthesis.Provider = config.ProviderMock
	cfg.Cache.Backend = audiocache.BackendDisk
	cfg.Cache.Dir = t.TempDir()
	cfg.Audio.Device = false
	return cfg
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.SynthesisConfig
		wantName string
		wantErr  bool
	}{
		{"mock", config.SynthesisConfig{Provider: config.ProviderMock}, "mock", false},
		{"remote", config.SynthesisConfig{Provider: config.ProviderRemote, Remote: config.RemoteConfig{URL: "http://127.0.0.1:1"}}, "remote", false},
		{"elevenlabs", config.SynthesisConfig{Provider: config.ProviderElevenLabs, ElevenLabs: config.ElevenLabsConfig{APIKey: "key"}}, "elevenlabs", false},
		{"elevenlabs without key", config.SynthesisConfig{Provider: config.ProviderElevenLabs}, "", true},
		{"unknown", config.SynthesisConfig{Provider: "piper"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := NewProvider(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNewSynthesis_PersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	req := synth.Request{Text: "The Republic falls."}

	first, err := NewSynthesis(ctx, cfg, "")
	if err != nil {
		t.Fatalf("NewSynthesis() failed: %v", err)
	}
	res, err := first.GetOrSynthesize(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != synth.SourceSynthesized {
		t.Errorf("Source = %s, want synthesized", res.Source)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	second, err := NewSynthesis(ctx, cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close() //nolint:errcheck

	res, err = second.GetOrSynthesize(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != synth.SourceCache {
		t.Errorf("Source = %s, want cache", res.Source)
	}
}

func TestSession_PlaysAndAdvances(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close() //nolint:errcheck

	tl := &timeline.Timeline{
		ID:         "rome",
		Conclusion: "Rome endured.",
		Milestones: []timeline.Milestone{
			{ID: "m1", Title: "Founding", Order: 1, Context: "Rome is founded."},
		},
	}
	if err := s.Orchestrator.LoadTracklist(tl); err != nil {
		t.Fatal(err)
	}

	var once sync.Once
	advanced := make(chan struct{})
	unsubscribe := s.Orchestrator.OnChange(func(st playback.State) {
		if st.CurrentTrackID == "m1-context" && st.Status == playback.StatusPlaying {
			once.Do(func() { close(advanced) })
		}
	})
	defer unsubscribe()

	if err := s.Orchestrator.PlayTrack("rome-conclusion"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-advanced:
	case <-time.After(5 * time.Second):
		t.Fatalf("playback did not advance, state: %+v", s.Orchestrator.State())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, err := Open(context.Background(), testConfig(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
