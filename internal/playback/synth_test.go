package playback

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/synth/engines/mock"
)

// newServiceOrchestrator plays through a real synth.Service backed by the
// mock provider and an in-memory cache.
func newServiceOrchestrator(t *testing.T, delay time.Duration) (*Orchestrator, *synth.Service, *mock.Provider, *fakeTransport) {
	t.Helper()
	provider := mock.New()
	provider.SetDelay(delay)
	svc := synth.New(nil, provider)
	tr := &fakeTransport{}

	o := New(svc, tr, Options{Volume: 1})
	if err := o.LoadTracklist(testTimeline()); err != nil {
		t.Fatalf("LoadTracklist failed: %v", err)
	}
	t.Cleanup(func() {
		o.Close()
		svc.Wait()
	})
	return o, svc, provider, tr
}

func TestWithSynthService_RestartingATrack(t *testing.T) {
	tests := []struct {
		name    string
		restart func(o *Orchestrator) error
	}{
		{
			name:    "play again while loading",
			restart: func(o *Orchestrator) error { return o.PlayTrack("m1-context") },
		},
		{
			name: "stop then play",
			restart: func(o *Orchestrator) error {
				o.StopTrack()
				return o.PlayTrack("m1-context")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, svc, provider, tr := newServiceOrchestrator(t, 100*time.Millisecond)

			if err := o.PlayTrack("m1-context"); err != nil {
				t.Fatal(err)
			}
			if err := tt.restart(o); err != nil {
				t.Fatal(err)
			}

			s := waitForStatus(t, o, StatusPlaying)
			o.Wait()
			if s.Err != nil || s.CurrentTrackID != "m1-context" {
				t.Errorf("unexpected state: %+v", s)
			}
			if provider.CallCount() != 1 {
				t.Errorf("provider called %d times, want the in-flight call reused", provider.CallCount())
			}

			want := string(mock.Audio("Context.", svc.ResolveVoice(synth.Request{Text: "Context."})))
			loaded, _, _, _ := tr.snapshot()
			if len(loaded) != 1 || loaded[0] != want {
				t.Errorf("transport loaded %q, want one clip of %q", loaded, want)
			}
		})
	}
}

func TestWithSynthService_LatestRequestWins(t *testing.T) {
	o, svc, _, tr := newServiceOrchestrator(t, 50*time.Millisecond)

	if err := o.PlayTrack("m1-context"); err != nil {
		t.Fatal(err)
	}
	if err := o.PlayTrack("m2-context"); err != nil {
		t.Fatal(err)
	}
	s := waitForStatus(t, o, StatusPlaying)
	o.Wait()

	// give the abandoned synthesis time to finish
	time.Sleep(100 * time.Millisecond)

	if s.CurrentTrackID != "m2-context" || o.State().CurrentTrackID != "m2-context" {
		t.Errorf("unexpected final state: %+v", o.State())
	}
	want := string(mock.Audio("Later.", svc.ResolveVoice(synth.Request{Text: "Later."})))
	loaded, _, _, _ := tr.snapshot()
	if len(loaded) != 1 || loaded[0] != want {
		t.Errorf("stale audio reached the transport: %q", loaded)
	}
}

func TestWithSynthService_RetryAfterFailure(t *testing.T) {
	o, _, provider, _ := newServiceOrchestrator(t, 0)
	provider.SetFailure(errors.New("quota exceeded"))

	if err := o.PlayTrack("m1-context"); err != nil {
		t.Fatal(err)
	}
	s := waitForStatus(t, o, StatusError)
	var serr *synth.SynthesisError
	if !errors.As(s.Err, &serr) {
		t.Fatalf("Err = %v, want a SynthesisError", s.Err)
	}

	provider.ClearFailure()
	if err := o.PlayTrack("m1-context"); err != nil {
		t.Fatal(err)
	}
	if s := waitForStatus(t, o, StatusPlaying); s.Err != nil || s.Source != synth.SourceSynthesized {
		t.Errorf("unexpected state after retry: %+v", s)
	}
}

// clipTransport numbers clips the way audio.Player does.
type clipTransport struct {
	fakeTransport
	clip atomic.Uint64
}

func (c *clipTransport) Load(audio []byte) error {
	if err := c.fakeTransport.Load(audio); err != nil {
		return err
	}
	c.clip.Add(1)
	return nil
}

func (c *clipTransport) Stop() error {
	c.clip.Add(1)
	return c.fakeTransport.Stop()
}

func (c *clipTransport) Clip() uint64 { return c.clip.Load() }

func TestClipEvents_IgnoreReplacedClips(t *testing.T) {
	tr := &clipTransport{}
	o := New(newGatedSource(), tr, Options{Volume: 1, AutoPlay: true})
	if err := o.LoadTracklist(testTimeline()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(o.Close)

	_ = o.PlayTrack("m1-context")
	waitForStatus(t, o, StatusPlaying)
	old := tr.Clip()

	_ = o.PlayTrack("m2-context")
	waitForStatus(t, o, StatusPlaying)

	// events sampled from the first clip arrive late
	o.ClipProgress(old, 9*time.Second, 10*time.Second)
	o.ClipFailed(old, errors.New("device unplugged"))
	o.ClipEnded(old)

	s := o.State()
	if s.CurrentTrackID != "m2-context" || s.Status != StatusPlaying || s.CurrentTime != 0 || s.Err != nil {
		t.Fatalf("late events changed the new track: %+v", s)
	}

	o.ClipProgress(tr.Clip(), 3*time.Second, 6*time.Second)
	if s := o.State(); s.Progress != 50 {
		t.Errorf("Progress = %v, want 50", s.Progress)
	}

	// m2 is the last track, so auto-play stops
	o.ClipEnded(tr.Clip())
	if s := o.State(); s.Status != StatusIdle || s.CurrentTrackID != "m2-context" {
		t.Errorf("unexpected state after the current clip ended: %+v", s)
	}
}
