// Package mock provides a deterministic speech provider for tests and
// offline demos.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/dgnsrekt/narrator/internal/synth"
)

// Call records one Stream invocation.
type Call struct {
	Text     string
	VoiceID  string
	Settings synth.VoiceSettings
}

// Provider implements synth.Provider without touching the network.
type Provider struct {
	mu sync.Mutex

	delay        time.Duration
	shouldFail   bool
	failureError error
	empty        bool
	gate         chan struct{}

	calls []Call
}

// New creates a mock provider with no delay.
func New() *Provider {
	return &Provider{}
}

// Name implements synth.Provider.
func (p *Provider) Name() string { return "mock" }

// Audio returns the bytes the mock produces for text and voice. The same
// input always yields the same bytes.
func Audio(text, voiceID string) []byte {
	return []byte("ID3mock|" + voiceID + "|" + text)
}

// Stream implements synth.Provider. It waits for the configured delay or the
// gate, whichever is set, and honours ctx cancellation while waiting.
func (p *Provider) Stream(ctx context.Context, text, voiceID string, settings synth.VoiceSettings) (io.ReadCloser, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, VoiceID: voiceID, Settings: settings})
	delay, gate := p.delay, p.gate
	fail, failErr, empty := p.shouldFail, p.failureError, p.empty
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, failErr
	}
	if empty {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(Audio(text, voiceID))), nil
}

// Test control methods

// SetDelay sets the simulated synthesis latency.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// SetFailure makes every following call fail with err.
func (p *Provider) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = true
	p.failureError = err
}

// ClearFailure resets the provider to normal operation.
func (p *Provider) ClearFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = false
	p.failureError = nil
}

// SetEmpty makes the provider return zero bytes.
func (p *Provider) SetEmpty(empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.empty = empty
}

// Hold makes calls block until Release is called.
func (p *Provider) Hold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
}

// Release unblocks every call waiting on Hold.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// CallCount returns the number of Stream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns a copy of every recorded call.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
