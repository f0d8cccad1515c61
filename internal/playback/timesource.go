package playback

import "time"

// TimeSource reports a playback position. It backs the heuristic fallback:
// the orchestrator only consults it while authoritative SetProgress updates
// have stopped arriving.
type TimeSource interface {
	Sample() (current, duration time.Duration, ok bool)
}

// TimeSourceFunc adapts a function to TimeSource.
type TimeSourceFunc func() (time.Duration, time.Duration, bool)

// Sample implements TimeSource.
func (f TimeSourceFunc) Sample() (time.Duration, time.Duration, bool) { return f() }

// SetFallbackTimeSource installs a heuristic time source. Pass nil to remove
// it.
func (o *Orchestrator) SetFallbackTimeSource(ts TimeSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback = ts
}

// SampleFallback applies a reading from the fallback time source if the
// current track is playing and no authoritative progress arrived within the
// staleness window. It reports whether a reading was applied. Fallback
// readings never refresh the staleness clock, so the next SetProgress wins
// immediately.
func (o *Orchestrator) SampleFallback() bool {
	o.mu.Lock()
	if o.fallback == nil || o.sm.Current() != StatusPlaying {
		o.mu.Unlock()
		return false
	}
	if !o.lastProgress.IsZero() && o.now().Sub(o.lastProgress) < o.opts.StaleAfter {
		o.mu.Unlock()
		return false
	}
	ts := o.fallback
	o.mu.Unlock()

	current, duration, ok := ts.Sample()
	if !ok {
		return false
	}

	o.mu.Lock()
	// authoritative progress may have arrived while sampling
	if o.sm.Current() != StatusPlaying ||
		(!o.lastProgress.IsZero() && o.now().Sub(o.lastProgress) < o.opts.StaleAfter) {
		o.mu.Unlock()
		return false
	}
	o.setProgressLocked(current, duration)
	o.mu.Unlock()
	o.notify()
	return true
}
