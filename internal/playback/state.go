package playback

// Status is the orchestrator's playback status.
type Status int

const (
	// StatusIdle means nothing is loading or playing.
	StatusIdle Status = iota
	// StatusLoading means audio for the current track is being fetched.
	StatusLoading
	// StatusPlaying means the transport is playing the current track.
	StatusPlaying
	// StatusPaused means playback of the current track is suspended.
	StatusPaused
	// StatusError means the last load or playback attempt failed.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StateMachine guards status transitions.
type StateMachine struct {
	current     Status
	transitions map[Status][]Status
	onEnter     map[Status]func()
	onExit      map[Status]func()
}

// NewStateMachine creates a state machine in StatusIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StatusIdle,
		transitions: map[Status][]Status{
			StatusIdle:    {StatusLoading},
			StatusLoading: {StatusPlaying, StatusError, StatusIdle},
			StatusPlaying: {StatusPaused, StatusIdle, StatusError},
			StatusPaused:  {StatusPlaying, StatusIdle, StatusError},
			StatusError:   {StatusIdle},
		},
		onEnter: make(map[Status]func()),
		onExit:  make(map[Status]func()),
	}
}

// Can reports whether moving to the given status is allowed.
func (sm *StateMachine) Can(to Status) bool {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given status if allowed and reports whether it
// did.
func (sm *StateMachine) Transition(to Status) bool {
	if !sm.Can(to) {
		return false
	}

	if fn := sm.onExit[sm.current]; fn != nil {
		fn()
	}
	sm.current = to
	if fn := sm.onEnter[to]; fn != nil {
		fn()
	}
	return true
}

// Reset returns to StatusIdle through the transition table. It is a no-op
// when already idle.
func (sm *StateMachine) Reset() {
	if sm.current != StatusIdle {
		sm.Transition(StatusIdle)
	}
}

// Current returns the current status.
func (sm *StateMachine) Current() Status {
	return sm.current
}

// OnEnter registers a callback for entering a status.
func (sm *StateMachine) OnEnter(s Status, fn func()) {
	sm.onEnter[s] = fn
}

// OnExit registers a callback for leaving a status.
func (sm *StateMachine) OnExit(s Status, fn func()) {
	sm.onExit[s] = fn
}
