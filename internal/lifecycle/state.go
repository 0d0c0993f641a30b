// Package lifecycle holds the initialized/loggedIn state that gates bridge
// commands.
//
// State is not safe for concurrent use. Its owner confines every call to a
// single execution context.
package lifecycle

// Generation identifies one initialize..invalidate span. A continuation issued
// under an older generation must not mutate state.
type Generation uint64

// State tracks the lifecycle flags. The zero value is uninitialized.
//
// Invariant: LoggedIn() implies Initialized().
type State struct {
	initialized  bool
	initializing bool
	loggedIn     bool
	generation   Generation
}

// New returns an uninitialized state.
func New() *State {
	return &State{}
}

func (s *State) Initialized() bool { return s.initialized }

// Initializing reports whether an initialize is in flight.
func (s *State) Initializing() bool { return s.initializing }

func (s *State) LoggedIn() bool { return s.loggedIn }

// Generation returns the current generation.
func (s *State) Generation() Generation { return s.generation }

// Current reports whether gen is still the current generation.
func (s *State) Current(gen Generation) bool { return gen == s.generation }

// BeginInitialize marks an initialize as in flight. It returns false, leaving
// the state untouched, when the state is already initialized or initializing.
func (s *State) BeginInitialize() bool {
	if s.initialized || s.initializing {
		return false
	}
	s.initializing = true
	return true
}

// CompleteInitialize records the outcome of an in-flight initialize.
func (s *State) CompleteInitialize(ok bool) {
	s.initializing = false
	s.initialized = ok
	if !ok {
		s.loggedIn = false
	}
}

// SetLoggedIn records a login or logout outcome. Logging in is ignored while
// uninitialized.
func (s *State) SetLoggedIn(loggedIn bool) {
	if loggedIn && !s.initialized {
		return
	}
	s.loggedIn = loggedIn
}

// Invalidate clears both flags and starts a new generation. It returns false
// when the state was not initialized, in which case nothing changes.
func (s *State) Invalidate() bool {
	if !s.initialized {
		return false
	}
	s.initialized = false
	s.loggedIn = false
	s.generation++
	return true
}

// Snapshot is a copy of the state for reporting.
type Snapshot struct {
	Initialized  bool       `json:"initialized"`
	Initializing bool       `json:"initializing"`
	LoggedIn     bool       `json:"loggedIn"`
	Generation   Generation `json:"generation"`
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Initialized:  s.initialized,
		Initializing: s.initializing,
		LoggedIn:     s.loggedIn,
		Generation:   s.generation,
	}
}
