package download

import (
	"sync"
)

// Listener receives every state produced by an applied transition.
// Listeners run on the updating goroutine and must not block or call back
// into the Manager.
type Listener func(DependencyState)

// Store holds the current DependencyState of every artifact.
type Store struct {
	mu           sync.Mutex
	states       map[ArtifactType]DependencyState
	order        []ArtifactType
	listeners    map[uint64]Listener
	nextListener uint64
}

// NewStore creates a store with every artifact at its initial state.
// With no arguments all known artifact types are tracked.
func NewStore(artifacts ...ArtifactType) *Store {
	if len(artifacts) == 0 {
		artifacts = AllArtifacts
	}
	s := &Store{
		states:    make(map[ArtifactType]DependencyState, len(artifacts)),
		order:     append([]ArtifactType(nil), artifacts...),
		listeners: make(map[uint64]Listener),
	}
	for _, t := range artifacts {
		s.states[t] = Initial(t)
	}
	return s
}

// Get returns the current state of an artifact.
func (s *Store) Get(t ArtifactType) (DependencyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[t]
	return st, ok
}

// Snapshot returns all states in tracking order.
func (s *Store) Snapshot() []DependencyState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DependencyState, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.states[t])
	}
	return out
}

// Update applies fn to the artifact's state atomically. fn returns the next
// state and whether to apply it; returning false leaves the state untouched
// and notifies nobody. Update returns the resulting state and whether it
// changed.
func (s *Store) Update(t ArtifactType, fn func(DependencyState) (DependencyState, bool)) (DependencyState, bool) {
	s.mu.Lock()
	cur, ok := s.states[t]
	if !ok {
		s.mu.Unlock()
		return DependencyState{}, false
	}

	next, apply := fn(cur)
	if !apply {
		s.mu.Unlock()
		return cur, false
	}
	next.Artifact = t
	next.Revision = cur.Revision + 1
	s.states[t] = next

	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
	return next, true
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
