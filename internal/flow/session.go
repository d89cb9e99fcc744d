// Package flow runs the lending scenarios: it sequences the transaction
// steps, composes their authorizations and streams progress as events.
package flow

import (
	"sort"
	"sync"
	"time"

	"loanflow/internal/domain"
)

// Subscriber receives every event together with the state it produced.
// Subscribers run serially on the emitting goroutine, in event order, and
// must not call Emit.
type Subscriber func(e domain.Event, state domain.FlowState)

// Session holds the state of one run. The state is only ever replaced by
// folding an event into it.
type Session struct {
	emitMu sync.Mutex

	mu     sync.RWMutex
	state  domain.FlowState
	seq    int
	subs   map[int]Subscriber
	nextID int

	now func() time.Time
}

func NewSession(runID string, scenario domain.ScenarioID) *Session {
	return &Session{
		state: domain.NewFlowState(runID, scenario),
		subs:  map[int]Subscriber{},
		now:   time.Now,
	}
}

func (s *Session) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RunID
}

// State returns a copy of the current state.
func (s *Session) State() domain.FlowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn and returns the state as of registration. Every
// event emitted after that snapshot reaches fn.
func (s *Session) Subscribe(fn Subscriber) (domain.FlowState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return s.state.Clone(), cancel
}

// Emit stamps e with the run id, a sequence number and a time, applies it
// and notifies subscribers.
func (s *Session) Emit(e domain.Event) domain.FlowState {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.seq++
	e.RunID = s.state.RunID
	e.Seq = s.seq
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}
	s.state = s.state.Apply(e)
	state := s.state.Clone()

	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(e, state)
	}
	return state
}
