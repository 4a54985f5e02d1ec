package consultation

import (
	"fmt"
	"sync"
	"time"
)

// CompletenessMode selects the rule deciding when a session has enough facts
// for journey synthesis.
type CompletenessMode string

const (
	// CompletenessAny: at least one category is non-empty.
	CompletenessAny CompletenessMode = "any"
	// CompletenessAll: every category is non-empty.
	CompletenessAll CompletenessMode = "all"
)

// ParseCompletenessMode validates a configured mode; empty means any.
func ParseCompletenessMode(s string) (CompletenessMode, error) {
	switch CompletenessMode(s) {
	case "", CompletenessAny:
		return CompletenessAny, nil
	case CompletenessAll:
		return CompletenessAll, nil
	}
	return "", fmt.Errorf("unknown completeness mode %q", s)
}

// Merge appends the bundle to the state and drops duplicates, keeping the
// earliest occurrence of every record.
func (s *MedicalState) Merge(b FactBundle) {
	s.Medications = appendUnique(s.Medications, b.Medications)
	s.Appointments = appendUnique(s.Appointments, b.Appointments)
	s.Treatments = appendUnique(s.Treatments, b.Treatments)
}

// IsComplete evaluates the completeness predicate against the current facts.
// It does not look at the sticky Complete flag.
func (s MedicalState) IsComplete(mode CompletenessMode) bool {
	meds, appts, treats := len(s.Medications) > 0, len(s.Appointments) > 0, len(s.Treatments) > 0
	if mode == CompletenessAll {
		return meds && appts && treats
	}
	return meds || appts || treats
}

// markComplete sets the Complete flag once the predicate holds. The flag is
// never cleared.
func (s *MedicalState) markComplete(mode CompletenessMode) {
	if !s.Complete && s.IsComplete(mode) {
		s.Complete = true
	}
}

func appendUnique[T comparable](existing, incoming []T) []T {
	out := make([]T, 0, len(existing)+len(incoming))
	seen := make(map[T]struct{}, len(existing)+len(incoming))
	for _, list := range [][]T{existing, incoming} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

type session struct {
	mu    sync.Mutex
	state MedicalState
	// committed is set by the first successful update; until then the
	// session is invisible to readers.
	committed bool
	// discarded sessions have left the map; holders must look the id up again.
	discarded bool
	lastUsed  time.Time
}

// Aggregator owns the aggregated state of every session. Sessions share no
// mutable state; turns on one session are serialized through its lock.
type Aggregator struct {
	mode CompletenessMode
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewAggregator(mode CompletenessMode) *Aggregator {
	if mode == "" {
		mode = CompletenessAny
	}
	return &Aggregator{mode: mode, now: time.Now, sessions: make(map[string]*session)}
}

// Mode returns the configured completeness mode.
func (a *Aggregator) Mode() CompletenessMode {
	return a.mode
}

func (a *Aggregator) session(id string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		s = &session{}
		a.sessions[id] = s
	}
	return s
}

// drop removes s from the map if it is still the entry for id. The caller
// holds s.mu.
func (a *Aggregator) drop(id string, s *session) {
	s.discarded = true
	a.mu.Lock()
	if a.sessions[id] == s {
		delete(a.sessions, id)
	}
	a.mu.Unlock()
}

// Snapshot returns a copy of the session state and whether the session exists.
func (a *Aggregator) Snapshot(id string) (MedicalState, bool) {
	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return MedicalState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.committed || s.discarded {
		return MedicalState{}, false
	}
	return s.state.Clone(), true
}

// Merge folds a bundle into the session state, updates completeness, and
// returns the new state.
func (a *Aggregator) Merge(id string, b FactBundle) MedicalState {
	var out MedicalState
	_ = a.Update(id, func(st *MedicalState) error {
		st.Merge(b)
		st.markComplete(a.mode)
		out = st.Clone()
		return nil
	})
	return out
}

// Update runs fn against a staged copy of the session state while holding
// the session lock. The copy replaces the stored state only when fn returns
// nil, so a failing turn leaves the session untouched; a session whose very
// first update fails is removed again. Completeness is re-evaluated before
// fn's changes are committed.
func (a *Aggregator) Update(id string, fn func(st *MedicalState) error) error {
	for {
		s := a.session(id)
		s.mu.Lock()
		if s.discarded {
			s.mu.Unlock()
			continue
		}

		staged := s.state.Clone()
		if err := fn(&staged); err != nil {
			if !s.committed {
				a.drop(id, s)
			}
			s.mu.Unlock()
			return err
		}
		staged.markComplete(a.mode)
		s.state = staged
		s.committed = true
		s.lastUsed = a.now()
		s.mu.Unlock()
		return nil
	}
}

// Reset discards a session. It reports whether the session existed.
func (a *Aggregator) Reset(id string) bool {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.committed && !s.discarded
	s.discarded = true
	return existed
}

// Evict discards sessions that have not been updated for longer than idle
// and returns how many were removed. Sessions with a turn in flight are
// skipped.
func (a *Aggregator) Evict(idle time.Duration) int {
	cutoff := a.now().Add(-idle)
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for id, s := range a.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.committed && s.lastUsed.Before(cutoff) {
			s.discarded = true
			delete(a.sessions, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of live sessions.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
