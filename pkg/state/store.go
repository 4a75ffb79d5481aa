package state

import (
	"sort"
	"sync"
	"time"
)

// Store owns every user's narrative state. Each user has an independent
// entry, so users never contend with each other.
type Store struct {
	mu    sync.Mutex
	users map[string]*Entry
	now   func() time.Time
}

// Entry guards one user's state.
//
// mu protects the state itself and is only held for short read or
// read-modify-write sections. turn serializes story turns for the user and
// may be held across slow calls such as text generation.
type Entry struct {
	turn  sync.Mutex
	mu    sync.RWMutex
	state *UserState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]*Entry),
		now:   time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Entry returns the entry for userID, creating an empty state on first use.
func (s *Store) Entry(userID string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		e = &Entry{state: NewUserState(userID, s.now())}
		s.users[userID] = e
	}
	return e
}

// Lookup returns the entry for userID if one exists.
func (s *Store) Lookup(userID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	return e, ok
}

// Put installs st as the state for st.UserID, replacing any existing state.
func (s *Store) Put(st *UserState) {
	e := s.Entry(st.UserID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
}

// Reset drops all state for userID. It reports whether the user existed.
func (s *Store) Reset(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	delete(s.users, userID)
	return ok
}

// Users returns the ids of all users with state, sorted.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each calls fn for every user's state under that user's write lock.
func (s *Store) Each(fn func(*UserState)) {
	for _, id := range s.Users() {
		if e, ok := s.Lookup(id); ok {
			_ = e.Update(func(u *UserState) error {
				fn(u)
				return nil
			})
		}
	}
}

// View runs fn with read access to the state.
func (e *Entry) View(fn func(*UserState)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}

// Update runs fn with exclusive access to the state.
func (e *Entry) Update(fn func(*UserState) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// LockTurn serializes story turns for the user. Call the returned func to
// release the turn.
func (e *Entry) LockTurn() func() {
	e.turn.Lock()
	return e.turn.Unlock
}
