package session

import (
	"log/slog"
	"sync"
)

// Store maps channel identifiers to sessions. It owns creation, lookup,
// mutation and deletion, and provides per-key serialized access so that at
// most one state transition is in flight per channel at a time. Channels
// never share locks, so slow collaborator calls on one channel cannot block
// another.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewStore creates an empty session store. One store is constructed per
// process and injected into the flow engine.
func NewStore() *Store {
	slog.Debug("session.NewStore: creating in-memory session store")
	return &Store{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Lock serializes processing for a channel. It returns the unlock function;
// callers hold the lock for the whole state-machine step, including
// collaborator calls, so overlapping deliveries for the same channel queue
// up instead of racing.
func (st *Store) Lock(channelID string) func() {
	st.mu.Lock()
	l, ok := st.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		st.locks[channelID] = l
	}
	st.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the session for a channel, or nil if none exists.
func (st *Store) Get(channelID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[channelID]
}

// GetOrCreate returns the existing session for a channel, creating one at
// the initial step when the channel has none. The boolean reports whether a
// session was created.
func (st *Store) GetOrCreate(channelID, userID, email string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[channelID]; ok {
		return s, false
	}
	s := New(userID, email)
	st.sessions[channelID] = s
	slog.Debug("session.Store.GetOrCreate: created session", "channelID", channelID, "userID", userID)
	return s, true
}

// Delete removes the session for a channel. Deleting an absent session is a
// no-op so that repeated terminal actions never fail.
func (st *Store) Delete(channelID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[channelID]; ok {
		delete(st.sessions, channelID)
		slog.Debug("session.Store.Delete: removed session", "channelID", channelID)
	}
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
