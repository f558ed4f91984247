package session

import (
	"sync"
	"time"
)

// pruneEvery is how many acquisitions happen between sweeps of idle entries.
const pruneEvery = 1024

// Session is one member's live presence in one group. Its mutex serializes the
// member's posts so the slow-mode check and the insert see the same lastAcceptedAt.
type Session struct {
	GroupID int
	UserID  int

	mu             sync.Mutex
	lastAcceptedAt time.Time
	refs           int
}

// LastAcceptedAt returns the time of the last accepted post.
func (s *Session) LastAcceptedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcceptedAt
}

type key struct {
	groupID int
	userID  int
}

// registry keeps sessions keyed by (group, member). An entry outlives its last
// connection while its slow-mode window can still reject a post, so a member
// cannot reset the interval by reconnecting.
type registry struct {
	mu       sync.Mutex
	sessions map[key]*Session
	idle     time.Duration
	acquires int
}

func newRegistry(idle time.Duration) *registry {
	return &registry{sessions: make(map[key]*Session), idle: idle}
}

func (r *registry) acquire(groupID, userID int, now time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.acquires++
	if r.acquires%pruneEvery == 0 {
		r.pruneLocked(now)
	}

	k := key{groupID, userID}
	s, ok := r.sessions[k]
	if !ok {
		s = &Session{GroupID: groupID, UserID: userID}
		r.sessions[k] = s
	}
	s.refs++
	return s
}

func (r *registry) release(s *Session, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 && r.expired(s, now) {
		delete(r.sessions, key{s.GroupID, s.UserID})
	}
}

func (r *registry) get(groupID, userID int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key{groupID, userID}]
	return s, ok
}

func (r *registry) live(groupID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if k.groupID == groupID && s.refs > 0 {
			n++
		}
	}
	return n
}

func (r *registry) pruneLocked(now time.Time) {
	for k, s := range r.sessions {
		if s.refs == 0 && r.expired(s, now) {
			delete(r.sessions, k)
		}
	}
}

func (r *registry) expired(s *Session, now time.Time) bool {
	s.mu.Lock()
	last := s.lastAcceptedAt
	s.mu.Unlock()
	return last.IsZero() || now.Sub(last) >= r.idle
}
