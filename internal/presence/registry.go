package presence

import (
	"errors"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/model"
)

// ErrNoTransport is returned by Session.Push when the session has no live
// transport handle (e.g. a polling-only login).
var ErrNoTransport = errors.New("session has no live transport")

// ChangeType identifies a presence transition.
type ChangeType string

const (
	ChangeLogin   ChangeType = "login"
	ChangeLogout  ChangeType = "logout"
	ChangeDeleted ChangeType = "deleted"
)

// Change is a presence transition event. Consumers that hold per-identity
// resources (stream bindings, connection tables) watch these to clean up.
type Change struct {
	Identity string
	Type     ChangeType
}

// Registry tracks online sessions and the permanent set of known
// identities.
type Registry interface {
	// Login registers a session. It fails only for an identity that is
	// empty after trimming. Reconnecting an online identity replaces the
	// existing session's transport handle in place.
	Login(identity string, secondaryPort int, handle model.Pusher) bool

	// Logout removes the identity's session; false if it was not online.
	Logout(identity string) bool

	// ListOnline returns the identities with a current session.
	ListOnline() []string

	// ListAllWithStatus maps every known identity to its online flag.
	ListAllWithStatus() map[string]bool

	// DeleteIdentity removes an identity permanently, cascading through
	// groups, pending queue and history. False if it was never known.
	DeleteIdentity(identity string) bool

	// CleanupInvalid removes every known identity that is empty or
	// whitespace-only, cascading like DeleteIdentity. Returns the count.
	CleanupInvalid() int

	// Session returns the live session for an online identity.
	Session(identity string) (*Session, bool)

	// Broadcast pushes a system event to every online session,
	// best-effort per recipient.
	Broadcast(ev model.Event)

	// SubscribeChanges returns the presence transition stream.
	SubscribeChanges() <-chan Change

	// OnlineCount and KnownCount report registry sizes for stats.
	OnlineCount() int
	KnownCount() int
}

// Session is one online identity. Exactly one exists per online identity;
// a reconnect mutates the transport handle in place.
type Session struct {
	Identity string

	mu            sync.Mutex
	handle        model.Pusher
	secondaryPort int
}

// Push delivers an event over the session's live transport handle.
func (s *Session) Push(ev model.Event) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return ErrNoTransport
	}
	return handle.Push(ev)
}

// Connected reports whether the session has a live transport handle.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// SecondaryPort returns the session's secondary port value.
func (s *Session) SecondaryPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondaryPort
}

// setTransport replaces the handle and secondary port atomically.
func (s *Session) setTransport(handle model.Pusher, secondaryPort int) {
	s.mu.Lock()
	s.handle = handle
	s.secondaryPort = secondaryPort
	s.mu.Unlock()
}
