package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event is a session lifecycle event delivered to session listeners.
type Event int

const (
	// EventKexCompleted fires when algorithm negotiation finishes and the
	// key exchange proper begins.
	EventKexCompleted Event = iota
	// EventKeyEstablished fires when freshly derived keys are installed.
	EventKeyEstablished
	// EventAuthenticated fires when the upper layer marks the session
	// authenticated.
	EventAuthenticated
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventKexCompleted:
		return "KexCompleted"
	case EventKeyEstablished:
		return "KeyEstablished"
	case EventAuthenticated:
		return "Authenticated"
	default:
		return "Unknown"
	}
}

// Listener observes session lifecycle events. Implementations must not
// block; errors and panics are logged and never abort delivery to the
// remaining listeners.
type Listener interface {
	// SessionEvent is called for each lifecycle event.
	SessionEvent(s *Session, event Event)

	// SessionClosed is called exactly once when the session closes.
	SessionClosed(s *Session)
}

// ChannelListener observes channel lifecycle on a session. Channels are
// managed by upstream services; they reference their session by id through
// the registry rather than owning it.
type ChannelListener interface {
	// ChannelOpened is called when a channel is opened on the session.
	ChannelOpened(sessionID uint64, channelID uint32)

	// ChannelClosed is called when a channel on the session closes.
	ChannelClosed(sessionID uint64, channelID uint32)
}

// listenerSet is a snapshot-on-read listener collection. Additions are
// rejected once the set is sealed (session closing); readers iterate a
// cloned slice without holding the lock.
type listenerSet[T comparable] struct {
	mu        sync.Mutex
	listeners []T
	sealed    bool
}

// add registers a listener. Returns false when the set is sealed or the
// listener is already present.
func (ls *listenerSet[T]) add(l T) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.sealed {
		return false
	}
	for _, existing := range ls.listeners {
		if existing == l {
			return false
		}
	}
	ls.listeners = append(ls.listeners, l)
	return true
}

// remove deregisters a listener. Returns false when it was not registered.
func (ls *listenerSet[T]) remove(l T) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.listeners {
		if existing == l {
			ls.listeners = append(ls.listeners[:i], ls.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the current listeners for lock-free iteration.
func (ls *listenerSet[T]) snapshot() []T {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]T, len(ls.listeners))
	copy(out, ls.listeners)
	return out
}

// seal rejects further registrations and clears the set, returning the
// final snapshot for a last notification round.
func (ls *listenerSet[T]) seal() []T {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.sealed = true
	out := ls.listeners
	ls.listeners = nil
	return out
}

// dispatch invokes fn for every listener in the snapshot, recovering and
// logging panics so one listener cannot starve the rest.
func dispatch[T comparable](log *logrus.Entry, listeners []T, fn func(T)) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Warn("Listener panicked")
				}
			}()
			fn(l)
		}()
	}
}
