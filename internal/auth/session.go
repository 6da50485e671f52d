package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds how long WaitForUser blocks for an initial sign-in.
const DefaultWaitTimeout = 3 * time.Second

// Event describes an auth state transition.
type Event struct {
	Authenticated bool
	User          *User
}

// Session owns the current user for long-lived clients such as the CLI. Subscribers
// get the current state immediately and every change afterwards.
type Session struct {
	mu          sync.RWMutex
	user        *User
	subscribers map[chan Event]struct{}
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{subscribers: make(map[chan Event]struct{})}
}

// CurrentUser returns the signed-in user, if any.
func (s *Session) CurrentUser() (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != nil
}

// SignIn replaces the current user and notifies subscribers.
func (s *Session) SignIn(user *User) {
	s.set(user)
}

// SignOut clears the current user and notifies subscribers.
func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	event := Event{Authenticated: user != nil, User: user}
	for ch := range s.subscribers {
		// Slow subscribers only miss intermediate states; the latest is kept.
		select {
		case <-ch:
		default:
		}
		ch <- event
	}
}

// Subscribe returns a channel of auth events and a function that cancels the
// subscription and closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	s.mu.Lock()
	ch <- Event{Authenticated: s.user != nil, User: s.user}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// WaitForUser blocks until a user is signed in, the timeout elapses or ctx ends.
// It returns false when no user became available.
func (s *Session) WaitForUser(ctx context.Context, timeout time.Duration) (*User, bool) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	events, cancel := s.Subscribe()
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case event := <-events:
			if event.Authenticated {
				return event.User, true
			}
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Bind returns ctx carrying the current user, or ctx unchanged when signed out.
func (s *Session) Bind(ctx context.Context) context.Context {
	if user, ok := s.CurrentUser(); ok {
		return WithUser(ctx, user)
	}
	return ctx
}
