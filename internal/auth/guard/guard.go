// Package guard provides per-account mutual exclusion for refresh attempts.
// The upstream rotates refresh tokens on use, so two in-flight refreshes for
// one account would invalidate each other and the loser could be misread as a
// dead grant.
package guard

import "sync"

type key struct {
	username string
	provider string
}

// Guard is an in-memory registry of (username, provider) pairs with a refresh
// in flight. Zero value is ready to use.
type Guard struct {
	mu       sync.Mutex
	inFlight map[key]struct{}
}

// New returns an empty guard.
func New() *Guard {
	return &Guard{inFlight: make(map[key]struct{})}
}

// TryLock atomically claims the account for refreshing. It returns false when
// another refresh holds the account, in which case the caller must back off
// without contacting the provider or persistence.
func (g *Guard) TryLock(username, provider string) bool {
	k := key{username: username, provider: provider}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[key]struct{})
	}
	if _, held := g.inFlight[k]; held {
		return false
	}
	g.inFlight[k] = struct{}{}
	return true
}

// Unlock releases the account. Callers pair a successful TryLock with a
// deferred Unlock so every exit path releases.
func (g *Guard) Unlock(username, provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key{username: username, provider: provider})
}

// Held reports whether a refresh is currently in flight for the account.
func (g *Guard) Held(username, provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inFlight[key{username: username, provider: provider}]
	return held
}
