// Package presence tracks the single active socket connection of each user.
package presence

import (
	"strings"
	"sync"
)

// Registry maps user ids to their current connection id.
//
// A newer connection for the same user overwrites the previous entry without
// notifying the old connection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Register records connID as the active connection for userID and returns the
// connection it replaced, if any.
func (r *Registry) Register(userID, connID string) (previous string, replaced bool) {
	userID = strings.TrimSpace(userID)
	connID = strings.TrimSpace(connID)
	if userID == "" || connID == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, replaced = r.entries[userID]
	r.entries[userID] = connID
	if previous == connID {
		return "", false
	}
	return previous, replaced
}

// Unregister removes the entry for userID when it still points at connID.
// A closing stale tab therefore never removes its replacement.
func (r *Registry) Unregister(userID, connID string) bool {
	userID = strings.TrimSpace(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[userID]
	if !ok || current != strings.TrimSpace(connID) {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Lookup returns the active connection id for userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.entries[strings.TrimSpace(userID)]
	return connID, ok
}

// Len reports how many users currently have a connection.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
