// Package room keeps the connection directory and the per-map broadcast
// groups of the map session service.
package room

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
)

// Peer is one live connection able to receive frames.
//
// Send must not block on the network; implementations enqueue and return.
type Peer interface {
	ID() string
	Send(frame protocol.Frame) error
}

// Manager owns the directory of attached peers and every map room.
type Manager struct {
	mu          sync.RWMutex
	peers       map[string]Peer
	rooms       map[string]*mapRoom
	memberships map[string]map[string]struct{}
}

type mapRoom struct {
	mu      sync.Mutex
	mapID   string
	members map[string]Peer
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		peers:       make(map[string]Peer),
		rooms:       make(map[string]*mapRoom),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Attach adds peer to the connection directory so it can be addressed by id.
func (m *Manager) Attach(peer Peer) {
	if peer == nil || strings.TrimSpace(peer.ID()) == "" {
		return
	}
	m.mu.Lock()
	m.peers[peer.ID()] = peer
	m.mu.Unlock()
}

// Detach removes connID from the directory and from every room it joined.
// It returns the map ids the connection was evicted from.
func (m *Manager) Detach(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, connID)
	joined := m.memberships[connID]
	delete(m.memberships, connID)

	mapIDs := make([]string, 0, len(joined))
	for mapID := range joined {
		mapIDs = append(mapIDs, mapID)
		m.removeLocked(mapID, connID)
	}
	sort.Strings(mapIDs)
	return mapIDs
}

// Join admits connID to the room of mapID. It reports whether the connection
// is admitted and whether this call added it; repeated joins are no-ops.
func (m *Manager) Join(mapID, connID string) (admitted bool, added bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[connID]
	if !ok || strings.TrimSpace(mapID) == "" {
		return false, false
	}
	r, ok := m.rooms[mapID]
	if !ok {
		r = &mapRoom{mapID: mapID, members: make(map[string]Peer)}
		m.rooms[mapID] = r
	}

	r.mu.Lock()
	_, exists := r.members[connID]
	r.members[connID] = peer
	r.mu.Unlock()

	joined, ok := m.memberships[connID]
	if !ok {
		joined = make(map[string]struct{})
		m.memberships[connID] = joined
	}
	joined[mapID] = struct{}{}
	return true, !exists
}

// Leave removes connID from the room of mapID. It reports whether the
// connection was a member.
func (m *Manager) Leave(mapID, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if joined, ok := m.memberships[connID]; ok {
		delete(joined, mapID)
		if len(joined) == 0 {
			delete(m.memberships, connID)
		}
	}
	return m.removeLocked(mapID, connID)
}

func (m *Manager) removeLocked(mapID, connID string) bool {
	r, ok := m.rooms[mapID]
	if !ok {
		return false
	}
	r.mu.Lock()
	_, member := r.members[connID]
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(m.rooms, mapID)
	}
	return member
}

// Evict empties the room of mapID and returns the evicted connection ids.
func (m *Manager) Evict(mapID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[mapID]
	if !ok {
		return nil
	}
	delete(m.rooms, mapID)

	r.mu.Lock()
	evicted := make([]string, 0, len(r.members))
	for connID := range r.members {
		evicted = append(evicted, connID)
		if joined, ok := m.memberships[connID]; ok {
			delete(joined, mapID)
			if len(joined) == 0 {
				delete(m.memberships, connID)
			}
		}
	}
	r.members = make(map[string]Peer)
	r.mu.Unlock()
	sort.Strings(evicted)
	return evicted
}

// Broadcast delivers frame to every member of mapID except exclude and
// returns how many peers accepted it. Broadcasts on one room are serialized,
// so every member observes them in issue order. Delivery failures are logged.
func (m *Manager) Broadcast(mapID string, frame protocol.Frame, exclude string) int {
	return m.BroadcastEach(mapID, exclude, func(string) protocol.Frame { return frame })
}

// BroadcastEach is Broadcast with a frame built per recipient, used when the
// payload is localized for each connection. build runs under the room lock
// and must not call back into the Manager.
func (m *Manager) BroadcastEach(mapID string, exclude string, build func(connID string) protocol.Frame) int {
	m.mu.RLock()
	r, ok := m.rooms[mapID]
	m.mu.RUnlock()
	if !ok || build == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for connID, peer := range r.members {
		if exclude != "" && connID == exclude {
			continue
		}
		frame := build(connID)
		if err := peer.Send(frame); err != nil {
			log.Printf("mapsession: broadcast %s map=%q conn=%q failed: %v", frame.Type, mapID, connID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers frame to one attached connection. Unknown connections and
// delivery failures are logged and reported as false.
func (m *Manager) SendTo(connID string, frame protocol.Frame) bool {
	m.mu.RLock()
	peer, ok := m.peers[connID]
	m.mu.RUnlock()
	if !ok {
		log.Printf("mapsession: send %s to unknown conn=%q dropped", frame.Type, connID)
		return false
	}
	if err := peer.Send(frame); err != nil {
		log.Printf("mapsession: send %s conn=%q failed: %v", frame.Type, connID, err)
		return false
	}
	return true
}

// IsMember reports whether connID is currently in the room of mapID.
func (m *Manager) IsMember(mapID, connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[mapID]
	if !ok {
		return false
	}
	r.mu.Lock()
	_, member := r.members[connID]
	r.mu.Unlock()
	return member
}

// Members returns the sorted connection ids in the room of mapID.
func (m *Manager) Members(mapID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[mapID]
	if !ok {
		return nil
	}
	r.mu.Lock()
	members := make([]string, 0, len(r.members))
	for connID := range r.members {
		members = append(members, connID)
	}
	r.mu.Unlock()
	sort.Strings(members)
	return members
}

// Count returns the number of members in the room of mapID.
func (m *Manager) Count(mapID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[mapID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Rooms returns the map ids connID currently belongs to.
func (m *Manager) Rooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	joined := m.memberships[connID]
	mapIDs := make([]string, 0, len(joined))
	for mapID := range joined {
		mapIDs = append(mapIDs, mapID)
	}
	sort.Strings(mapIDs)
	return mapIDs
}
