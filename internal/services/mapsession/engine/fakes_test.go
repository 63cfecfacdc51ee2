package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/presence"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/room"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	maps    map[string]storage.MapSession
	users   map[string]storage.User
	members map[string]storage.CampaignMember

	setOpenErr error
	saveErr    error
	getErr     error
	setOpens   []bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		maps: map[string]storage.MapSession{
			"m1": {ID: "m1", Name: "Crypt", OwnerID: "dm", CampaignID: "c1"},
		},
		users: map[string]storage.User{
			"dm": {ID: "dm", Username: "dungeon"},
			"p1": {ID: "p1", Username: "rogue"},
			"p2": {ID: "p2", Username: "bard"},
		},
		members: map[string]storage.CampaignMember{
			"c1/p1": {CampaignID: "c1", UserID: "p1", CharacterID: "char-1"},
		},
	}
}

func (s *fakeStore) GetMapSession(_ context.Context, mapID string) (storage.MapSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return storage.MapSession{}, s.getErr
	}
	m, ok := s.maps[mapID]
	if !ok {
		return storage.MapSession{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) SetMapOpen(_ context.Context, mapID string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setOpenErr != nil {
		return s.setOpenErr
	}
	m, ok := s.maps[mapID]
	if !ok {
		return storage.ErrNotFound
	}
	m.IsOpen = open
	s.maps[mapID] = m
	s.setOpens = append(s.setOpens, open)
	return nil
}

func (s *fakeStore) SaveMapSnapshot(_ context.Context, mapID string, snapshot storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	m, ok := s.maps[mapID]
	if !ok {
		return storage.ErrNotFound
	}
	m.Snapshot = snapshot
	s.maps[mapID] = m
	return nil
}

func (s *fakeStore) DeleteMap(_ context.Context, mapID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.maps[mapID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.maps, mapID)
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, userID string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) GetCampaign(_ context.Context, campaignID string) (storage.Campaign, error) {
	return storage.Campaign{ID: campaignID, DMID: "dm"}, nil
}

func (s *fakeStore) GetCampaignMember(_ context.Context, campaignID, userID string) (storage.CampaignMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[campaignID+"/"+userID]
	if !ok {
		return storage.CampaignMember{}, storage.ErrNotFound
	}
	return member, nil
}

func (s *fakeStore) mapSession(t *testing.T, mapID string) storage.MapSession {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[mapID]
	if !ok {
		t.Fatalf("map %s not found", mapID)
	}
	return m
}

func (s *fakeStore) setOpen(mapID string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.maps[mapID]
	m.IsOpen = open
	s.maps[mapID] = m
}

type recordingPeer struct {
	id string

	mu     sync.Mutex
	frames []protocol.Frame
}

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Send(frame protocol.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

// drain returns and clears the frames received so far.
func (p *recordingPeer) drain() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.frames
	p.frames = nil
	return out
}

func ofType(frames []protocol.Frame, eventType string) []protocol.Frame {
	out := make([]protocol.Frame, 0)
	for _, frame := range frames {
		if frame.Type == eventType {
			out = append(out, frame)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	engine   *Engine
	store    *fakeStore
	rooms    *room.Manager
	presence *presence.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	rooms := room.NewManager()
	registry := presence.NewRegistry()
	eng, err := New(Deps{Presence: registry, Rooms: rooms, Sessions: store, Members: store})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{t: t, engine: eng, store: store, rooms: rooms, presence: registry}
}

func (h *harness) connect(connID, userID string) (Conn, *recordingPeer) {
	h.t.Helper()
	conn := Conn{ID: connID, UserID: userID, Localizer: i18n.Default()}
	peer := &recordingPeer{id: connID}
	if err := h.engine.Connect(context.Background(), conn, peer); err != nil {
		h.t.Fatalf("connect %s: %v", connID, err)
	}
	peer.drain()
	return conn, peer
}

func (h *harness) send(conn Conn, eventType string, payload any) {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}
	h.engine.Dispatch(context.Background(), conn, protocol.Frame{Type: eventType, Payload: raw})
}

func decodePayload[T any](t *testing.T, frame protocol.Frame) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(frame.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", frame.Type, err)
	}
	return out
}

var errStoreDown = errors.New("database is locked")
