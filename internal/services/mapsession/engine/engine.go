// Package engine implements the map session protocol: who may join a map
// room, which snapshot a joiner receives, how drawing operations fan out and
// what happens when the owner leaves or closes the map.
//
// The engine owns the participant table. Connection directory and room
// membership live in the room.Manager, user-to-connection presence in the
// presence.Registry, and durable map state behind storage.SessionStore.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/platform/timeouts"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/presence"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/room"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

const tracerName = "github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"

// Conn identifies the caller of an engine operation. ID is empty for calls
// that do not originate from a socket (HTTP routes).
type Conn struct {
	ID        string
	UserID    string
	Localizer i18n.Localizer
}

// Participant is one connection admitted to a map room.
type Participant struct {
	ConnectionID string
	UserID       string
	MapID        string
	Role         string
	CharacterID  string
	JoinedAt     time.Time
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Presence     *presence.Registry
	Rooms        *room.Manager
	Sessions     storage.SessionStore
	Members      storage.MembershipStore
	StoreTimeout time.Duration
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Engine runs the map session protocol. It is safe for concurrent use by
// every connection handler.
type Engine struct {
	presence     *presence.Registry
	rooms        *room.Manager
	sessions     storage.SessionStore
	members      storage.MembershipStore
	storeTimeout time.Duration
	tracer       trace.Tracer
	now          func() time.Time

	mu           sync.RWMutex
	conns        map[string]Conn
	participants map[string]map[string]Participant
}

// New validates deps and returns an Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Presence == nil {
		return nil, errors.New("presence registry is required")
	}
	if deps.Rooms == nil {
		return nil, errors.New("room manager is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Members == nil {
		return nil, errors.New("membership store is required")
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = timeouts.StoreCall
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		presence:     deps.Presence,
		rooms:        deps.Rooms,
		sessions:     deps.Sessions,
		members:      deps.Members,
		storeTimeout: deps.StoreTimeout,
		tracer:       deps.Tracer,
		now:          deps.Now,
		conns:        make(map[string]Conn),
		participants: make(map[string]map[string]Participant),
	}, nil
}

// Connect attaches a new socket connection, registers its user as present
// and tells the client its connection id.
func (e *Engine) Connect(ctx context.Context, conn Conn, peer room.Peer) error {
	_, span := e.startSpan(ctx, "mapsession.connect", conn, "")
	defer span.End()

	if peer == nil || strings.TrimSpace(conn.ID) == "" || peer.ID() != conn.ID {
		err := errors.New("connection peer does not match connection id")
		endSpan(span, err)
		return err
	}
	e.rooms.Attach(peer)
	e.mu.Lock()
	e.conns[conn.ID] = conn
	e.mu.Unlock()

	if conn.UserID != "" {
		if previous, replaced := e.presence.Register(conn.UserID, conn.ID); replaced {
			log.Printf("mapsession: presence replaced user=%q conn=%q previous=%q", conn.UserID, conn.ID, previous)
		}
	}
	e.rooms.SendTo(conn.ID, protocol.NewFrame(protocol.TypeConnected, protocol.Connected{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
	}))
	return nil
}

// Disconnect cleans up after a transport-level disconnect: the presence
// entry is removed when it still names this connection, and the connection
// is evicted from every room it joined. No force-close is sent for an owner;
// only an explicit leave or visibility change closes a session.
func (e *Engine) Disconnect(ctx context.Context, connID string, reason string) {
	e.mu.Lock()
	conn, ok := e.conns[connID]
	delete(e.conns, connID)
	delete(e.participants, connID)
	e.mu.Unlock()
	conn.ID = connID

	_, span := e.startSpan(ctx, "mapsession.disconnect", conn, "")
	defer span.End()
	span.SetAttributes(attribute.String("mapsession.disconnect_reason", reason))

	if ok && conn.UserID != "" {
		e.presence.Unregister(conn.UserID, connID)
	}
	left := e.rooms.Detach(connID)
	if len(left) > 0 {
		log.Printf("mapsession: disconnect evicted conn=%q user=%q maps=%v reason=%q", connID, conn.UserID, left, reason)
	}
}

// Participants returns the admitted participants of mapID ordered by join time.
func (e *Engine) Participants(mapID string) []Participant {
	e.mu.RLock()
	out := make([]Participant, 0)
	for _, byMap := range e.participants {
		if participant, ok := byMap[mapID]; ok {
			out = append(out, participant)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (e *Engine) addParticipant(participant Participant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byMap, ok := e.participants[participant.ConnectionID]
	if !ok {
		byMap = make(map[string]Participant)
		e.participants[participant.ConnectionID] = byMap
	}
	if existing, ok := byMap[participant.MapID]; ok {
		participant.JoinedAt = existing.JoinedAt
	}
	byMap[participant.MapID] = participant
}

func (e *Engine) removeParticipant(connID, mapID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byMap, ok := e.participants[connID]
	if !ok {
		return
	}
	delete(byMap, mapID)
	if len(byMap) == 0 {
		delete(e.participants, connID)
	}
}

func (e *Engine) localizerFor(connID string) i18n.Localizer {
	e.mu.RLock()
	conn, ok := e.conns[connID]
	e.mu.RUnlock()
	if !ok {
		return i18n.Default()
	}
	return conn.Localizer
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

func (e *Engine) loadSession(ctx context.Context, mapID string) (storage.MapSession, error) {
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	session, err := e.sessions.GetMapSession(callCtx, mapID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.MapSession{}, apperrors.WithMetadata(apperrors.CodeNotFound, "map not found", map[string]string{"MapID": mapID})
	}
	if err != nil {
		return storage.MapSession{}, apperrors.Wrap(apperrors.CodePersistenceFailure, fmt.Sprintf("load map %s", mapID), err)
	}
	return session, nil
}

func (e *Engine) loadOwnedSession(ctx context.Context, conn Conn, mapID string) (storage.MapSession, error) {
	if err := requireIdentity(conn); err != nil {
		return storage.MapSession{}, err
	}
	session, err := e.loadSession(ctx, mapID)
	if err != nil {
		return storage.MapSession{}, err
	}
	if session.OwnerID != conn.UserID {
		return storage.MapSession{}, apperrors.WithMetadata(apperrors.CodeForbidden, "only the map owner may do this", map[string]string{"MapID": mapID})
	}
	return session, nil
}

func requireIdentity(conn Conn) error {
	if strings.TrimSpace(conn.UserID) == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "user not logged in")
	}
	return nil
}

func descriptorOf(session storage.MapSession) protocol.MapDescriptor {
	return protocol.MapDescriptor{
		ID:         session.ID,
		Name:       session.Name,
		OwnerID:    session.OwnerID,
		CampaignID: session.CampaignID,
	}
}

func toWireSnapshot(snapshot storage.Snapshot) protocol.Snapshot {
	return protocol.Snapshot{
		Markers: snapshot.Markers,
		Lines:   snapshot.Lines,
		Circles: snapshot.Circles,
	}.Normalize()
}

func toStoredSnapshot(snapshot protocol.Snapshot) storage.Snapshot {
	snapshot = snapshot.Normalize()
	return storage.Snapshot{
		Markers: snapshot.Markers,
		Lines:   snapshot.Lines,
		Circles: snapshot.Circles,
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, conn Conn, mapID string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []attribute.KeyValue{attribute.String("mapsession.connection_id", conn.ID)}
	if conn.UserID != "" {
		attrs = append(attrs, attribute.String("mapsession.user_id", conn.UserID))
	}
	if mapID != "" {
		attrs = append(attrs, attribute.String("mapsession.map_id", mapID))
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(apperrors.CodeOf(err)))
}
