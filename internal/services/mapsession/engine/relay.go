package engine

import (
	"context"
	"fmt"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

// AddMarker relays a new marker to the rest of the room.
func (e *Engine) AddMarker(ctx context.Context, conn Conn, req protocol.AddMarker) error {
	return e.relayDrawing(ctx, conn, req.MapID, protocol.NewFrame(protocol.TypeMarkerAdded, protocol.MarkerAdded{
		MapID:  req.MapID,
		Marker: req.Marker,
	}))
}

// RemoveMarker relays a marker removal to the rest of the room.
func (e *Engine) RemoveMarker(ctx context.Context, conn Conn, req protocol.RemoveMarker) error {
	return e.relayDrawing(ctx, conn, req.MapID, protocol.NewFrame(protocol.TypeMarkerRemoved, protocol.MarkerRemoved{
		MapID:    req.MapID,
		MarkerID: req.MarkerID,
	}))
}

// MoveMarker relays a marker move to the rest of the room.
func (e *Engine) MoveMarker(ctx context.Context, conn Conn, req protocol.MoveMarker) error {
	return e.relayDrawing(ctx, conn, req.MapID, protocol.NewFrame(protocol.TypeMarkerMoved, protocol.MarkerMoved{
		MapID:       req.MapID,
		MarkerID:    req.MarkerID,
		NewPosition: *req.NewPosition,
	}))
}

// AddLine relays a new line to the rest of the room.
func (e *Engine) AddLine(ctx context.Context, conn Conn, req protocol.AddLine) error {
	return e.relayDrawing(ctx, conn, req.MapID, protocol.NewFrame(protocol.TypeLineAdded, protocol.LineAdded{
		MapID: req.MapID,
		Line:  req.Line,
	}))
}

// RemoveLine relays a line removal to the rest of the room.
func (e *Engine) RemoveLine(ctx context.Context, conn Conn, req protocol.RemoveLine) error {
	return e.relayDrawing(ctx, conn, req.MapID, protocol.NewFrame(protocol.TypeLineRemoved, protocol.LineRemoved{
		MapID:  req.MapID,
		LineID: req.LineID,
	}))
}

// relayDrawing rebroadcasts an unpersisted drawing operation to every other
// member. The sender must be in the room and the map must still exist.
func (e *Engine) relayDrawing(ctx context.Context, conn Conn, mapID string, frame protocol.Frame) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.relay."+frame.Type, conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	if err := requireIdentity(conn); err != nil {
		return err
	}
	if !e.rooms.IsMember(mapID, conn.ID) {
		return apperrors.WithMetadata(apperrors.CodeNotJoined, "join the map before drawing", map[string]string{"MapID": mapID})
	}
	if _, err := e.loadSession(ctx, mapID); err != nil {
		return err
	}
	e.rooms.Broadcast(mapID, frame, conn.ID)
	return nil
}

// RequestState asks the owner's current connection to relay its live
// snapshot to conn. There is no timeout: if the owner never answers, the
// requester keeps whatever state it has.
func (e *Engine) RequestState(ctx context.Context, conn Conn, mapID string) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.request_state", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	if err := requireIdentity(conn); err != nil {
		return err
	}
	if !e.rooms.IsMember(mapID, conn.ID) {
		return apperrors.WithMetadata(apperrors.CodeNotJoined, "join the map before requesting state", map[string]string{"MapID": mapID})
	}
	session, err := e.loadSession(ctx, mapID)
	if err != nil {
		return err
	}
	if session.OwnerID == conn.UserID {
		e.rooms.SendTo(conn.ID, protocol.NewFrame(protocol.TypeInitializeState, protocol.InitializeState{
			MapID:    session.ID,
			Snapshot: toWireSnapshot(session.Snapshot),
		}))
		return nil
	}
	return e.requestOwnerState(session, conn.ID)
}

// RelayState delivers the owner's live snapshot to one room member.
func (e *Engine) RelayState(ctx context.Context, conn Conn, req protocol.RelayState) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.relay_state", conn, req.MapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	session, err := e.loadOwnedSession(ctx, conn, req.MapID)
	if err != nil {
		return err
	}
	if !e.rooms.IsMember(session.ID, req.TargetConnectionID) {
		return apperrors.WithMetadata(apperrors.CodeNotJoined, "relay target is not in the map room", map[string]string{
			"MapID":              session.ID,
			"TargetConnectionID": req.TargetConnectionID,
		})
	}
	e.rooms.SendTo(req.TargetConnectionID, protocol.NewFrame(protocol.TypeInitializeState, protocol.InitializeState{
		MapID:    session.ID,
		Snapshot: req.Snapshot.Normalize(),
	}))
	return nil
}

func (e *Engine) requestOwnerState(session storage.MapSession, targetConnID string) error {
	ownerConnID, ok := e.presence.Lookup(session.OwnerID)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeOwnerOffline, "map owner is not connected", map[string]string{"MapID": session.ID})
	}
	frame := protocol.NewFrame(protocol.TypeStateRequested, protocol.StateRequested{
		MapID:              session.ID,
		TargetConnectionID: targetConnID,
	})
	if !e.rooms.SendTo(ownerConnID, frame) {
		return apperrors.New(apperrors.CodeOwnerOffline, fmt.Sprintf("owner connection %s is gone", ownerConnID))
	}
	return nil
}
