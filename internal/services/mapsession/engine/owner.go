package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

// SetVisibility opens or closes mapID. Only the owner may call it. Closing
// persists first, then tells the whole room, sender included.
func (e *Engine) SetVisibility(ctx context.Context, conn Conn, mapID string, open bool) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.set_visibility", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	session, err := e.loadOwnedSession(ctx, conn, mapID)
	if err != nil {
		return err
	}
	if err := e.persistOpen(ctx, session.ID, open); err != nil {
		return err
	}
	log.Printf("mapsession: visibility user=%q map=%q open=%t", conn.UserID, session.ID, open)
	if !open {
		e.broadcastForceClosed(session.ID, "", i18n.KeySessionClosedByOwner)
	}
	return nil
}

// SaveState overwrites the persisted snapshot of mapID. Only the owner may
// call it; nothing is broadcast.
func (e *Engine) SaveState(ctx context.Context, conn Conn, mapID string, snapshot protocol.Snapshot) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.save_state", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	session, err := e.loadOwnedSession(ctx, conn, mapID)
	if err != nil {
		return err
	}
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	err = e.sessions.SaveMapSnapshot(callCtx, session.ID, toStoredSnapshot(snapshot))
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "map not found", map[string]string{"MapID": mapID})
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, fmt.Sprintf("save map %s", mapID), err)
	}
	return nil
}

// DeleteMap removes mapID, tells every member and empties the room. Only
// the owner may call it.
func (e *Engine) DeleteMap(ctx context.Context, conn Conn, mapID string) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.delete_map", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	session, err := e.loadOwnedSession(ctx, conn, mapID)
	if err != nil {
		return err
	}
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	err = e.sessions.DeleteMap(callCtx, session.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "map not found", map[string]string{"MapID": mapID})
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, fmt.Sprintf("delete map %s", mapID), err)
	}

	e.rooms.BroadcastEach(session.ID, "", func(connID string) protocol.Frame {
		return protocol.NewFrame(protocol.TypeMapDeleted, protocol.MapDeleted{
			MapID:  session.ID,
			Reason: e.localizerFor(connID).Text(i18n.KeyMapDeleted),
		})
	})
	evicted := e.rooms.Evict(session.ID)
	for _, connID := range evicted {
		e.removeParticipant(connID, session.ID)
	}
	log.Printf("mapsession: map deleted user=%q map=%q evicted=%d", conn.UserID, session.ID, len(evicted))
	return nil
}
