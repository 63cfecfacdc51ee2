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

// Join admits conn to the room of mapID.
//
// A non-owner joining a closed map is refused with SESSION_CLOSED and never
// enters the room. Otherwise the room is told about the new participant and
// the joiner receives the persisted snapshot. Repeating a join re-sends both
// without changing membership.
func (e *Engine) Join(ctx context.Context, conn Conn, mapID string) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.join", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	if err := requireIdentity(conn); err != nil {
		return err
	}
	if err := e.requireUser(ctx, conn.UserID); err != nil {
		return err
	}
	session, err := e.loadSession(ctx, mapID)
	if err != nil {
		return err
	}

	isOwner := conn.UserID == session.OwnerID
	if !isOwner && !session.IsOpen {
		log.Printf("mapsession: join rejected user=%q map=%q reason=closed", conn.UserID, mapID)
		return apperrors.WithMetadata(apperrors.CodeSessionClosed, "map is closed", map[string]string{
			"MapID":   session.ID,
			"MapName": session.Name,
		})
	}

	role := protocol.RoleOwner
	characterID := ""
	if !isOwner {
		role = protocol.RoleMember
		if characterID, err = e.resolveCharacter(ctx, session.CampaignID, conn.UserID); err != nil {
			return err
		}
	}

	admitted, added := e.rooms.Join(session.ID, conn.ID)
	if !admitted {
		return apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("connection %s is not attached", conn.ID))
	}
	e.addParticipant(Participant{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		MapID:        session.ID,
		Role:         role,
		CharacterID:  characterID,
		JoinedAt:     e.now().UTC(),
	})
	if added {
		log.Printf("mapsession: joined user=%q map=%q conn=%q role=%s", conn.UserID, session.ID, conn.ID, role)
	}

	notice := protocol.MemberConnected{
		Map:          descriptorOf(session),
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Role:         role,
	}
	if characterID != "" {
		notice.CharacterID = &characterID
	}
	e.rooms.Broadcast(session.ID, protocol.NewFrame(protocol.TypeMemberConnected, notice), "")

	if isOwner || session.IsOpen {
		e.rooms.SendTo(conn.ID, protocol.NewFrame(protocol.TypeInitializeState, protocol.InitializeState{
			MapID:    session.ID,
			Snapshot: toWireSnapshot(session.Snapshot),
		}))
		return nil
	}
	// Unreachable while the closed-map gate above holds; kept so a relaxed
	// gate falls back to a live snapshot from the owner.
	if err := e.requestOwnerState(session, conn.ID); err != nil {
		log.Printf("mapsession: live snapshot unavailable map=%q target=%q: %v", session.ID, conn.ID, err)
	}
	return nil
}

// Leave removes conn from the room of mapID and confirms with
// member-disconnected. When an admitted owner connection leaves, the map is
// persisted as closed before the remaining members receive
// session-force-closed; if that write fails nobody is notified.
func (e *Engine) Leave(ctx context.Context, conn Conn, mapID string) (err error) {
	ctx, span := e.startSpan(ctx, "mapsession.leave", conn, mapID)
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	if err := requireIdentity(conn); err != nil {
		return err
	}
	wasMember := e.rooms.Leave(mapID, conn.ID)
	e.removeParticipant(conn.ID, mapID)
	if conn.ID != "" {
		e.rooms.SendTo(conn.ID, protocol.NewFrame(protocol.TypeMemberDisconnected, protocol.MemberDisconnected{MapID: mapID}))
	}
	// Only an admitted owner connection closes the map; another tab of the
	// same user leaving a room it never joined must not end the session.
	if !wasMember {
		return nil
	}

	session, err := e.loadSession(ctx, mapID)
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.OwnerID != conn.UserID {
		return nil
	}

	if err := e.persistOpen(ctx, session.ID, false); err != nil {
		return err
	}
	delivered := e.broadcastForceClosed(session.ID, conn.ID, i18n.KeySessionOwnerLeft)
	log.Printf("mapsession: owner left user=%q map=%q notified=%d", conn.UserID, session.ID, delivered)
	return nil
}

func (e *Engine) requireUser(ctx context.Context, userID string) error {
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	_, err := e.members.GetUser(callCtx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "user not found", map[string]string{
			"UserID":                   userID,
			apperrors.MetadataResource: "user",
		})
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, "load user", err)
	}
	return nil
}

// resolveCharacter returns the character userID plays in campaignID, or ""
// when the user has no membership or no bound character.
func (e *Engine) resolveCharacter(ctx context.Context, campaignID, userID string) (string, error) {
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	member, err := e.members.GetCampaignMember(callCtx, campaignID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistenceFailure, "load campaign membership", err)
	}
	return member.CharacterID, nil
}

func (e *Engine) persistOpen(ctx context.Context, mapID string, open bool) error {
	callCtx, cancel := e.storeContext(ctx)
	defer cancel()
	err := e.sessions.SetMapOpen(callCtx, mapID, open)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "map not found", map[string]string{"MapID": mapID})
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, fmt.Sprintf("set map %s open=%t", mapID, open), err)
	}
	return nil
}

func (e *Engine) broadcastForceClosed(mapID, exclude, reasonKey string) int {
	return e.rooms.BroadcastEach(mapID, exclude, func(connID string) protocol.Frame {
		return protocol.NewFrame(protocol.TypeSessionForceClosed, protocol.SessionForceClosed{
			MapID:  mapID,
			Reason: e.localizerFor(connID).Text(reasonKey),
		})
	})
}
