package engine

import (
	"context"
	"log"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
)

// Dispatch decodes one inbound frame, runs the matching operation and
// answers failures on the sending connection. Failures never end the
// connection.
func (e *Engine) Dispatch(ctx context.Context, conn Conn, frame protocol.Frame) {
	if err := e.dispatch(ctx, conn, frame); err != nil {
		e.reject(conn, frame, err)
	}
}

func (e *Engine) dispatch(ctx context.Context, conn Conn, frame protocol.Frame) error {
	switch frame.Type {
	case protocol.TypeJoinRoom:
		var req protocol.JoinRoom
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.Join(ctx, conn, req.MapID)
	case protocol.TypeLeaveRoom:
		var req protocol.LeaveRoom
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.Leave(ctx, conn, req.MapID)
	case protocol.TypeSetVisibility:
		var req protocol.SetVisibility
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.SetVisibility(ctx, conn, req.MapID, *req.IsOpen)
	case protocol.TypeSaveState:
		var req protocol.SaveState
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.SaveState(ctx, conn, req.MapID, req.Snapshot)
	case protocol.TypeAddMarker:
		var req protocol.AddMarker
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.AddMarker(ctx, conn, req)
	case protocol.TypeRemoveMarker:
		var req protocol.RemoveMarker
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.RemoveMarker(ctx, conn, req)
	case protocol.TypeMoveMarker:
		var req protocol.MoveMarker
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.MoveMarker(ctx, conn, req)
	case protocol.TypeAddLine:
		var req protocol.AddLine
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.AddLine(ctx, conn, req)
	case protocol.TypeRemoveLine:
		var req protocol.RemoveLine
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.RemoveLine(ctx, conn, req)
	case protocol.TypeRequestState:
		var req protocol.RequestState
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.RequestState(ctx, conn, req.MapID)
	case protocol.TypeRelayState:
		var req protocol.RelayState
		if err := protocol.Decode(frame.Payload, &req); err != nil {
			return err
		}
		return e.RelayState(ctx, conn, req)
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unsupported frame type", map[string]string{"Type": frame.Type})
	}
}

// reject answers a failed request. A closed-map join gets join-rejected so
// the client returns to its map list; everything else gets an error frame.
func (e *Engine) reject(conn Conn, frame protocol.Frame, err error) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodePersistenceFailure, apperrors.CodeUnknown:
		log.Printf("mapsession: %s failed user=%q conn=%q: %v", frame.Type, conn.UserID, conn.ID, err)
	}

	if code == apperrors.CodeSessionClosed {
		metadata := apperrors.MetadataOf(err)
		name := metadata["MapName"]
		if name == "" {
			name = metadata["MapID"]
		}
		e.rooms.SendTo(conn.ID, protocol.NewFrame(protocol.TypeJoinRejected, protocol.JoinRejected{
			MapID:  metadata["MapID"],
			Code:   string(code),
			Reason: conn.Localizer.Text(i18n.KeyJoinRejectedClosed, name),
		}).WithRequestID(frame.RequestID))
		return
	}
	e.rooms.SendTo(conn.ID, ErrorFrame(conn.Localizer, err).WithRequestID(frame.RequestID))
}

// ErrorFrame renders err as a localized error frame. Rejected input also
// carries the unlocalized decode failure in detail.
func ErrorFrame(localizer i18n.Localizer, err error) protocol.Frame {
	code := apperrors.CodeOf(err)
	payload := protocol.Error{
		Code:      code.WireCode(),
		Message:   localizer.ErrorMessage(string(code), apperrors.ResourceOf(err)),
		Retryable: code.Retryable(),
	}
	if code == apperrors.CodeInvalidArgument {
		payload.Detail = err.Error()
	}
	return protocol.NewFrame(protocol.TypeError, payload)
}
