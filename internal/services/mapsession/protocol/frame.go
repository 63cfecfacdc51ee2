// Package protocol defines the JSON frames exchanged over the map session
// socket: one envelope, a fixed payload shape per event type, and strict
// decoding of everything a client sends.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
)

// Inbound event types.
const (
	TypeJoinRoom      = "join-room"
	TypeLeaveRoom     = "leave-room"
	TypeSetVisibility = "set-visibility"
	TypeSaveState     = "save-state"
	TypeAddMarker     = "add-marker"
	TypeRemoveMarker  = "remove-marker"
	TypeMoveMarker    = "move-marker"
	TypeAddLine       = "add-line"
	TypeRemoveLine    = "remove-line"
	TypeRequestState  = "request-state"
	TypeRelayState    = "relay-state"
)

// Outbound event types.
const (
	TypeConnected          = "connected"
	TypeMemberConnected    = "member-connected"
	TypeMemberDisconnected = "member-disconnected"
	TypeSessionForceClosed = "session-force-closed"
	TypeJoinRejected       = "join-rejected"
	TypeInitializeState    = "initialize-state"
	TypeStateRequested     = "state-requested"
	TypeMarkerAdded        = "marker-added"
	TypeMarkerRemoved      = "marker-removed"
	TypeMarkerMoved        = "marker-moved"
	TypeLineAdded          = "line-added"
	TypeLineRemoved        = "line-removed"
	TypeMapDeleted         = "map-deleted"
	TypeError              = "error"
)

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewFrame encodes payload into a frame of the given type. Payloads are
// package-defined structs, so a marshal failure is logged and yields an
// empty object.
func NewFrame(eventType string, payload any) Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mapsession: marshal %s payload: %v", eventType, err)
		raw = json.RawMessage(`{}`)
	}
	return Frame{Type: eventType, Payload: raw}
}

// WithRequestID returns a copy of f correlated to a client request.
func (f Frame) WithRequestID(requestID string) Frame {
	f.RequestID = requestID
	return f
}

// validator is implemented by inbound payloads with required fields.
type validator interface {
	validate() error
}

// Decode strictly decodes raw into dst: unknown fields, trailing data and
// missing required fields are rejected with INVALID_ARGUMENT.
func Decode(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalidArgument("payload is required")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid payload", err)
	}
	if decoder.More() {
		return invalidArgument("payload has trailing data")
	}
	if v, ok := dst.(validator); ok {
		if err := v.validate(); err != nil {
			return err
		}
	}
	return nil
}

func invalidArgument(format string, args ...any) error {
	return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidArgument("%s is required", name)
	}
	return nil
}
