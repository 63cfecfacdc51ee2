package protocol

// Participant roles carried by member-connected.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Connected tells a client its connection id right after the upgrade.
type Connected struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id,omitempty"`
}

// MapDescriptor is the static description of a map session.
type MapDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	CampaignID string `json:"campaign_id"`
}

// MemberConnected announces a newly admitted participant.
type MemberConnected struct {
	Map          MapDescriptor `json:"map"`
	UserID       string        `json:"user_id"`
	ConnectionID string        `json:"connection_id"`
	Role         string        `json:"role"`
	CharacterID  *string       `json:"character_id"`
}

// MemberDisconnected confirms a voluntary leave to the leaver.
type MemberDisconnected struct {
	MapID string `json:"map_id"`
}

// SessionForceClosed tells members the session was closed under them.
type SessionForceClosed struct {
	MapID  string `json:"map_id"`
	Reason string `json:"reason"`
}

// JoinRejected tells a client the join gate refused it. Clients return to
// the map list instead of retrying.
type JoinRejected struct {
	MapID  string `json:"map_id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// InitializeState carries a full snapshot to one connection.
type InitializeState struct {
	MapID string `json:"map_id"`
	Snapshot
}

// StateRequested asks the owner to relay its live snapshot to a target.
type StateRequested struct {
	MapID              string `json:"map_id"`
	TargetConnectionID string `json:"target_connection_id"`
}

// MarkerAdded relays AddMarker.
type MarkerAdded struct {
	MapID  string `json:"map_id"`
	Marker Record `json:"marker"`
}

// MarkerRemoved relays RemoveMarker.
type MarkerRemoved struct {
	MapID    string `json:"map_id"`
	MarkerID string `json:"marker_id"`
}

// MarkerMoved relays MoveMarker.
type MarkerMoved struct {
	MapID       string   `json:"map_id"`
	MarkerID    string   `json:"marker_id"`
	NewPosition Position `json:"new_position"`
}

// LineAdded relays AddLine.
type LineAdded struct {
	MapID string `json:"map_id"`
	Line  Record `json:"line"`
}

// LineRemoved relays RemoveLine.
type LineRemoved struct {
	MapID  string `json:"map_id"`
	LineID string `json:"line_id"`
}

// MapDeleted tells members the map no longer exists.
type MapDeleted struct {
	MapID  string `json:"map_id"`
	Reason string `json:"reason"`
}

// Error reports a rejected request. The connection stays open.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}
