package protocol

// JoinRoom asks to be admitted to a map session.
type JoinRoom struct {
	MapID string `json:"map_id"`
}

func (p JoinRoom) validate() error { return requireField("map_id", p.MapID) }

// LeaveRoom leaves a map session voluntarily.
type LeaveRoom struct {
	MapID string `json:"map_id"`
}

func (p LeaveRoom) validate() error { return requireField("map_id", p.MapID) }

// SetVisibility opens or closes a map session.
type SetVisibility struct {
	MapID  string `json:"map_id"`
	IsOpen *bool  `json:"is_open"`
}

func (p SetVisibility) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	if p.IsOpen == nil {
		return invalidArgument("is_open is required")
	}
	return nil
}

// SaveState overwrites the persisted snapshot of a map.
type SaveState struct {
	MapID string `json:"map_id"`
	Snapshot
}

func (p SaveState) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	return p.Snapshot.validate()
}

// AddMarker places a marker.
type AddMarker struct {
	MapID  string `json:"map_id"`
	Marker Record `json:"marker"`
}

func (p AddMarker) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	return validateRecord("marker", p.Marker)
}

// RemoveMarker removes a marker by id.
type RemoveMarker struct {
	MapID    string `json:"map_id"`
	MarkerID string `json:"marker_id"`
}

func (p RemoveMarker) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	return requireField("marker_id", p.MarkerID)
}

// MoveMarker moves a marker to a new position.
type MoveMarker struct {
	MapID       string    `json:"map_id"`
	MarkerID    string    `json:"marker_id"`
	NewPosition *Position `json:"new_position"`
}

func (p MoveMarker) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	if err := requireField("marker_id", p.MarkerID); err != nil {
		return err
	}
	if p.NewPosition == nil {
		return invalidArgument("new_position is required")
	}
	return nil
}

// AddLine draws a line.
type AddLine struct {
	MapID string `json:"map_id"`
	Line  Record `json:"line"`
}

func (p AddLine) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	return validateRecord("line", p.Line)
}

// RemoveLine erases a line by id.
type RemoveLine struct {
	MapID  string `json:"map_id"`
	LineID string `json:"line_id"`
}

func (p RemoveLine) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	return requireField("line_id", p.LineID)
}

// RequestState asks the owner for the live snapshot of a map.
type RequestState struct {
	MapID string `json:"map_id"`
}

func (p RequestState) validate() error { return requireField("map_id", p.MapID) }

// RelayState is the owner's live snapshot addressed to one connection.
type RelayState struct {
	MapID              string `json:"map_id"`
	TargetConnectionID string `json:"target_connection_id"`
	Snapshot
}

func (p RelayState) validate() error {
	if err := requireField("map_id", p.MapID); err != nil {
		return err
	}
	if err := requireField("target_connection_id", p.TargetConnectionID); err != nil {
		return err
	}
	return p.Snapshot.validate()
}
