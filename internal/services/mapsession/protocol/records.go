package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Record is one opaque drawing element (marker, line or circle). The server
// only requires a JSON object with a string id; every other field is relayed
// and persisted untouched.
type Record = json.RawMessage

// Position is a point on the map surface.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Snapshot is the full drawing state of a map.
type Snapshot struct {
	Markers []Record `json:"markers"`
	Lines   []Record `json:"lines"`
	Circles []Record `json:"circles"`
}

// Normalize replaces nil collections with empty ones so encoded snapshots
// always carry arrays.
func (s Snapshot) Normalize() Snapshot {
	if s.Markers == nil {
		s.Markers = []Record{}
	}
	if s.Lines == nil {
		s.Lines = []Record{}
	}
	if s.Circles == nil {
		s.Circles = []Record{}
	}
	return s
}

func (s Snapshot) validate() error {
	for _, group := range []struct {
		name    string
		records []Record
	}{
		{"markers", s.Markers},
		{"lines", s.Lines},
		{"circles", s.Circles},
	} {
		for _, record := range group.records {
			if err := validateRecord(group.name, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordID returns the id of a drawing record.
func RecordID(record Record) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil || fields == nil {
		return "", false
	}
	var id string
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

func validateRecord(field string, record Record) error {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return invalidArgument("%s entries must be objects", field)
	}
	if _, ok := RecordID(record); !ok {
		return invalidArgument("%s entries require a string id", field)
	}
	return nil
}
