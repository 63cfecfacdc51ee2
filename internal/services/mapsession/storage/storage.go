// Package storage defines persistence contracts for map session state and
// the campaign membership records the session layer reads.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// Snapshot is the durable drawing state of a map. Entries are opaque JSON
// objects owned by clients.
type Snapshot struct {
	Markers []json.RawMessage
	Lines   []json.RawMessage
	Circles []json.RawMessage
}

// MapSession is one persisted map row.
type MapSession struct {
	ID         string
	Name       string
	OwnerID    string
	CampaignID string
	IsOpen     bool
	Snapshot   Snapshot
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MapSummary is the list view of a map.
type MapSummary struct {
	ID         string
	Name       string
	OwnerID    string
	CampaignID string
	IsOpen     bool
}

// User is the identity record behind a token subject.
type User struct {
	ID       string
	Username string
}

// Campaign is the part of a campaign record the session layer needs.
type Campaign struct {
	ID   string
	Name string
	DMID string
}

// CampaignMember links a player to a campaign, optionally through a character.
type CampaignMember struct {
	CampaignID  string
	UserID      string
	CharacterID string
}

// SessionStore persists the open flag and snapshot of map sessions.
type SessionStore interface {
	GetMapSession(ctx context.Context, mapID string) (MapSession, error)
	SetMapOpen(ctx context.Context, mapID string, open bool) error
	SaveMapSnapshot(ctx context.Context, mapID string, snapshot Snapshot) error
	DeleteMap(ctx context.Context, mapID string) error
}

// MapCatalog creates and lists maps.
type MapCatalog interface {
	CreateMap(ctx context.Context, m MapSession) error
	ListOwnedMaps(ctx context.Context, userID string) ([]MapSummary, error)
	ListMemberMaps(ctx context.Context, userID string) ([]MapSummary, error)
}

// MembershipStore answers identity and campaign membership questions.
type MembershipStore interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetCampaign(ctx context.Context, campaignID string) (Campaign, error)
	// GetCampaignMember returns ErrNotFound when the user does not play in
	// the campaign. CharacterID is empty when no character is bound.
	GetCampaignMember(ctx context.Context, campaignID, userID string) (CampaignMember, error)
}
