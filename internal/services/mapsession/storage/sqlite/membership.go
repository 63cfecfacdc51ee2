package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.User, error) {
	if err := s.ready(ctx); err != nil {
		return storage.User{}, err
	}
	var user storage.User
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username FROM users WHERE id = ?`,
		strings.TrimSpace(userID),
	).Scan(&user.ID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetCampaign returns one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (storage.Campaign, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Campaign{}, err
	}
	var campaign storage.Campaign
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, dm_id FROM campaigns WHERE id = ?`,
		strings.TrimSpace(campaignID),
	).Scan(&campaign.ID, &campaign.Name, &campaign.DMID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Campaign{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return campaign, nil
}

// GetCampaignMember returns the membership row for a player in a campaign.
func (s *Store) GetCampaignMember(ctx context.Context, campaignID, userID string) (storage.CampaignMember, error) {
	if err := s.ready(ctx); err != nil {
		return storage.CampaignMember{}, err
	}
	var (
		member      storage.CampaignMember
		characterID sql.NullString
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT campaign_id, user_id, character_id FROM campaign_users
		 WHERE campaign_id = ? AND user_id = ?`,
		strings.TrimSpace(campaignID),
		strings.TrimSpace(userID),
	).Scan(&member.CampaignID, &member.UserID, &characterID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CampaignMember{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CampaignMember{}, fmt.Errorf("get campaign member: %w", err)
	}
	member.CharacterID = characterID.String
	return member, nil
}

// CreateUser inserts a user. Used by seeding and tests.
func (s *Store) CreateUser(ctx context.Context, user storage.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
		strings.TrimSpace(user.ID),
		strings.TrimSpace(user.Username),
		toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateCampaign inserts a campaign run by campaign.DMID.
func (s *Store) CreateCampaign(ctx context.Context, campaign storage.Campaign) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO campaigns (id, name, dm_id, created_at) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(campaign.ID),
		strings.TrimSpace(campaign.Name),
		strings.TrimSpace(campaign.DMID),
		toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// CreateCharacter inserts a character owned by userID.
func (s *Store) CreateCharacter(ctx context.Context, characterID, userID, name string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO characters (id, user_id, name) VALUES (?, ?, ?)`,
		strings.TrimSpace(characterID),
		strings.TrimSpace(userID),
		strings.TrimSpace(name),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

// AddCampaignMember adds a player to a campaign. An empty CharacterID stores
// a member without a bound character.
func (s *Store) AddCampaignMember(ctx context.Context, member storage.CampaignMember) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var characterID any
	if id := strings.TrimSpace(member.CharacterID); id != "" {
		characterID = id
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO campaign_users (campaign_id, user_id, character_id) VALUES (?, ?, ?)`,
		strings.TrimSpace(member.CampaignID),
		strings.TrimSpace(member.UserID),
		characterID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("add campaign member: %w", err)
	}
	return nil
}
