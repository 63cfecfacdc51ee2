// Package sqlite provides the SQLite-backed map session store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/dndtoolbox/toolbox/internal/platform/storage/sqlitemigrate"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists maps, campaigns and campaign membership in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.SessionStore    = (*Store)(nil)
	_ storage.MapCatalog      = (*Store)(nil)
	_ storage.MembershipStore = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite map session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// GetMapSession returns one map with its snapshot.
func (s *Store) GetMapSession(ctx context.Context, mapID string) (storage.MapSession, error) {
	if err := s.ready(ctx); err != nil {
		return storage.MapSession{}, err
	}
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return storage.MapSession{}, fmt.Errorf("map id is required")
	}

	var (
		m                       storage.MapSession
		isOpen                  int
		markers, lines, circles string
		createdAt, updatedAt    int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, owner_id, campaign_id, is_open, markers, lines, circles, created_at, updated_at
		 FROM maps WHERE id = ?`,
		mapID,
	).Scan(&m.ID, &m.Name, &m.OwnerID, &m.CampaignID, &isOpen, &markers, &lines, &circles, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MapSession{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MapSession{}, fmt.Errorf("get map %s: %w", mapID, err)
	}
	m.IsOpen = isOpen != 0
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	if m.Snapshot.Markers, err = decodeRecords(markers); err != nil {
		return storage.MapSession{}, fmt.Errorf("decode markers of map %s: %w", mapID, err)
	}
	if m.Snapshot.Lines, err = decodeRecords(lines); err != nil {
		return storage.MapSession{}, fmt.Errorf("decode lines of map %s: %w", mapID, err)
	}
	if m.Snapshot.Circles, err = decodeRecords(circles); err != nil {
		return storage.MapSession{}, fmt.Errorf("decode circles of map %s: %w", mapID, err)
	}
	return m, nil
}

// SetMapOpen updates the open flag of one map.
func (s *Store) SetMapOpen(ctx context.Context, mapID string, open bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE maps SET is_open = ?, updated_at = ? WHERE id = ?`,
		boolToInt(open),
		toMillis(time.Now()),
		strings.TrimSpace(mapID),
	)
	if err != nil {
		return fmt.Errorf("set map %s open=%t: %w", mapID, open, err)
	}
	return requireAffected(result)
}

// SaveMapSnapshot overwrites markers, lines and circles of one map.
func (s *Store) SaveMapSnapshot(ctx context.Context, mapID string, snapshot storage.Snapshot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	markers, err := encodeRecords(snapshot.Markers)
	if err != nil {
		return fmt.Errorf("encode markers: %w", err)
	}
	lines, err := encodeRecords(snapshot.Lines)
	if err != nil {
		return fmt.Errorf("encode lines: %w", err)
	}
	circles, err := encodeRecords(snapshot.Circles)
	if err != nil {
		return fmt.Errorf("encode circles: %w", err)
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE maps SET markers = ?, lines = ?, circles = ?, updated_at = ? WHERE id = ?`,
		markers,
		lines,
		circles,
		toMillis(time.Now()),
		strings.TrimSpace(mapID),
	)
	if err != nil {
		return fmt.Errorf("save map %s snapshot: %w", mapID, err)
	}
	return requireAffected(result)
}

// DeleteMap removes one map.
func (s *Store) DeleteMap(ctx context.Context, mapID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM maps WHERE id = ?`, strings.TrimSpace(mapID))
	if err != nil {
		return fmt.Errorf("delete map %s: %w", mapID, err)
	}
	return requireAffected(result)
}

// CreateMap inserts a map row. Nil snapshot collections are stored as empty arrays.
func (s *Store) CreateMap(ctx context.Context, m storage.MapSession) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	if m.ID == "" {
		return fmt.Errorf("map id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("map name is required")
	}
	markers, err := encodeRecords(m.Snapshot.Markers)
	if err != nil {
		return fmt.Errorf("encode markers: %w", err)
	}
	lines, err := encodeRecords(m.Snapshot.Lines)
	if err != nil {
		return fmt.Errorf("encode lines: %w", err)
	}
	circles, err := encodeRecords(m.Snapshot.Circles)
	if err != nil {
		return fmt.Errorf("encode circles: %w", err)
	}
	createdAt := m.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := m.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO maps (id, name, owner_id, campaign_id, is_open, markers, lines, circles, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Name,
		strings.TrimSpace(m.OwnerID),
		strings.TrimSpace(m.CampaignID),
		boolToInt(m.IsOpen),
		markers,
		lines,
		circles,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create map: %w", err)
	}
	return nil
}

// ListOwnedMaps returns the maps a user owns, ordered by name.
func (s *Store) ListOwnedMaps(ctx context.Context, userID string) ([]storage.MapSummary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.listMaps(
		ctx,
		`SELECT id, name, owner_id, campaign_id, is_open FROM maps
		 WHERE owner_id = ? ORDER BY name, id`,
		strings.TrimSpace(userID),
	)
}

// ListMemberMaps returns the maps of every campaign the user plays in.
func (s *Store) ListMemberMaps(ctx context.Context, userID string) ([]storage.MapSummary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.listMaps(
		ctx,
		`SELECT m.id, m.name, m.owner_id, m.campaign_id, m.is_open FROM maps m
		 JOIN campaign_users cu ON cu.campaign_id = m.campaign_id
		 WHERE cu.user_id = ? ORDER BY m.name, m.id`,
		strings.TrimSpace(userID),
	)
}

func (s *Store) listMaps(ctx context.Context, query string, args ...any) ([]storage.MapSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}
	defer rows.Close()

	maps := make([]storage.MapSummary, 0)
	for rows.Next() {
		var (
			m      storage.MapSummary
			isOpen int
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.OwnerID, &m.CampaignID, &isOpen); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		m.IsOpen = isOpen != 0
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maps: %w", err)
	}
	return maps, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func encodeRecords(records []json.RawMessage) (string, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeRecords(value string) ([]json.RawMessage, error) {
	records := []json.RawMessage{}
	if strings.TrimSpace(value) == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(value), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
