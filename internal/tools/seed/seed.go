// Package seed fills a development database with campaigns, players and
// maps so the map session service has something to serve.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
	storesqlite "github.com/dndtoolbox/toolbox/internal/services/mapsession/storage/sqlite"
)

// Config holds seed configuration.
type Config struct {
	DBPath    string
	Preset    Preset
	Seed      int64
	Campaigns int // Override preset's campaign count (0 = use preset default)
	Verbose   bool
}

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() Config {
	return Config{
		DBPath: "data/toolbox.db",
		Preset: PresetDemo,
	}
}

// Store is the write side of the store the seeder fills.
type Store interface {
	CreateUser(ctx context.Context, user storage.User) error
	CreateCampaign(ctx context.Context, campaign storage.Campaign) error
	CreateCharacter(ctx context.Context, characterID, userID, name string) error
	AddCampaignMember(ctx context.Context, member storage.CampaignMember) error
	CreateMap(ctx context.Context, m storage.MapSession) error
}

// SeededUser is one generated account, reported so developers can mint
// tokens for it.
type SeededUser struct {
	storage.User
	CampaignID  string
	Role        string
	CharacterID string
}

// Summary describes what a run created.
type Summary struct {
	Seed      int64
	Users     []SeededUser
	Campaigns []storage.Campaign
	Maps      []storage.MapSummary
}

// Generator creates seed data against a Store.
type Generator struct {
	config Config
	rng    *rand.Rand
	store  Store
	names  *nameRegistry
	log    io.Writer
	now    func() time.Time
}

// NewGenerator builds a Generator. A zero seed picks one from the clock.
func NewGenerator(cfg Config, store Store, log io.Writer) (*Generator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Preset == "" {
		cfg.Preset = PresetDemo
	}
	if err := ValidatePreset(cfg.Preset); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if log == nil {
		log = io.Discard
	}
	return &Generator{
		config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		store:  store,
		names:  newNameRegistry(),
		log:    log,
		now:    time.Now,
	}, nil
}

// Run opens the database at cfg.DBPath, seeds it and prints a summary.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("db path is required")
	}
	if out == nil {
		out = io.Discard
	}
	store, err := storesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var progress io.Writer = io.Discard
	if cfg.Verbose {
		progress = out
	}
	gen, err := NewGenerator(cfg, store, progress)
	if err != nil {
		return err
	}
	summary, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	return WriteSummary(out, summary)
}

// Run executes the configured preset.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	preset := GetPresetConfig(g.config.Preset)
	numCampaigns := preset.Campaigns
	if g.config.Campaigns > 0 {
		numCampaigns = g.config.Campaigns
	}

	summary := Summary{Seed: g.config.Seed}
	fmt.Fprintf(g.log, "Running preset %q with seed %d: %d campaign(s)\n", g.config.Preset, g.config.Seed, numCampaigns)
	for i := 0; i < numCampaigns; i++ {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		if err := g.generateCampaign(ctx, preset, &summary); err != nil {
			return Summary{}, fmt.Errorf("generate campaign %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(g.log, "Generation complete: %d campaign(s), %d map(s)\n", len(summary.Campaigns), len(summary.Maps))
	return summary, nil
}

func (g *Generator) generateCampaign(ctx context.Context, preset PresetConfig, summary *Summary) error {
	dm, err := g.createUser(ctx, "dm")
	if err != nil {
		return err
	}
	campaign := storage.Campaign{
		ID:   g.newID(),
		Name: g.names.unique(g.pick(campaignAdjectives) + " " + g.pick(campaignNouns)),
		DMID: dm.ID,
	}
	if err := g.store.CreateCampaign(ctx, campaign); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	summary.Campaigns = append(summary.Campaigns, campaign)
	summary.Users = append(summary.Users, SeededUser{User: dm, CampaignID: campaign.ID, Role: "owner"})
	fmt.Fprintf(g.log, "  Created campaign: %s (%s)\n", campaign.Name, campaign.ID)

	for i, n := 0, g.between(preset.PlayersMin, preset.PlayersMax); i < n; i++ {
		player, err := g.createUser(ctx, g.pick(playerHandles))
		if err != nil {
			return err
		}
		member := storage.CampaignMember{CampaignID: campaign.ID, UserID: player.ID}
		if g.rng.Float64() >= preset.SpectatorRatio {
			member.CharacterID = g.newID()
			if err := g.store.CreateCharacter(ctx, member.CharacterID, player.ID, g.names.unique(g.pick(heroNames))); err != nil {
				return fmt.Errorf("create character: %w", err)
			}
		}
		if err := g.store.AddCampaignMember(ctx, member); err != nil {
			return fmt.Errorf("add campaign member: %w", err)
		}
		summary.Users = append(summary.Users, SeededUser{
			User:        player,
			CampaignID:  campaign.ID,
			Role:        "member",
			CharacterID: member.CharacterID,
		})
	}

	for i, n := 0, g.between(preset.MapsMin, preset.MapsMax); i < n; i++ {
		m := storage.MapSession{
			ID:         g.newID(),
			Name:       g.names.unique(g.pick(mapNames)),
			OwnerID:    dm.ID,
			CampaignID: campaign.ID,
			IsOpen:     g.rng.Float64() < preset.OpenRatio,
			Snapshot:   g.snapshot(preset),
			CreatedAt:  g.now(),
		}
		if err := g.store.CreateMap(ctx, m); err != nil {
			return fmt.Errorf("create map: %w", err)
		}
		summary.Maps = append(summary.Maps, storage.MapSummary{
			ID:         m.ID,
			Name:       m.Name,
			OwnerID:    m.OwnerID,
			CampaignID: m.CampaignID,
			IsOpen:     m.IsOpen,
		})
		fmt.Fprintf(g.log, "    Created map: %s (%s) open=%t markers=%d\n", m.Name, m.ID, m.IsOpen, len(m.Snapshot.Markers))
	}
	return nil
}

func (g *Generator) createUser(ctx context.Context, handle string) (storage.User, error) {
	user := storage.User{ID: g.newID(), Username: g.names.unique(handle)}
	if err := g.store.CreateUser(ctx, user); err != nil {
		return storage.User{}, fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return user, nil
}

func (g *Generator) snapshot(preset PresetConfig) storage.Snapshot {
	snapshot := storage.Snapshot{
		Markers: []json.RawMessage{},
		Lines:   []json.RawMessage{},
		Circles: []json.RawMessage{},
	}
	for i, n := 0, g.between(preset.MarkersMin, preset.MarkersMax); i < n; i++ {
		snapshot.Markers = append(snapshot.Markers, g.record(map[string]any{
			"id":    g.newID(),
			"x":     g.rng.Intn(1000),
			"y":     g.rng.Intn(1000),
			"label": g.pick(markerLabels),
		}))
	}
	if len(snapshot.Markers) > 1 {
		snapshot.Lines = append(snapshot.Lines, g.record(map[string]any{
			"id":     g.newID(),
			"points": []int{g.rng.Intn(1000), g.rng.Intn(1000), g.rng.Intn(1000), g.rng.Intn(1000)},
		}))
		snapshot.Circles = append(snapshot.Circles, g.record(map[string]any{
			"id":     g.newID(),
			"x":      g.rng.Intn(1000),
			"y":      g.rng.Intn(1000),
			"radius": 10 + g.rng.Intn(90),
		}))
	}
	return snapshot
}

func (g *Generator) record(fields map[string]any) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("marshal seed record: %v", err))
	}
	return raw
}

// newID derives a UUID from the seeded source so a seed reproduces its ids.
func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		panic(fmt.Sprintf("generate seed id: %v", err))
	}
	return id.String()
}

func (g *Generator) pick(options []string) string {
	return options[g.rng.Intn(len(options))]
}

func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Intn(hi-lo+1)
}

// WriteSummary prints the generated accounts and maps.
func WriteSummary(out io.Writer, summary Summary) error {
	if _, err := fmt.Fprintf(out, "Seed: %d\n\nUsers:\n", summary.Seed); err != nil {
		return err
	}
	for _, user := range summary.Users {
		character := "-"
		if user.CharacterID != "" {
			character = user.CharacterID
		}
		if _, err := fmt.Fprintf(out, "  %-6s %s  %-12s campaign=%s character=%s\n", user.Role, user.ID, user.Username, user.CampaignID, character); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(out, "\nMaps:"); err != nil {
		return err
	}
	for _, m := range summary.Maps {
		if _, err := fmt.Fprintf(out, "  %s  %-14s owner=%s open=%t\n", m.ID, m.Name, m.OwnerID, m.IsOpen); err != nil {
			return err
		}
	}
	return nil
}
