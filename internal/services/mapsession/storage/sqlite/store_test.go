package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "toolbox.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func seedCampaign(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	for _, user := range []storage.User{{ID: "dm", Username: "dungeon"}, {ID: "p1", Username: "rogue"}, {ID: "p2", Username: "bard"}} {
		if err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("create user %s: %v", user.ID, err)
		}
	}
	if err := store.CreateCampaign(ctx, storage.Campaign{ID: "c1", Name: "Sunless Keep", DMID: "dm"}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := store.CreateCharacter(ctx, "char-1", "p1", "Vex"); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if err := store.AddCampaignMember(ctx, storage.CampaignMember{CampaignID: "c1", UserID: "p1", CharacterID: "char-1"}); err != nil {
		t.Fatalf("add member p1: %v", err)
	}
	if err := store.AddCampaignMember(ctx, storage.CampaignMember{CampaignID: "c1", UserID: "p2"}); err != nil {
		t.Fatalf("add member p2: %v", err)
	}
	if err := store.CreateMap(ctx, storage.MapSession{ID: "m1", Name: "Crypt", OwnerID: "dm", CampaignID: "c1"}); err != nil {
		t.Fatalf("create map: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenTwiceReappliesNothing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "toolbox.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = second.Close()
}

func TestCreateMapStartsClosedAndEmpty(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)

	got, err := store.GetMapSession(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	if got.IsOpen {
		t.Fatal("new map should be closed")
	}
	if got.OwnerID != "dm" || got.CampaignID != "c1" || got.Name != "Crypt" {
		t.Fatalf("map = %+v", got)
	}
	if got.Snapshot.Markers == nil || len(got.Snapshot.Markers) != 0 || len(got.Snapshot.Lines) != 0 || len(got.Snapshot.Circles) != 0 {
		t.Fatalf("snapshot = %+v, want empty arrays", got.Snapshot)
	}
}

func TestCreateMapDuplicateReturnsAlreadyExists(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)

	err := store.CreateMap(context.Background(), storage.MapSession{ID: "m1", Name: "Again", OwnerID: "dm", CampaignID: "c1"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestSetMapOpenPersists(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	if err := store.SetMapOpen(ctx, "m1", true); err != nil {
		t.Fatalf("set open: %v", err)
	}
	got, err := store.GetMapSession(ctx, "m1")
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	if !got.IsOpen {
		t.Fatal("expected map to be open")
	}
	if err := store.SetMapOpen(ctx, "missing", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing map err = %v, want ErrNotFound", err)
	}
}

func TestSaveMapSnapshotOverwrites(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	first := storage.Snapshot{
		Markers: []json.RawMessage{json.RawMessage(`{"id":"k1","pos":{"x":1,"y":2},"color":"red"}`)},
		Lines:   []json.RawMessage{json.RawMessage(`{"id":"l1","points":[0,0,4,4]}`)},
	}
	if err := store.SaveMapSnapshot(ctx, "m1", first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := storage.Snapshot{Circles: []json.RawMessage{json.RawMessage(`{"id":"c1","r":5}`)}}
	if err := store.SaveMapSnapshot(ctx, "m1", second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.GetMapSession(ctx, "m1")
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	if len(got.Snapshot.Markers) != 0 || len(got.Snapshot.Lines) != 0 {
		t.Fatalf("expected markers and lines to be overwritten, got %+v", got.Snapshot)
	}
	if len(got.Snapshot.Circles) != 1 || string(got.Snapshot.Circles[0]) != `{"id":"c1","r":5}` {
		t.Fatalf("circles = %s", got.Snapshot.Circles)
	}
}

func TestDeleteMap(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	if err := store.DeleteMap(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetMapSession(ctx, "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteMap(ctx, "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListOwnedAndMemberMaps(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	owned, err := store.ListOwnedMaps(ctx, "dm")
	if err != nil {
		t.Fatalf("list owned: %v", err)
	}
	if len(owned) != 1 || owned[0].ID != "m1" {
		t.Fatalf("owned = %+v", owned)
	}
	member, err := store.ListMemberMaps(ctx, "p2")
	if err != nil {
		t.Fatalf("list member: %v", err)
	}
	if len(member) != 1 || member[0].CampaignID != "c1" {
		t.Fatalf("member = %+v", member)
	}
	none, err := store.ListMemberMaps(ctx, "dm")
	if err != nil {
		t.Fatalf("list member for dm: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("dm member maps = %+v, want none", none)
	}
}

func TestGetCampaignMemberResolvesCharacter(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	withCharacter, err := store.GetCampaignMember(ctx, "c1", "p1")
	if err != nil {
		t.Fatalf("get member p1: %v", err)
	}
	if withCharacter.CharacterID != "char-1" {
		t.Fatalf("character = %q, want char-1", withCharacter.CharacterID)
	}
	without, err := store.GetCampaignMember(ctx, "c1", "p2")
	if err != nil {
		t.Fatalf("get member p2: %v", err)
	}
	if without.CharacterID != "" {
		t.Fatalf("character = %q, want empty", without.CharacterID)
	}
	if _, err := store.GetCampaignMember(ctx, "c1", "dm"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("dm membership err = %v, want ErrNotFound", err)
	}
}

func TestGetUserAndCampaign(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCampaign(t, store)
	ctx := context.Background()

	user, err := store.GetUser(ctx, "p1")
	if err != nil || user.Username != "rogue" {
		t.Fatalf("GetUser = (%+v, %v)", user, err)
	}
	if _, err := store.GetUser(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
	campaign, err := store.GetCampaign(ctx, "c1")
	if err != nil || campaign.DMID != "dm" {
		t.Fatalf("GetCampaign = (%+v, %v)", campaign, err)
	}
}

func TestStoreRejectsCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetMapSession(ctx, "m1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
