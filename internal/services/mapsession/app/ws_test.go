package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/dndtoolbox/toolbox/internal/services/mapsession/auth"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/presence"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/room"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
	storesqlite "github.com/dndtoolbox/toolbox/internal/services/mapsession/storage/sqlite"
)

var testTokenConfig = auth.Config{
	Issuer:   "dndtoolbox-auth",
	Audience: "dndtoolbox-mapsession",
	Secret:   []byte("0123456789abcdef0123456789abcdef"),
}

type wsTestFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type testService struct {
	srv   *httptest.Server
	store *storesqlite.Store
}

func newTestService(t *testing.T, origins ...string) *testService {
	t.Helper()

	store, err := storesqlite.Open(filepath.Join(t.TempDir(), "toolbox.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	seedStore(t, store)

	verifier, err := auth.NewVerifier(testTokenConfig)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	sessionEngine, err := engine.New(engine.Deps{
		Presence: presence.NewRegistry(),
		Rooms:    room.NewManager(),
		Sessions: store,
		Members:  store,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := NewHandler(HandlerDeps{
		Engine:         sessionEngine,
		Sessions:       store,
		Catalog:        store,
		Members:        store,
		Authenticator:  verifier,
		AllowedOrigins: origins,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testService{srv: srv, store: store}
}

// seedStore creates a campaign c1 run by dm with players p1 (character
// char-1) and p2, an outsider, and a closed map m1 named Crypt.
func seedStore(t *testing.T, store *storesqlite.Store) {
	t.Helper()
	ctx := context.Background()
	for _, user := range []storage.User{
		{ID: "dm", Username: "dungeon"},
		{ID: "p1", Username: "rogue"},
		{ID: "p2", Username: "bard"},
		{ID: "outsider", Username: "stranger"},
	} {
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

func tokenCookie(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.Mint(testTokenConfig, userID, userID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tokenCookieName + "=" + token
}

func dialWSWithServerURL(httpURL string, path string, header http.Header) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + path
	cfg, err := websocket.NewConfig(wsURL, httpURL)
	if err != nil {
		return nil, err
	}
	cfg.Header = header
	return websocket.DialConfig(cfg)
}

// dialAs opens a socket for userID (anonymous when empty) and consumes the
// connected frame.
func (s *testService) dialAs(t *testing.T, userID string, acceptLanguage string) *websocket.Conn {
	t.Helper()
	header := make(http.Header)
	if userID != "" {
		header.Set("Cookie", tokenCookie(t, userID))
	}
	if acceptLanguage != "" {
		header.Set("Accept-Language", acceptLanguage)
	}
	conn, err := dialWSWithServerURL(s.srv.URL, "/ws", header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	if got := readFrame(t, conn); got.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", got.Type)
	}
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func readFrameOfType(t *testing.T, conn *websocket.Conn, want string) wsTestFrame {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != want {
		t.Fatalf("frame type = %q (payload %s), want %q", got.Type, got.Payload, want)
	}
	return got
}

func decodeFramePayload(t *testing.T, frame wsTestFrame) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode %s payload: %v", frame.Type, err)
	}
	return payload
}

func joinMap(t *testing.T, conn *websocket.Conn, mapID string) {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":    "join-room",
		"payload": map[string]any{"map_id": mapID},
	})
	readFrameOfType(t, conn, "member-connected")
	readFrameOfType(t, conn, "initialize-state")
}

func (s *testService) openMap(t *testing.T, mapID string) {
	t.Helper()
	if err := s.store.SetMapOpen(context.Background(), mapID, true); err != nil {
		t.Fatalf("open map: %v", err)
	}
}

func TestWebSocketConnectedFrameCarriesIdentity(t *testing.T) {
	svc := newTestService(t)
	header := make(http.Header)
	header.Set("Cookie", tokenCookie(t, "p1"))
	conn, err := dialWSWithServerURL(svc.srv.URL, "/ws", header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	got := readFrameOfType(t, conn, "connected")
	payload := decodeFramePayload(t, got)
	if payload["user_id"] != "p1" {
		t.Fatalf("user_id = %v, want p1", payload["user_id"])
	}
	if id, _ := payload["connection_id"].(string); id == "" {
		t.Fatal("expected connection id")
	}
}

func TestWebSocketBearerHeaderAuthenticates(t *testing.T) {
	svc := newTestService(t)
	token, err := auth.Mint(testTokenConfig, "p2", "bard", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	conn, err := dialWSWithServerURL(svc.srv.URL, "/ws", header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	payload := decodeFramePayload(t, readFrameOfType(t, conn, "connected"))
	if payload["user_id"] != "p2" {
		t.Fatalf("user_id = %v, want p2", payload["user_id"])
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	svc := newTestService(t)
	header := make(http.Header)
	header.Set("Cookie", tokenCookieName+"=not-a-token")
	conn, err := dialWSWithServerURL(svc.srv.URL, "/ws", header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected handshake to fail for an invalid token")
	}
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	svc := newTestService(t, "https://dndtoolbox.com")
	header := make(http.Header)
	header.Set("Cookie", tokenCookie(t, "p1"))
	conn, err := dialWSWithServerURL(svc.srv.URL, "/ws", header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected handshake to fail for a foreign origin")
	}
}

func TestCheckOriginMatchesAllowList(t *testing.T) {
	h := &handler{origins: map[string]struct{}{"https://dndtoolbox.com": {}}}
	config := &websocket.Config{Version: websocket.ProtocolVersionHybi13}

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "HTTPS://DNDTOOLBOX.COM")
	if err := h.checkOrigin(config, allowed); err != nil {
		t.Fatalf("check allowed origin: %v", err)
	}

	foreign := httptest.NewRequest(http.MethodGet, "/ws", nil)
	foreign.Header.Set("Origin", "https://evil.example")
	if err := h.checkOrigin(config, foreign); err == nil {
		t.Fatal("expected foreign origin to be rejected")
	}

	missing := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if err := h.checkOrigin(config, missing); err == nil {
		t.Fatal("expected missing origin to be rejected")
	}

	open := &handler{origins: map[string]struct{}{}}
	if err := open.checkOrigin(config, foreign); err != nil {
		t.Fatalf("empty allow-list rejected origin: %v", err)
	}
}

func TestWebSocketAnonymousJoinIsUnauthenticated(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "", "")

	writeFrame(t, conn, map[string]any{
		"type":       "join-room",
		"request_id": "req-1",
		"payload":    map[string]any{"map_id": "m1"},
	})
	got := readFrameOfType(t, conn, "error")
	if got.RequestID != "req-1" {
		t.Fatalf("request_id = %q, want req-1", got.RequestID)
	}
	if payload := decodeFramePayload(t, got); payload["code"] != "UNAUTHENTICATED" {
		t.Fatalf("code = %v, want UNAUTHENTICATED", payload["code"])
	}
}

func TestWebSocketClosedMapJoinIsRejected(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "")

	writeFrame(t, conn, map[string]any{
		"type":    "join-room",
		"payload": map[string]any{"map_id": "m1"},
	})
	payload := decodeFramePayload(t, readFrameOfType(t, conn, "join-rejected"))
	if payload["code"] != "SESSION_CLOSED" {
		t.Fatalf("code = %v, want SESSION_CLOSED", payload["code"])
	}
	if reason, _ := payload["reason"].(string); !strings.Contains(reason, "Crypt") {
		t.Fatalf("reason = %q, want map name", reason)
	}
}

func TestWebSocketErrorsAreLocalized(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "pt-BR,pt;q=0.9")

	writeFrame(t, conn, map[string]any{
		"type":    "join-room",
		"payload": map[string]any{"map_id": "missing"},
	})
	payload := decodeFramePayload(t, readFrameOfType(t, conn, "error"))
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("code = %v, want NOT_FOUND", payload["code"])
	}
	if payload["message"] != "Mapa não encontrado" {
		t.Fatalf("message = %v, want pt-BR text", payload["message"])
	}
}

func TestWebSocketDrawingRelayReachesOtherMembers(t *testing.T) {
	svc := newTestService(t)
	svc.openMap(t, "m1")
	dm := svc.dialAs(t, "dm", "")
	player := svc.dialAs(t, "p1", "")

	joinMap(t, dm, "m1")
	joinMap(t, player, "m1")
	joined := decodeFramePayload(t, readFrameOfType(t, dm, "member-connected"))
	if joined["user_id"] != "p1" || joined["character_id"] != "char-1" {
		t.Fatalf("member-connected = %v, want p1 with char-1", joined)
	}

	writeFrame(t, player, map[string]any{
		"type": "add-marker",
		"payload": map[string]any{
			"map_id": "m1",
			"marker": map[string]any{"id": "mk-1", "x": 3, "y": 4, "label": "door"},
		},
	})
	added := decodeFramePayload(t, readFrameOfType(t, dm, "marker-added"))
	marker, _ := added["marker"].(map[string]any)
	if marker["id"] != "mk-1" || marker["label"] != "door" {
		t.Fatalf("marker = %v, want relayed marker", added["marker"])
	}
}

func TestWebSocketOwnerLeaveClosesMap(t *testing.T) {
	svc := newTestService(t)
	svc.openMap(t, "m1")
	dm := svc.dialAs(t, "dm", "")
	player := svc.dialAs(t, "p2", "")
	joinMap(t, dm, "m1")
	joinMap(t, player, "m1")
	readFrameOfType(t, dm, "member-connected")

	writeFrame(t, dm, map[string]any{
		"type":    "leave-room",
		"payload": map[string]any{"map_id": "m1"},
	})
	readFrameOfType(t, dm, "member-disconnected")
	payload := decodeFramePayload(t, readFrameOfType(t, player, "session-force-closed"))
	if payload["reason"] != "The DM has left the map." {
		t.Fatalf("reason = %v", payload["reason"])
	}

	session, err := svc.store.GetMapSession(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get map session: %v", err)
	}
	if session.IsOpen {
		t.Fatal("expected map to be closed after owner left")
	}
}

func TestWebSocketUnknownFieldIsInvalidArgument(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "")

	writeFrame(t, conn, map[string]any{
		"type":    "join-room",
		"payload": map[string]any{"map_id": "m1", "force": true},
	})
	if payload := decodeFramePayload(t, readFrameOfType(t, conn, "error")); payload["code"] != "INVALID_ARGUMENT" {
		t.Fatalf("code = %v, want INVALID_ARGUMENT", payload["code"])
	}

	writeFrame(t, conn, map[string]any{
		"type":    "teleport",
		"payload": map[string]any{},
	})
	if payload := decodeFramePayload(t, readFrameOfType(t, conn, "error")); payload["code"] != "INVALID_ARGUMENT" {
		t.Fatalf("code = %v, want INVALID_ARGUMENT", payload["code"])
	}
}

func TestWebSocketClosesAfterRepeatedDecodeErrors(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "")

	for i := 0; i < maxDecodeErrorsPerConn; i++ {
		if err := websocket.Message.Send(conn, "not json"); err != nil {
			t.Fatalf("send garbage: %v", err)
		}
		readFrameOfType(t, conn, "error")
	}

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err == nil {
		t.Fatalf("expected closed connection, got %s", data)
	}
}

func TestWebSocketRejectsOversizedFrame(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "")

	big := strings.Repeat("x", maxFramePayloadBytes+1)
	if err := websocket.Message.Send(conn, big); err != nil {
		t.Fatalf("send oversized frame: %v", err)
	}
	if payload := decodeFramePayload(t, readFrameOfType(t, conn, "error")); payload["code"] != "INVALID_ARGUMENT" {
		t.Fatalf("code = %v, want INVALID_ARGUMENT", payload["code"])
	}
}

func TestWebSocketDisconnectLeavesRoom(t *testing.T) {
	svc := newTestService(t)
	svc.openMap(t, "m1")
	dm := svc.dialAs(t, "dm", "")
	player := svc.dialAs(t, "p1", "")
	joinMap(t, dm, "m1")
	joinMap(t, player, "m1")
	readFrameOfType(t, dm, "member-connected")

	_ = player.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := getMapAs(t, svc, "dm", "m1")
		if err != nil {
			t.Fatalf("get map: %v", err)
		}
		if len(resp.Participants) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("participants = %d, want 1 after disconnect", len(resp.Participants))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocketRateLimitClosesConnection(t *testing.T) {
	svc := newTestService(t)
	conn := svc.dialAs(t, "p1", "")

	go func() {
		for i := 0; i < maxFramesPerSecond*4; i++ {
			if err := json.NewEncoder(conn).Encode(map[string]any{"type": "teleport", "payload": map[string]any{}}); err != nil {
				return
			}
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	for {
		var got wsTestFrame
		if err := json.NewDecoder(conn).Decode(&got); err != nil {
			t.Fatalf("connection ended before rate limit frame: %v", err)
		}
		if got.Type != "error" {
			t.Fatalf("frame type = %q, want error", got.Type)
		}
		payload := decodeFramePayload(t, got)
		if payload["code"] == "RESOURCE_EXHAUSTED" {
			if payload["retryable"] != true {
				t.Fatalf("retryable = %v, want true", payload["retryable"])
			}
			return
		}
	}
}
