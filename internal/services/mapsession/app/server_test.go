package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/dndtoolbox/toolbox/internal/platform/grpc"
)

func testServerConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr:      "127.0.0.1:0",
		GRPCAddr:      "127.0.0.1:0",
		DBPath:        filepath.Join(t.TempDir(), "toolbox.db"),
		TokenSecret:   testTokenConfig.Secret,
		TokenIssuer:   testTokenConfig.Issuer,
		TokenAudience: testTokenConfig.Audience,
	}
}

func TestNewServerRequiresHTTPAddr(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.HTTPAddr = ""
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for empty HTTP address")
	}
}

func TestNewServerRequiresTokenSecret(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.TokenSecret = []byte("short")
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for short token secret")
	}
}

func TestListenAndServeNilServer(t *testing.T) {
	var s *Server
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error for nil server")
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHandler(HandlerDeps{}); err == nil {
		t.Fatal("expected error for missing engine")
	}
}

func TestWSEndpointRejectsPost(t *testing.T) {
	svc := newTestService(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ws", nil)

	svc.srv.Config.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, err := platformgrpc.DialWithHealth(dialCtx, server.HealthAddr(), HealthService, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("dial health: %v", err)
	}
	_ = conn.Close()

	cancel()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func TestServerWithoutHealthListener(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.GRPCAddr = " "
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()
	if server.HealthAddr() != "" {
		t.Fatalf("health addr = %q, want empty", server.HealthAddr())
	}
	if !strings.HasPrefix(server.Addr(), "127.0.0.1:") {
		t.Fatalf("addr = %q", server.Addr())
	}
}
