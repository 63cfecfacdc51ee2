package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	platformgrpc "github.com/dndtoolbox/toolbox/internal/platform/grpc"
	"github.com/dndtoolbox/toolbox/internal/platform/timeouts"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/auth"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/presence"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/room"
	storesqlite "github.com/dndtoolbox/toolbox/internal/services/mapsession/storage/sqlite"
)

// HealthService is the gRPC health service name reported by the process.
const HealthService = "mapsession"

// Config defines the inputs for the map session process.
type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	DBPath            string
	AllowedOrigins    []string
	TokenSecret       []byte
	TokenIssuer       string
	TokenAudience     string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the map session HTTP/WebSocket listener and its gRPC health
// listener.
type Server struct {
	listener        net.Listener
	httpServer      *http.Server
	health          *platformgrpc.HealthServer
	store           *storesqlite.Store
	shutdownTimeout time.Duration
	closeOnce       sync.Once
}

// NewServer opens the store and binds both listeners.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Issuer:   config.TokenIssuer,
		Audience: config.TokenAudience,
		Secret:   config.TokenSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	store, err := storesqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	srv := &Server{store: store, shutdownTimeout: config.ShutdownTimeout}

	sessionEngine, err := engine.New(engine.Deps{
		Presence: presence.NewRegistry(),
		Rooms:    room.NewManager(),
		Sessions: store,
		Members:  store,
	})
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	handler, err := NewHandler(HandlerDeps{
		Engine:         sessionEngine,
		Sessions:       store,
		Catalog:        store,
		Members:        store,
		Authenticator:  verifier,
		AllowedOrigins: config.AllowedOrigins,
	})
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("init handler: %w", err)
	}

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	srv.listener = listener
	srv.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if grpcAddr := strings.TrimSpace(config.GRPCAddr); grpcAddr != "" {
		health, err := platformgrpc.NewHealthServer(grpcAddr, HealthService)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("init health server: %w", err)
		}
		srv.health = health
	}
	return srv, nil
}

// Run builds a server and serves until ctx ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init mapsession server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve mapsession: %w", err)
	}
	return nil
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HealthAddr returns the bound gRPC health address, or "" when disabled.
func (s *Server) HealthAddr() string {
	if s == nil {
		return ""
	}
	return s.health.Addr()
}

// ListenAndServe serves HTTP and gRPC health until ctx ends, then drains
// HTTP connections within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("mapsession server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	healthErr := make(chan error, 1)
	if s.health != nil {
		go func() {
			healthErr <- s.health.Serve(healthCtx)
		}()
	}

	serveErr := make(chan error, 1)
	log.Printf("mapsession server listening on %s", s.listener.Addr())
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.SetNotServing()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-healthErr:
		_ = s.httpServer.Close()
		if err != nil {
			return err
		}
		return errors.New("gRPC health server stopped")
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases listeners and the store.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.httpServer != nil {
			_ = s.httpServer.Close()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.health.Close()
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				log.Printf("close mapsession store: %v", err)
			}
		}
	})
}
