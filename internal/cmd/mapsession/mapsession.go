// Package mapsession parses map session command flags and composes the
// service entrypoint.
package mapsession

import (
	"context"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/dndtoolbox/toolbox/internal/platform/cmd"
	"github.com/dndtoolbox/toolbox/internal/platform/config"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/app"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/auth"
)

// Config holds map session command configuration.
type Config struct {
	HTTPAddr       string `env:"DNDTOOLBOX_MAPSESSION_HTTP_ADDR"       envDefault:":8090"`
	GRPCAddr       string `env:"DNDTOOLBOX_MAPSESSION_GRPC_ADDR"       envDefault:":8091"`
	DBPath         string `env:"DNDTOOLBOX_MAPSESSION_DB_PATH"         envDefault:"data/toolbox.db"`
	AllowedOrigins string `env:"DNDTOOLBOX_MAPSESSION_ALLOWED_ORIGINS" envDefault:"https://dndtoolbox.com,http://localhost:5173"`
	TokenSecret    string `env:"DNDTOOLBOX_AUTH_TOKEN_SECRET"`
	TokenIssuer    string `env:"DNDTOOLBOX_AUTH_TOKEN_ISSUER"          envDefault:"dndtoolbox-auth"`
	TokenAudience  string `env:"DNDTOOLBOX_AUTH_TOKEN_AUDIENCE"        envDefault:"dndtoolbox-mapsession"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP and WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "comma-separated WebSocket origins (empty allows any)")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "hex-encoded identity token HMAC secret")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "expected identity token issuer")
	fs.StringVar(&cfg.TokenAudience, "token-audience", cfg.TokenAudience, "expected identity token audience")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := config.RequireValue("token-secret", cfg.TokenSecret); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the map session app and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	secret, err := auth.ParseSecret(cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("parse token secret: %w", err)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMapSession, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:       strings.TrimSpace(cfg.HTTPAddr),
			GRPCAddr:       strings.TrimSpace(cfg.GRPCAddr),
			DBPath:         strings.TrimSpace(cfg.DBPath),
			AllowedOrigins: config.SplitList(cfg.AllowedOrigins),
			TokenSecret:    secret,
			TokenIssuer:    cfg.TokenIssuer,
			TokenAudience:  cfg.TokenAudience,
		}); err != nil {
			return fmt.Errorf("serve mapsession: %w", err)
		}
		return nil
	})
}
