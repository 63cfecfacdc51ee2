// Package devtoken mints identity tokens for local development so the map
// session service can be exercised without the account service.
package devtoken

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/dndtoolbox/toolbox/internal/platform/cmd"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/auth"
)

const cookieName = "dnd_token"

// Config holds token minting configuration.
type Config struct {
	TokenSecret   string `env:"DNDTOOLBOX_AUTH_TOKEN_SECRET"`
	TokenIssuer   string `env:"DNDTOOLBOX_AUTH_TOKEN_ISSUER"   envDefault:"dndtoolbox-auth"`
	TokenAudience string `env:"DNDTOOLBOX_AUTH_TOKEN_AUDIENCE" envDefault:"dndtoolbox-mapsession"`
	UserID        string
	Username      string
	TTL           time.Duration
}

// ParseConfig reads token settings from the environment, then flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{TTL: 12 * time.Hour}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "user id to put in the token subject")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "display name claim")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "hex-encoded HMAC secret")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "token issuer")
	fs.StringVar(&cfg.TokenAudience, "token-audience", cfg.TokenAudience, "token audience")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints a token and writes it with a ready-to-use cookie header.
func Run(cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return errors.New("user id is required")
	}
	secret, err := auth.ParseSecret(cfg.TokenSecret)
	if err != nil {
		return err
	}
	token, err := auth.Mint(auth.Config{
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		Secret:   secret,
	}, cfg.UserID, cfg.Username, cfg.TTL)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	if _, err := fmt.Fprintf(out, "%s\n", token); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Cookie: %s=%s\n", cookieName, token)
	return err
}
