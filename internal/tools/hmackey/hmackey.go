// Package hmackey generates the identity token signing secret in the
// env-file form the map session service reads.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	defaultEnvName = "DNDTOOLBOX_AUTH_TOKEN_SECRET"
	minBytes       = 32
)

// Config holds configuration for secret generation.
type Config struct {
	Bytes   int
	EnvName string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: minBytes, EnvName: defaultEnvName}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes, at least 32")
	fs.StringVar(&cfg.EnvName, "env-name", cfg.EnvName, "variable name printed before the secret")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the secret and writes NAME=hex to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < minBytes {
		return fmt.Errorf("bytes must be at least %d", minBytes)
	}
	name := strings.TrimSpace(cfg.EnvName)
	if name == "" {
		return errors.New("env name is required")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "%s=%s\n", name, hex.EncodeToString(buf))
	return err
}
