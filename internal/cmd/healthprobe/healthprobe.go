// Package healthprobe checks that a map session process reports SERVING on
// its gRPC health listener. Container health checks run it.
package healthprobe

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	entrypoint "github.com/dndtoolbox/toolbox/internal/platform/cmd"
	platformgrpc "github.com/dndtoolbox/toolbox/internal/platform/grpc"
	"github.com/dndtoolbox/toolbox/internal/platform/timeouts"
)

// Config holds probe configuration.
type Config struct {
	Addr    string        `env:"DNDTOOLBOX_MAPSESSION_GRPC_ADDR" envDefault:"localhost:8091"`
	Service string        `env:"DNDTOOLBOX_HEALTHPROBE_SERVICE"  envDefault:"mapsession"`
	Timeout time.Duration `env:"DNDTOOLBOX_HEALTHPROBE_TIMEOUT"  envDefault:"5s"`
	Verbose bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "gRPC health address")
	fs.StringVar(&cfg.Service, "service", cfg.Service, "health service name (empty checks the whole server)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "give up after this long")
	fs.BoolVar(&cfg.Verbose, "v", false, "log each health attempt")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run dials cfg.Addr and waits for SERVING, writing the outcome to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return fmt.Errorf("health address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.GRPCDial
	}
	var logf func(string, ...any)
	if cfg.Verbose {
		logf = log.Printf
	}

	conn, err := platformgrpc.DialWithHealth(ctx, addr, strings.TrimSpace(cfg.Service), timeout, logf)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	defer conn.Close()
	_, err = fmt.Fprintf(out, "%s SERVING\n", addr)
	return err
}
